package adapter

import (
	"strings"
	"testing"
	"unicode/utf8"

	kit "pulsebot/internal/transport"
)

func TestChunkText(t *testing.T) {
	t.Parallel()
	if got := chunkText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("split(short) = %q", got)
	}

	entry := strings.Repeat("x", 30) + "\n"
	text := strings.Repeat(entry, 10) // 310 runes
	got := chunkText(text, 100)
	if len(got) < 4 {
		t.Fatalf("chunks = %d, want >= 4", len(got))
	}
	for i, c := range got {
		if utf8.RuneCountInString(c) > 100 {
			t.Fatalf("chunk %d has %d runes", i, utf8.RuneCountInString(c))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d not trimmed: %q", i, c)
		}
		for _, line := range strings.Split(c, "\n") {
			if len(line) != 30 {
				t.Fatalf("chunk %d split inside a line: %q", i, line)
			}
		}
	}

	// No newline to break on: hard split, multi-byte safe.
	emoji := strings.Repeat("💡", 25)
	hard := chunkText(emoji, 10)
	if len(hard) != 3 || strings.Join(hard, "") != emoji {
		t.Fatalf("hard split = %q", hard)
	}
}

func TestMenuHashChangesWithCommands(t *testing.T) {
	t.Parallel()
	a := []kit.BotCommand{{Command: "start", Description: "Start"}}
	b := []kit.BotCommand{{Command: "start", Description: "Begin"}}
	if menuHash(a) == menuHash(b) {
		t.Fatal("hash ignores description")
	}
	if menuHash(a) != menuHash([]kit.BotCommand{{Command: "start", Description: "Start"}}) {
		t.Fatal("hash not stable")
	}
}
