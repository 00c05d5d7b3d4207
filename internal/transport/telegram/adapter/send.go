package adapter

import (
	"context"
	"strings"
	"unicode/utf8"

	kit "pulsebot/internal/transport"

	tele "gopkg.in/telebot.v4"
)

// messageLimit stays under Telegram's 4096 character cap with room for
// Markdown escapes.
const messageLimit = 4000

// SendText sends text, split across several messages when it is too long.
// The returned ref points at the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	so := &tele.SendOptions{}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	chat := &tele.Chat{ID: to.ChatID}

	ref := kit.MessageRef{ChatID: to.ChatID}
	for i, part := range chunkText(text, messageLimit) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		m, err := a.bot.Send(chat, part, so)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = m.ID
		}
	}
	return ref, nil
}

// chunkText packs whole lines into chunks of at most limit runes. A line
// longer than limit is cut at rune boundaries.
func chunkText(s string, limit int) []string {
	if limit <= 0 {
		limit = messageLimit
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var (
		chunks []string
		cur    strings.Builder
		n      int
	)
	flush := func() {
		if t := strings.Trim(cur.String(), "\n"); t != "" {
			chunks = append(chunks, t)
		}
		cur.Reset()
		n = 0
	}
	for _, line := range strings.SplitAfter(s, "\n") {
		ln := utf8.RuneCountInString(line)
		if n+ln > limit {
			flush()
		}
		for ln > limit {
			r := []rune(line)
			chunks = append(chunks, string(r[:limit]))
			line = string(r[limit:])
			ln -= limit
		}
		cur.WriteString(line)
		n += ln
	}
	flush()
	return chunks
}
