package bot

import (
	"strconv"
	"strings"

	kit "pulsebot/internal/transport"
	logx "pulsebot/pkg/logx"
)

// Request is one incoming message as seen by handlers.
type Request struct {
	Message *kit.Message
	Chat    kit.ChatTarget
	UserID  string
	// Command is the lowercased command without slash or bot suffix; empty
	// for plain text.
	Command string
	Args    string
	Text    string
	Logger  logx.Logger
}

func newRequest(m *kit.Message, log logx.Logger) *Request {
	text := strings.TrimSpace(m.Text)
	req := &Request{
		Message: m,
		Chat:    kit.ChatTarget{ChatID: m.ChatID},
		UserID:  strconv.FormatInt(m.FromID, 10),
		Text:    text,
	}
	req.Command, req.Args = parseCommand(text)
	req.Logger = log.With(logx.String("user_id", req.UserID))
	return req
}

// parseCommand splits "/cmd@bot args" into "cmd" and "args".
func parseCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head = head[:at]
	}
	return strings.ToLower(head), strings.TrimSpace(rest)
}
