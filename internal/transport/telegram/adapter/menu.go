package adapter

import (
	"context"
	"hash/fnv"

	kit "pulsebot/internal/transport"
	logx "pulsebot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

// Telegram limits for setMyCommands.
const (
	maxMenuCommands   = 100
	maxMenuDescLength = 256
)

// UpdateMenuCommands publishes the command menu. Telegram is only called
// when the list differs from the last one that succeeded.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	a.menuMu.Lock()
	defer a.menuMu.Unlock()

	sum := menuHash(cmds)
	if sum == a.menuSum {
		return nil
	}
	menu := make([]tele.Command, 0, min(len(cmds), maxMenuCommands))
	for _, c := range cmds {
		if c.Command == "" || len(menu) == maxMenuCommands {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		if len(desc) > maxMenuDescLength {
			desc = desc[:maxMenuDescLength]
		}
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuSum = sum
	a.log.Info("command menu published", logx.Int("count", len(menu)))
	return nil
}

func menuHash(cmds []kit.BotCommand) uint64 {
	h := fnv.New64a()
	for _, c := range cmds {
		h.Write([]byte(c.Command + "\x00" + c.Description + "\x00"))
	}
	return h.Sum64()
}
