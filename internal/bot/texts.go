package bot

import (
	"fmt"
	"strings"

	"pulsebot/internal/generation"
	kit "pulsebot/internal/transport"
)

const (
	msgGenericError    = "Sorry, something went wrong. Please try again later."
	msgStartFirst      = "Please use /start to set up your account first."
	msgDeliveryFailed  = "Sorry, I encountered an issue. Please try again in a minute by sending /now"
	msgGenerating      = "🔍 Generating your personalized insights... This may take a moment."
	msgExpandUsage     = `Please specify a topic to expand. Example: "Expand AI" or "Expand Startups"`
	msgExpandFailed    = "Sorry, I had trouble expanding this topic. Please try again later."
	msgInvalidTime     = "⚠️ Invalid time format. Please use HH:MM format (e.g., 09:00)."
	msgNoTopics        = "⚠️ Please provide at least one topic."
	msgInvalidTimezone = `⚠️ Invalid timezone. Please use a valid timezone like "America/New_York" or "UTC".`

	msgAskTime = "🛠️ Please reply with your preferred daily drop time (24h format, e.g., 09:00):\n\n" +
		"Example: 08:30"
	msgAskTopics = "🧠 Please reply with your topics separated by commas\n\n" +
		"Example: AI, Health, Finance, Crypto, Climate"
	msgAskTimezone = "🌐 Please reply with your timezone (e.g., UTC, America/New_York, Europe/London)\n\n" +
		"Example: America/Los_Angeles"

	msgStopped = "⏸️ Your subscription has been paused. You will no longer receive daily updates.\n\n" +
		"Use /start to reactivate your subscription anytime."

	msgHelp = "📚 PulseBot Help\n\n" +
		"PulseBot delivers personalized startup ideas, trends, and news summaries.\n\n" +
		"Commands:\n" +
		"• /start - Initialize your account\n" +
		"• /settings - Change delivery time\n" +
		"• /topics - Set your interests\n" +
		"• /timezone - Set your timezone\n" +
		"• /now - Get insights right now\n" +
		"• /help - Show this help message\n" +
		"• /stop - Pause your subscription\n\n" +
		`Reply "Expand <topic>" to any idea to get a detailed MVP outline.`
)

// Commands is the command menu published to the chat platform.
func Commands() []kit.BotCommand {
	return []kit.BotCommand{
		{Command: "start", Description: "Initialize your account"},
		{Command: "settings", Description: "Change delivery time"},
		{Command: "topics", Description: "Set your interests"},
		{Command: "timezone", Description: "Set your timezone"},
		{Command: "now", Description: "Get insights right now"},
		{Command: "help", Description: "Show help"},
		{Command: "stop", Description: "Pause your subscription"},
	}
}

func welcomeText(name, dailyTime, tz string) string {
	return fmt.Sprintf("🚀 Welcome to PulseBot, %s!\n\n"+
		"You will receive daily startup ideas, trends, and summaries at %s %s.\n\n"+
		"Commands:\n"+
		"• /settings - Change delivery time\n"+
		"• /topics - Set your interests\n"+
		"• /timezone - Set your timezone\n"+
		"• /now - Get insights right now", name, dailyTime, tz)
}

var mdEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

// escapeMarkdown escapes the characters that legacy Telegram Markdown treats
// as entity markers.
func escapeMarkdown(s string) string { return mdEscaper.Replace(s) }

// FormatDigest renders insights as a Telegram Markdown message.
func FormatDigest(insights []generation.Insight) string {
	entries := make([]string, 0, len(insights))
	for _, in := range insights {
		topic := escapeMarkdown(in.Topic)
		entries = append(entries, fmt.Sprintf("📌 *%s*\n💡 *%s*\n%s\n\nType \"Expand %s\" for business plan",
			topic, escapeMarkdown(in.Headline), escapeMarkdown(in.Idea), topic))
	}
	return "🎯 *Quick Business Ideas*\n\n" + strings.Join(entries, "\n\n") +
		"\n\nType \"Expand [Topic]\" for detailed plan"
}
