package generation

import (
	"fmt"
	"regexp"
	"strings"
)

const insightFormat = "FORMAT YOUR RESPONSE EXACTLY LIKE THIS:\n" +
	"Headline: [One short headline, max 6 words]\n" +
	"Idea: [One sentence business idea, max 15 words]"

// Insight is one parsed idea for a topic.
type Insight struct {
	Topic    string `json:"topic"`
	Headline string `json:"headline"`
	Idea     string `json:"idea"`
}

// IdeaPrompt asks for a single business idea about topic.
func IdeaPrompt(topic string) string {
	return "Generate a quick business idea for " + topic
}

// ExpandPrompt asks for a five point business plan about topic.
func ExpandPrompt(topic string) string {
	return fmt.Sprintf("Create a simple business plan for %s with these points:\n"+
		"1) Market Need (1-2 sentences)\n"+
		"2) Solution (1-2 sentences)\n"+
		"3) Target Users (1 sentence)\n"+
		"4) Revenue Model (1 sentence)\n"+
		"5) Next Steps (1-2 steps)", topic)
}

// FocusPrompt appends the topic focus and the Headline/Idea answer format.
func FocusPrompt(prompt string, topics []string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(prompt))
	if len(topics) > 0 {
		b.WriteString(" focused on ")
		b.WriteString(strings.Join(topics, ", "))
	}
	b.WriteString(". ")
	b.WriteString(insightFormat)
	return b.String()
}

var (
	headlineRe = regexp.MustCompile(`Headline: (.+)`)
	ideaRe     = regexp.MustCompile(`Idea: (.+)`)
)

// ParseInsight extracts the first Headline and Idea lines. Missing lines
// yield empty strings.
func ParseInsight(topic, text string) Insight {
	return Insight{
		Topic:    topic,
		Headline: firstGroup(headlineRe, text),
		Idea:     firstGroup(ideaRe, text),
	}
}

func firstGroup(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
