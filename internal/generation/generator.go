package generation

import "context"

// DefaultSystemPrompt keeps answers short enough for a chat message.
const DefaultSystemPrompt = "You are a concise business idea generator. Generate very short, clear ideas. Keep headlines under 6 words and ideas under 15 words."

const (
	DefaultTemperature float32 = 0.7
	DefaultMaxTokens           = 500
)

// Request is one completion call. Empty fields take the backend defaults.
type Request struct {
	System      string
	Prompt      string
	Model       string
	Temperature *float32
	MaxTokens   int
}

// Generator is implemented by the LLM backends.
//
// Complete attaches the upstream HTTP status with queue.WithStatus so the
// queue can decide whether the call was throttled.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
