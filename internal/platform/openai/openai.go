// Package openai is the OpenAI chat-completions backend.
package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pulsebot/internal/generation"
	"pulsebot/internal/task/queue"
	logx "pulsebot/pkg/logx"

	goopenai "github.com/sashabaranov/go-openai"
)

// ErrInvalidKey is returned for keys that cannot be OpenAI secret keys.
// It is not retried.
var ErrInvalidKey = errors.New(`invalid OpenAI API key format: key must start with "sk-"`)

type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Temperature  *float32
	MaxTokens    int
}

type Generator struct {
	client *goopenai.Client
	cfg    Config
	log    logx.Logger
}

// New builds the backend. A malformed key is not rejected here so startup
// can report it through the connectivity check like any other failure.
func New(cfg Config, log logx.Logger) *Generator {
	if cfg.Model == "" {
		cfg.Model = goopenai.GPT3Dot5Turbo
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = generation.DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = generation.DefaultMaxTokens
	}

	cc := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &Generator{
		client: goopenai.NewClientWithConfig(cc),
		cfg:    cfg,
		log:    log.With(logx.String("comp", "openai")),
	}
}

func (g *Generator) Complete(ctx context.Context, req generation.Request) (string, error) {
	if !strings.HasPrefix(g.cfg.APIKey, "sk-") {
		return "", ErrInvalidKey
	}

	system := req.System
	if system == "" {
		system = g.cfg.SystemPrompt
	}
	model := req.Model
	if model == "" {
		model = g.cfg.Model
	}
	temp := generation.DefaultTemperature
	if req.Temperature != nil {
		temp = *req.Temperature
	} else if g.cfg.Temperature != nil {
		temp = *g.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.cfg.MaxTokens
	}

	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: temp,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", g.classify(err)
	}
	if len(resp.Choices) == 0 {
		return "", generation.ErrEmptyResponse
	}
	g.log.Debug("completion ok", logx.String("model", model), logx.Int("tokens", resp.Usage.TotalTokens))
	return resp.Choices[0].Message.Content, nil
}

// classify tags err with the HTTP status so the queue can decide whether to
// retry. Transport errors without a status are never retried.
func (g *Generator) classify(err error) error {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return queue.WithStatus(apiErr.HTTPStatusCode, fmt.Errorf("openai: %s", apiErr.Message))
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return queue.WithStatus(reqErr.HTTPStatusCode, fmt.Errorf("openai: %w", err))
	}
	return fmt.Errorf("openai: %w", err)
}
