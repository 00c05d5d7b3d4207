// Package gemini is the Google Gemini backend.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"pulsebot/internal/generation"
	"pulsebot/internal/task/queue"
	logx "pulsebot/pkg/logx"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

type Config struct {
	APIKey       string
	Model        string
	BaseURL      string
	SystemPrompt string
	Temperature  *float32
	MaxTokens    int
}

type Generator struct {
	client *genai.Client
	cfg    Config
	log    logx.Logger
}

func New(ctx context.Context, cfg Config, log logx.Logger) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = generation.DefaultSystemPrompt
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = generation.DefaultMaxTokens
	}

	cc := &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions.BaseURL = cfg.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}
	return &Generator{client: client, cfg: cfg, log: log.With(logx.String("comp", "gemini"))}, nil
}

func (g *Generator) Complete(ctx context.Context, req generation.Request) (string, error) {
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

	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       genai.Ptr(temp),
		MaxOutputTokens:   int32(maxTokens),
	})
	if err != nil {
		return "", g.classify(err)
	}
	text := responseText(resp)
	if text == "" {
		return "", generation.ErrEmptyResponse
	}
	g.log.Debug("completion ok", logx.String("model", model))
	return text, nil
}

func (g *Generator) classify(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return queue.WithStatus(apiErr.Code, fmt.Errorf("gemini: %s", apiErr.Message))
	}
	return fmt.Errorf("gemini: %w", err)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		b.WriteString(p.Text)
	}
	return b.String()
}
