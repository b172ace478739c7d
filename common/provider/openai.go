package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

type openaiProvider struct {
	client openai.Client
	cfg    Config
}

func newOpenAIProvider(cfg Config) (*openaiProvider, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	return &openaiProvider{
		client: openai.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *openaiProvider) Research(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 4096
	}

	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "research_candidates",
		Description: openai.String("Structured research candidates"),
		Schema:      researchSchema,
		Strict:      openai.Bool(true),
	}

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(req.SystemPrompt),
		openai.UserMessage(req.UserPrompt),
	}

	params := openai.ChatCompletionNewParams{
		Model:     p.cfg.Model,
		Messages:  messages,
		MaxTokens: openai.Int(int64(maxTokens)),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai research: %w", err)
	}

	usage := Usage{
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		CostUSD:      p.cfg.cost(resp.Usage.PromptTokens, resp.Usage.CompletionTokens),
	}

	slog.DebugContext(ctx, "research chat completed",
		"provider", NameOpenAI,
		"model", p.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens)

	if len(resp.Choices) == 0 {
		return &Result{Usage: usage, Warnings: []string{"response carried no choices"}}, nil
	}

	var payload researchPayload
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &payload); err != nil {
		slog.WarnContext(ctx, "research payload malformed, discarding",
			"provider", NameOpenAI,
			"error", err)
		return &Result{Usage: usage, Warnings: []string{fmt.Sprintf("malformed payload: %v", err)}}, nil
	}

	artifacts, warnings := convertPayload(payload)
	return &Result{Artifacts: artifacts, Warnings: warnings, Usage: usage}, nil
}

func (p *openaiProvider) Name() string {
	return NameOpenAI
}

func (p *openaiProvider) Model() string {
	return p.cfg.Model
}
