package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// Anthropic has no JSON-schema response format, so candidates come back
// through a forced single-purpose tool call instead.
const candidatesToolName = "record_candidates"

type anthropicProvider struct {
	client anthropic.Client
	cfg    Config
}

func newAnthropicProvider(cfg Config) (*anthropicProvider, error) {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}

	return &anthropicProvider{
		client: anthropic.NewClient(opts...),
		cfg:    cfg,
	}, nil
}

func (p *anthropicProvider) Research(ctx context.Context, req Request) (*Result, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 8192
	}

	system := []anthropic.TextBlockParam{
		{Type: "text", Text: req.SystemPrompt},
		{Type: "text", Text: "Report your findings by calling the " + candidatesToolName + " tool exactly once. Do not answer in plain text."},
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.cfg.Model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages: []anthropic.MessageParam{
			{
				Role: anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(req.UserPrompt),
				},
			},
		},
		Tools: []anthropic.ToolUnionParam{
			{
				OfTool: &anthropic.ToolParam{
					Name:        candidatesToolName,
					Description: anthropic.String("Record the research candidates produced by this run."),
					InputSchema: anthropic.ToolInputSchemaParam{
						Type:       "object",
						Properties: researchSchema.Properties,
					},
				},
			},
		},
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic research: %w", err)
	}

	usage := Usage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CostUSD:      p.cfg.cost(resp.Usage.InputTokens, resp.Usage.OutputTokens),
	}

	slog.DebugContext(ctx, "research chat completed",
		"provider", NameAnthropic,
		"model", p.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
		"stop_reason", resp.StopReason)

	for _, block := range resp.Content {
		if block.Type != "tool_use" || block.Name != candidatesToolName {
			continue
		}

		var payload researchPayload
		if err := json.Unmarshal(block.Input, &payload); err != nil {
			slog.WarnContext(ctx, "research payload malformed, discarding",
				"provider", NameAnthropic,
				"error", err)
			return &Result{Usage: usage, Warnings: []string{fmt.Sprintf("malformed payload: %v", err)}}, nil
		}

		artifacts, warnings := convertPayload(payload)
		return &Result{Artifacts: artifacts, Warnings: warnings, Usage: usage}, nil
	}

	return &Result{Usage: usage, Warnings: []string{"response carried no " + candidatesToolName + " call"}}, nil
}

func (p *anthropicProvider) Name() string {
	return NameAnthropic
}

func (p *anthropicProvider) Model() string {
	return p.cfg.Model
}
