package provider

import (
	"context"
	"errors"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// Class sorts provider failures into the three ways a job can react:
// try again, give up and page someone, or just stop.
type Class int

const (
	// ClassRetryable covers rate limits, server errors, and network
	// failures. The job goes back to the queue with backoff.
	ClassRetryable Class = iota
	// ClassFatal covers auth, permission, not-found, and malformed
	// request errors. Retrying cannot help; operator attention is needed.
	ClassFatal
	// ClassAborted covers context cancellation and deadline expiry.
	// The caller gave up, so neither retrying nor flagging applies.
	ClassAborted
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	case ClassAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Classify maps a provider error to its failure class.
func Classify(ctx context.Context, err error) Class {
	if err == nil {
		return ClassAborted
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "provider error not retryable: context cancelled or deadline exceeded")
		return ClassAborted
	}

	var openaiErr *openai.Error
	if errors.As(err, &openaiErr) {
		return classifyStatus(ctx, NameOpenAI, openaiErr.StatusCode)
	}

	var anthropicErr *anthropic.Error
	if errors.As(err, &anthropicErr) {
		return classifyStatus(ctx, NameAnthropic, anthropicErr.StatusCode)
	}

	// Network errors (no API response) are generally retryable
	slog.WarnContext(ctx, "provider network error, will retry", "error", err)
	return ClassRetryable
}

func classifyStatus(ctx context.Context, name string, status int) Class {
	switch {
	case status == 429:
		slog.WarnContext(ctx, "provider rate limited, will retry",
			"provider", name,
			"status_code", status)
		return ClassRetryable
	case status >= 500:
		slog.WarnContext(ctx, "provider server error, will retry",
			"provider", name,
			"status_code", status)
		return ClassRetryable
	default:
		slog.ErrorContext(ctx, "provider client error, not retryable",
			"provider", name,
			"status_code", status)
		return ClassFatal
	}
}
