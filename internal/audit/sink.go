// Package audit emits structured orchestrator events to a Redis stream.
// The sink is fire-and-forget: a sink failure is logged and swallowed,
// never surfaced to the operation that emitted the event.
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"alphaforge.app/scout/common/id"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
)

type Sink interface {
	Emit(ctx context.Context, event model.AuditEvent)
	Close() error
}

type redisSink struct {
	client  *redis.Client
	stream  string
	maxLen  int64
	breaker *resilience.Breaker
	logger  *slog.Logger
}

func NewRedisSink(client *redis.Client, stream string, maxLen int64, breaker *resilience.Breaker, logger *slog.Logger) Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisSink{
		client:  client,
		stream:  stream,
		maxLen:  maxLen,
		breaker: breaker,
		logger:  logger,
	}
}

func (s *redisSink) Emit(ctx context.Context, event model.AuditEvent) {
	if event.ID == 0 {
		event.ID = id.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	fields := map[string]any{
		"id":         event.ID,
		"kind":       string(event.Kind),
		"reason":     event.Reason,
		"created_at": event.CreatedAt.Format(time.RFC3339Nano),
	}
	if event.Mode != nil {
		fields["mode"] = string(*event.Mode)
	}
	if event.JobID != nil {
		fields["job_id"] = *event.JobID
	}
	if event.Provider != nil {
		fields["provider"] = *event.Provider
	}
	if event.TraceID != nil && *event.TraceID != "" {
		fields["trace_id"] = *event.TraceID
	}
	if len(event.Detail) > 0 {
		fields["detail"] = string(event.Detail)
	}

	err := s.breaker.Do(func() error {
		return s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			MaxLen: s.maxLen,
			Approx: true,
			Values: fields,
		}).Err()
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit event dropped",
			"kind", string(event.Kind),
			"reason", event.Reason,
			"error", err)
		return
	}

	s.logger.DebugContext(ctx, "audit event emitted",
		"kind", string(event.Kind),
		"reason", event.Reason)
}

func (s *redisSink) Close() error {
	return s.client.Close()
}
