package engine

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/service"
)

var (
	metricsOnce    sync.Once
	metricsInitErr error

	jobsStartedCounter    otelmetric.Int64Counter
	jobsCompletedCounter  otelmetric.Int64Counter
	jobsRequeuedCounter   otelmetric.Int64Counter
	jobsFailedCounter     otelmetric.Int64Counter
	candidatesCounter     otelmetric.Int64Counter
	duplicatesCounter     otelmetric.Int64Counter
	researchCostCounter   otelmetric.Float64Counter
	researchTokensCounter otelmetric.Int64Counter
)

func initEngineMetrics() {
	meter := otel.Meter("scout.engine")

	jobsStartedCounter, metricsInitErr = meter.Int64Counter("scout_jobs_started_total",
		otelmetric.WithDescription("Research jobs claimed and started"))
	if metricsInitErr != nil {
		return
	}
	jobsCompletedCounter, metricsInitErr = meter.Int64Counter("scout_jobs_completed_total",
		otelmetric.WithDescription("Research jobs that reached COMPLETED"))
	if metricsInitErr != nil {
		return
	}
	jobsRequeuedCounter, metricsInitErr = meter.Int64Counter("scout_jobs_requeued_total",
		otelmetric.WithDescription("Research jobs re-queued after a retryable failure"))
	if metricsInitErr != nil {
		return
	}
	jobsFailedCounter, metricsInitErr = meter.Int64Counter("scout_jobs_failed_total",
		otelmetric.WithDescription("Research jobs that reached FAILED"))
	if metricsInitErr != nil {
		return
	}
	candidatesCounter, metricsInitErr = meter.Int64Counter("scout_candidates_stored_total",
		otelmetric.WithDescription("Candidates persisted by the post-processor"))
	if metricsInitErr != nil {
		return
	}
	duplicatesCounter, metricsInitErr = meter.Int64Counter("scout_candidates_duplicate_total",
		otelmetric.WithDescription("Artifacts dropped as fingerprint duplicates"))
	if metricsInitErr != nil {
		return
	}
	researchCostCounter, metricsInitErr = meter.Float64Counter("scout_research_cost_usd_total",
		otelmetric.WithDescription("Provider spend recorded against completed jobs"))
	if metricsInitErr != nil {
		return
	}
	researchTokensCounter, metricsInitErr = meter.Int64Counter("scout_research_tokens_total",
		otelmetric.WithDescription("Provider tokens consumed, split by direction"))
}

func meterReady() bool {
	metricsOnce.Do(initEngineMetrics)
	return metricsInitErr == nil
}

func recordJobStarted(ctx context.Context, job *model.ResearchJob) {
	if !meterReady() {
		return
	}
	jobsStartedCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("mode", string(job.Mode))))
}

func recordJobRequeued(ctx context.Context, job *model.ResearchJob) {
	if !meterReady() {
		return
	}
	jobsRequeuedCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("mode", string(job.Mode))))
}

func recordJobFailed(ctx context.Context, job *model.ResearchJob) {
	if !meterReady() {
		return
	}
	jobsFailedCounter.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("mode", string(job.Mode))))
}

func recordJobCompleted(ctx context.Context, job *model.ResearchJob, summary *model.ResultSummary, outcome service.PostOutcome) {
	if !meterReady() {
		return
	}
	modeAttr := attribute.String("mode", string(job.Mode))
	providerAttr := attribute.String("provider", job.Provider)

	jobsCompletedCounter.Add(ctx, 1, otelmetric.WithAttributes(modeAttr))
	if outcome.Stored > 0 {
		candidatesCounter.Add(ctx, int64(outcome.Stored), otelmetric.WithAttributes(modeAttr))
	}
	if outcome.Duplicates > 0 {
		duplicatesCounter.Add(ctx, int64(outcome.Duplicates), otelmetric.WithAttributes(modeAttr))
	}
	if summary.CostUSD > 0 {
		researchCostCounter.Add(ctx, summary.CostUSD, otelmetric.WithAttributes(providerAttr))
	}
	if summary.InputTokens > 0 {
		researchTokensCounter.Add(ctx, summary.InputTokens, otelmetric.WithAttributes(
			providerAttr, attribute.String("direction", "input")))
	}
	if summary.OutputTokens > 0 {
		researchTokensCounter.Add(ctx, summary.OutputTokens, otelmetric.WithAttributes(
			providerAttr, attribute.String("direction", "output")))
	}
}
