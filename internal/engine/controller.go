package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"alphaforge.app/scout/common/logger"
	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/internal/audit"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

// activeSet tracks the jobs currently running in this process. TryAdd
// reserves a slot before the claim is persisted, so the concurrency bound
// holds even when two drains race.
type activeSet struct {
	mu  sync.Mutex
	max int
	ids map[int64]struct{}
}

func newActiveSet(max int) *activeSet {
	return &activeSet{max: max, ids: make(map[int64]struct{}, max)}
}

func (s *activeSet) TryAdd(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ids) >= s.max {
		return false
	}
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *activeSet) Remove(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, id)
}

func (s *activeSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

func (s *activeSet) Free() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.max - len(s.ids)
}

// Controller runs admitted jobs to a terminal state while holding the
// active set under its concurrency bound. Drain claims eligible QUEUED
// jobs; each claimed job runs on its own goroutine through the retry
// executor, then lands in COMPLETED, FAILED, or back in QUEUED.
type Controller struct {
	jobs       store.JobStore
	providers  *provider.Registry
	prompts    PromptSource
	executor   *resilience.Executor
	post       service.PostProcessor
	gatekeeper service.Gatekeeper
	state      *service.StateTracker
	sink       audit.Sink
	active     *activeSet
	wg         sync.WaitGroup
	now        func() time.Time
}

// ControllerDeps carries the controller's collaborators. All fields are
// required except Prompts, which defaults to the static table.
type ControllerDeps struct {
	Jobs          store.JobStore
	Providers     *provider.Registry
	Prompts       PromptSource
	Executor      *resilience.Executor
	PostProcessor service.PostProcessor
	Gatekeeper    service.Gatekeeper
	State         *service.StateTracker
	Sink          audit.Sink
}

func NewController(maxConcurrent int, deps ControllerDeps) *Controller {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	prompts := deps.Prompts
	if prompts == nil {
		prompts = StaticPrompts{}
	}
	return &Controller{
		jobs:       deps.Jobs,
		providers:  deps.Providers,
		prompts:    prompts,
		executor:   deps.Executor,
		post:       deps.PostProcessor,
		gatekeeper: deps.Gatekeeper,
		state:      deps.State,
		sink:       deps.Sink,
		active:     newActiveSet(maxConcurrent),
		now:        time.Now,
	}
}

// ActiveCount returns how many jobs this process is running right now.
func (c *Controller) ActiveCount() int {
	return c.active.Len()
}

// Drain claims eligible QUEUED jobs up to the free slot count and hands
// each to its own goroutine. It returns the number of jobs started without
// waiting for any of them; jobs left over stay QUEUED for the next drain.
func (c *Controller) Drain(ctx context.Context) int {
	free := c.active.Free()
	if free <= 0 {
		return 0
	}

	runnable, err := c.jobs.ListRunnable(ctx, c.now().UTC(), free)
	if err != nil {
		slog.ErrorContext(ctx, "listing runnable jobs failed", "error", err)
		return 0
	}

	started := 0
	for i := range runnable {
		job := runnable[i]
		if !c.active.TryAdd(job.ID) {
			break
		}

		startedAt := c.now().UTC()
		claimed, err := c.jobs.ClaimQueued(ctx, job.ID, startedAt)
		if err != nil {
			c.active.Remove(job.ID)
			slog.ErrorContext(ctx, "claiming job failed", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			// Another process got there first, or the job left QUEUED.
			c.active.Remove(job.ID)
			continue
		}
		job.Status = model.JobStatusRunning
		job.StartedAt = &startedAt

		c.emitJobEvent(ctx, model.EventJobStarted, &job, "", nil)
		recordJobStarted(ctx, &job)
		started++

		c.wg.Add(1)
		go c.execute(ctx, job)
	}
	return started
}

// Wait blocks until every in-flight job goroutine has unwound. Callers
// bound it with a context deadline at shutdown.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// RecoverStale re-queues jobs a previous process left RUNNING. Each costs
// one retry, same as any other interrupted execution; jobs out of retries
// are failed instead of looping forever.
func (c *Controller) RecoverStale(ctx context.Context) error {
	running := model.JobStatusRunning
	stale, err := c.jobs.List(ctx, store.JobFilter{Status: &running, Limit: 500})
	if err != nil {
		return fmt.Errorf("listing stale jobs: %w", err)
	}

	now := c.now().UTC()
	for i := range stale {
		job := stale[i]
		retries := job.RetryCount + 1
		if retries < job.MaxRetries {
			if err := c.jobs.Requeue(ctx, job.ID, retries, now); err != nil {
				return fmt.Errorf("requeueing stale job %d: %w", job.ID, err)
			}
			slog.InfoContext(ctx, "stale job recovered",
				"job_id", job.ID, "mode", job.Mode, "retry_count", retries)
			c.emitJobEvent(ctx, model.EventStaleJobRecovered, &job, "abandoned by previous process", nil)
			continue
		}

		if err := c.jobs.MarkFailed(ctx, job.ID, retries, "abandoned by previous process, retries exhausted", now); err != nil {
			return fmt.Errorf("failing stale job %d: %w", job.ID, err)
		}
		slog.WarnContext(ctx, "stale job out of retries, marked failed",
			"job_id", job.ID, "mode", job.Mode)
		c.emitJobEvent(ctx, model.EventJobFailed, &job, "abandoned by previous process, retries exhausted", nil)
		recordJobFailed(ctx, &job)
	}
	return nil
}

func (c *Controller) execute(ctx context.Context, job model.ResearchJob) {
	defer c.wg.Done()
	defer c.active.Remove(job.ID)

	traceID := ""
	if job.TraceID != nil {
		traceID = *job.TraceID
	}
	sc := logger.StartSpanFromTraceID(ctx, traceID, "engine.execute_job",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer sc.End()

	ctx = logger.WithLogFields(sc.Context(), logger.LogFields{
		JobID:     logger.Ptr(job.ID),
		Mode:      logger.Ptr(string(job.Mode)),
		Provider:  logger.Ptr(job.Provider),
		Component: "scout.engine.controller",
	})

	spec, ok := job.Mode.Spec()
	if !ok {
		c.failFatal(ctx, &job, fmt.Errorf("unknown research mode %q", job.Mode))
		return
	}
	client, err := c.providers.ForRole(string(spec.Role))
	if err != nil {
		c.failFatal(ctx, &job, err)
		return
	}

	result, attempts, err := c.callProvider(ctx, client, &job)
	if err != nil {
		sc.RecordError(err)
		c.handleFailure(ctx, &job, err)
		return
	}
	c.complete(ctx, &job, result, attempts)
}

// callProvider runs the research call through the retry executor. A panic
// in the provider path is converted to an error so one bad response cannot
// take the engine down with it.
func (c *Controller) callProvider(ctx context.Context, client provider.Client, job *model.ResearchJob) (result *provider.Result, attempts int, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic during job execution", "job_id", job.ID, "panic", r)
			result = nil
			err = fmt.Errorf("panic during execution: %v", r)
		}
	}()

	system, user := c.prompts.Build(job.Mode, job.ContextSnapshot)
	req := provider.Request{SystemPrompt: system, UserPrompt: user}

	err = c.executor.Do(ctx, fmt.Sprintf("%s research call", job.Mode),
		func(ctx context.Context) error {
			attempts++
			r, callErr := client.Research(ctx, req)
			if callErr != nil {
				return callErr
			}
			result = r
			return nil
		},
		func(callErr error) bool {
			return provider.Classify(ctx, callErr) == provider.ClassRetryable
		})
	return result, attempts, err
}

func (c *Controller) complete(ctx context.Context, job *model.ResearchJob, result *provider.Result, attempts int) {
	for _, warning := range result.Warnings {
		slog.WarnContext(ctx, "provider output warning", "job_id", job.ID, "warning", warning)
	}

	outcome := c.post.Process(ctx, job, result.Artifacts)

	if result.Usage.CostUSD > 0 {
		if err := c.gatekeeper.RecordSpend(ctx, job.Provider, result.Usage.CostUSD); err != nil {
			slog.ErrorContext(ctx, "recording spend failed",
				"job_id", job.ID, "provider", job.Provider, "cost_usd", result.Usage.CostUSD, "error", err)
		}
	}

	summary := &model.ResultSummary{
		Artifacts:    len(result.Artifacts),
		Stored:       outcome.Stored,
		Duplicates:   outcome.Duplicates,
		Attempts:     attempts,
		CostUSD:      result.Usage.CostUSD,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}
	if err := c.jobs.MarkCompleted(ctx, job.ID, job.RetryCount, summary, c.now().UTC()); err != nil {
		slog.ErrorContext(ctx, "marking job completed failed", "job_id", job.ID, "error", err)
		return
	}

	detail, _ := json.Marshal(summary)
	c.emitJobEvent(ctx, model.EventJobCompleted, job, "", detail)
	recordJobCompleted(ctx, job, summary, outcome)

	slog.InfoContext(ctx, "job completed",
		"job_id", job.ID,
		"mode", job.Mode,
		"artifacts", summary.Artifacts,
		"stored", summary.Stored,
		"duplicates", summary.Duplicates,
		"attempts", attempts,
		"cost_usd", summary.CostUSD)
}

// handleFailure routes a failed execution by error class: aborted runs go
// back in the queue without costing a retry, retryable failures cost one
// and re-queue until retries run out, and fatal failures stop the job and
// flag the orchestrator for an operator.
func (c *Controller) handleFailure(ctx context.Context, job *model.ResearchJob, err error) {
	// The job's own context may already be cancelled; terminal writes go
	// through a short detached context so shutdown does not strand rows.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	switch provider.Classify(ctx, err) {
	case provider.ClassAborted:
		if requeueErr := c.jobs.Requeue(persistCtx, job.ID, job.RetryCount, c.now().UTC()); requeueErr != nil {
			// Startup recovery will pick the row up if this write lost too.
			slog.WarnContext(ctx, "requeue after abort failed", "job_id", job.ID, "error", requeueErr)
			return
		}
		slog.InfoContext(ctx, "job requeued after aborted execution", "job_id", job.ID)
		c.emitJobEvent(persistCtx, model.EventJobRequeued, job, "execution aborted", nil)
		recordJobRequeued(ctx, job)

	case provider.ClassRetryable:
		retries := job.RetryCount + 1
		if retries < job.MaxRetries {
			if requeueErr := c.jobs.Requeue(persistCtx, job.ID, retries, c.now().UTC()); requeueErr != nil {
				slog.ErrorContext(ctx, "requeue failed", "job_id", job.ID, "error", requeueErr)
				return
			}
			slog.WarnContext(ctx, "job requeued after retryable failure",
				"job_id", job.ID, "retry_count", retries, "max_retries", job.MaxRetries, "error", err)
			c.emitJobEvent(persistCtx, model.EventJobRequeued, job, err.Error(), nil)
			recordJobRequeued(ctx, job)
			return
		}
		c.markFailed(ctx, persistCtx, job, retries, fmt.Sprintf("retries exhausted: %v", err))

	default: // ClassFatal
		c.markFailed(ctx, persistCtx, job, job.RetryCount, err.Error())
		c.state.SetActionRequired(persistCtx,
			fmt.Sprintf("job %d (%s) failed fatally: %v", job.ID, job.Mode, err))
	}
}

func (c *Controller) markFailed(ctx, persistCtx context.Context, job *model.ResearchJob, retries int, msg string) {
	if err := c.jobs.MarkFailed(persistCtx, job.ID, retries, msg, c.now().UTC()); err != nil {
		slog.ErrorContext(ctx, "marking job failed errored", "job_id", job.ID, "error", err)
		return
	}
	slog.ErrorContext(ctx, "job failed", "job_id", job.ID, "mode", job.Mode, "reason", msg)
	c.emitJobEvent(persistCtx, model.EventJobFailed, job, msg, nil)
	recordJobFailed(ctx, job)
}

func (c *Controller) failFatal(ctx context.Context, job *model.ResearchJob, err error) {
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	c.markFailed(ctx, persistCtx, job, job.RetryCount, err.Error())
	c.state.SetActionRequired(persistCtx,
		fmt.Sprintf("job %d (%s) failed fatally: %v", job.ID, job.Mode, err))
}

func (c *Controller) emitJobEvent(ctx context.Context, kind model.EventKind, job *model.ResearchJob, reason string, detail json.RawMessage) {
	c.sink.Emit(ctx, model.AuditEvent{
		Kind:     kind,
		Mode:     &job.Mode,
		JobID:    &job.ID,
		Provider: &job.Provider,
		Reason:   reason,
		Detail:   detail,
		TraceID:  job.TraceID,
	})
}
