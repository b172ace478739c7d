package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

// mockJobStore records terminal transitions under a mutex because job
// goroutines hit it concurrently.
type mockJobStore struct {
	mu         sync.Mutex
	requeues   []requeueCall
	completes  []completeCall
	failures   []failCall
	claimCalls int

	createFn         func(ctx context.Context, job *model.ResearchJob) error
	getByIDFn        func(ctx context.Context, id int64) (*model.ResearchJob, error)
	listFn           func(ctx context.Context, filter store.JobFilter) ([]model.ResearchJob, error)
	listRunnableFn   func(ctx context.Context, now time.Time, limit int) ([]model.ResearchJob, error)
	oldestDeferredFn func(ctx context.Context, mode model.Mode) (*model.ResearchJob, error)
	claimQueuedFn    func(ctx context.Context, id int64, startedAt time.Time) (bool, error)
	promoteFn        func(ctx context.Context, id int64, scheduledFor time.Time) error
	countActiveFn    func(ctx context.Context) (int, error)
	countByStatusFn  func(ctx context.Context) (map[model.JobStatus]int, error)
}

type requeueCall struct {
	ID         int64
	RetryCount int
}

type completeCall struct {
	ID         int64
	RetryCount int
	Result     model.ResultSummary
}

type failCall struct {
	ID         int64
	RetryCount int
	ErrMsg     string
}

func (m *mockJobStore) Create(ctx context.Context, job *model.ResearchJob) error {
	if m.createFn != nil {
		return m.createFn(ctx, job)
	}
	return nil
}

func (m *mockJobStore) GetByID(ctx context.Context, id int64) (*model.ResearchJob, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockJobStore) List(ctx context.Context, filter store.JobFilter) ([]model.ResearchJob, error) {
	if m.listFn != nil {
		return m.listFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockJobStore) ListRunnable(ctx context.Context, now time.Time, limit int) ([]model.ResearchJob, error) {
	if m.listRunnableFn != nil {
		return m.listRunnableFn(ctx, now, limit)
	}
	return nil, nil
}

func (m *mockJobStore) OldestDeferred(ctx context.Context, mode model.Mode) (*model.ResearchJob, error) {
	if m.oldestDeferredFn != nil {
		return m.oldestDeferredFn(ctx, mode)
	}
	return nil, store.ErrNotFound
}

func (m *mockJobStore) ClaimQueued(ctx context.Context, id int64, startedAt time.Time) (bool, error) {
	m.mu.Lock()
	m.claimCalls++
	m.mu.Unlock()
	if m.claimQueuedFn != nil {
		return m.claimQueuedFn(ctx, id, startedAt)
	}
	return true, nil
}

func (m *mockJobStore) Promote(ctx context.Context, id int64, scheduledFor time.Time) error {
	if m.promoteFn != nil {
		return m.promoteFn(ctx, id, scheduledFor)
	}
	return nil
}

func (m *mockJobStore) Requeue(ctx context.Context, id int64, retryCount int, scheduledFor time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requeues = append(m.requeues, requeueCall{ID: id, RetryCount: retryCount})
	return nil
}

func (m *mockJobStore) MarkCompleted(ctx context.Context, id int64, retryCount int, result *model.ResultSummary, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := completeCall{ID: id, RetryCount: retryCount}
	if result != nil {
		call.Result = *result
	}
	m.completes = append(m.completes, call)
	return nil
}

func (m *mockJobStore) MarkFailed(ctx context.Context, id int64, retryCount int, errMsg string, finishedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, failCall{ID: id, RetryCount: retryCount, ErrMsg: errMsg})
	return nil
}

func (m *mockJobStore) CountActive(ctx context.Context) (int, error) {
	if m.countActiveFn != nil {
		return m.countActiveFn(ctx)
	}
	return 0, nil
}

func (m *mockJobStore) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	if m.countByStatusFn != nil {
		return m.countByStatusFn(ctx)
	}
	return map[model.JobStatus]int{}, nil
}

func (m *mockJobStore) Requeues() []requeueCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]requeueCall, len(m.requeues))
	copy(out, m.requeues)
	return out
}

func (m *mockJobStore) Completes() []completeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]completeCall, len(m.completes))
	copy(out, m.completes)
	return out
}

func (m *mockJobStore) Failures() []failCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]failCall, len(m.failures))
	copy(out, m.failures)
	return out
}

type mockFingerprintStore struct {
	mu         sync.Mutex
	purgeCalls int

	purgeExpiredFn func(ctx context.Context, now time.Time) (int64, error)
}

func (m *mockFingerprintStore) GetLive(ctx context.Context, hash string, now time.Time) (*model.CandidateFingerprint, error) {
	return nil, store.ErrNotFound
}

func (m *mockFingerprintStore) RecordHit(ctx context.Context, hash string, seenAt time.Time) error {
	return nil
}

func (m *mockFingerprintStore) Register(ctx context.Context, fp *model.CandidateFingerprint) error {
	return nil
}

func (m *mockFingerprintStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	m.purgeCalls++
	m.mu.Unlock()
	if m.purgeExpiredFn != nil {
		return m.purgeExpiredFn(ctx, now)
	}
	return 0, nil
}

func (m *mockFingerprintStore) PurgeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purgeCalls
}

type mockStateStore struct {
	mu    sync.Mutex
	state *model.OrchestratorState
}

func (m *mockStateStore) Get(ctx context.Context) (*model.OrchestratorState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, store.ErrNotFound
	}
	copied := *m.state
	return &copied, nil
}

func (m *mockStateStore) Save(ctx context.Context, state *model.OrchestratorState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *state
	m.state = &copied
	return nil
}

type mockSink struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (m *mockSink) Emit(_ context.Context, event model.AuditEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
}

func (m *mockSink) Close() error { return nil }

func (m *mockSink) Events() []model.AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *mockSink) Kinds() []model.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	kinds := make([]model.EventKind, 0, len(m.events))
	for _, ev := range m.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

type enqueueCall struct {
	Mode   model.Mode
	Source string
}

type mockAdmission struct {
	mu    sync.Mutex
	calls []enqueueCall

	enqueueFn func(ctx context.Context, mode model.Mode, snapshot json.RawMessage, source string) (*model.ResearchJob, *service.Blocked, error)
}

func (m *mockAdmission) Enqueue(ctx context.Context, mode model.Mode, snapshot json.RawMessage, source string) (*model.ResearchJob, *service.Blocked, error) {
	m.mu.Lock()
	m.calls = append(m.calls, enqueueCall{Mode: mode, Source: source})
	m.mu.Unlock()
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, mode, snapshot, source)
	}
	return nil, nil, nil
}

func (m *mockAdmission) Calls() []enqueueCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]enqueueCall, len(m.calls))
	copy(out, m.calls)
	return out
}

type mockGatekeeper struct {
	mu     sync.Mutex
	spends []spendCall

	checkQuotaFn  func(ctx context.Context, providerName string) (*service.Blocked, error)
	recordSpendFn func(ctx context.Context, providerName string, costUSD float64) error
}

type spendCall struct {
	Provider string
	CostUSD  float64
}

func (m *mockGatekeeper) CheckQuota(ctx context.Context, providerName string) (*service.Blocked, error) {
	if m.checkQuotaFn != nil {
		return m.checkQuotaFn(ctx, providerName)
	}
	return nil, nil
}

func (m *mockGatekeeper) RecordSpend(ctx context.Context, providerName string, costUSD float64) error {
	m.mu.Lock()
	m.spends = append(m.spends, spendCall{Provider: providerName, CostUSD: costUSD})
	m.mu.Unlock()
	if m.recordSpendFn != nil {
		return m.recordSpendFn(ctx, providerName, costUSD)
	}
	return nil
}

func (m *mockGatekeeper) EnsureLedger(ctx context.Context, providerName string, monthlyLimitUSD float64) error {
	return nil
}

func (m *mockGatekeeper) Ledgers(ctx context.Context) ([]model.BudgetLedger, error) {
	return nil, nil
}

func (m *mockGatekeeper) UpdateLedger(ctx context.Context, providerName string, upd service.LedgerUpdate) (*model.BudgetLedger, error) {
	return nil, store.ErrNotFound
}

func (m *mockGatekeeper) Spends() []spendCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]spendCall, len(m.spends))
	copy(out, m.spends)
	return out
}

type mockPostProcessor struct {
	mu    sync.Mutex
	calls int

	processFn func(ctx context.Context, job *model.ResearchJob, artifacts []provider.Artifact) service.PostOutcome
}

func (m *mockPostProcessor) Process(ctx context.Context, job *model.ResearchJob, artifacts []provider.Artifact) service.PostOutcome {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.processFn != nil {
		return m.processFn(ctx, job, artifacts)
	}
	return service.PostOutcome{Stored: len(artifacts)}
}

type mockDrainer struct {
	mu    sync.Mutex
	calls int

	drainFn func(ctx context.Context) int
}

func (m *mockDrainer) Drain(ctx context.Context) int {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.drainFn != nil {
		return m.drainFn(ctx)
	}
	return 0
}

func (m *mockDrainer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// serveQueue wires the job store mock to behave like a real queue: runnable
// listing honors the limit and skips claimed rows, and a claim succeeds
// exactly once per job.
func serveQueue(jobs *mockJobStore, pending []model.ResearchJob) {
	var mu sync.Mutex
	claimed := map[int64]bool{}

	jobs.listRunnableFn = func(_ context.Context, _ time.Time, limit int) ([]model.ResearchJob, error) {
		mu.Lock()
		defer mu.Unlock()
		out := make([]model.ResearchJob, 0, limit)
		for _, j := range pending {
			if claimed[j.ID] {
				continue
			}
			out = append(out, j)
			if len(out) == limit {
				break
			}
		}
		return out, nil
	}
	jobs.claimQueuedFn = func(_ context.Context, id int64, _ time.Time) (bool, error) {
		mu.Lock()
		defer mu.Unlock()
		if claimed[id] {
			return false, nil
		}
		claimed[id] = true
		return true, nil
	}
}

type fakeClient struct {
	name       string
	model      string
	researchFn func(ctx context.Context, req provider.Request) (*provider.Result, error)
}

func (f *fakeClient) Research(ctx context.Context, req provider.Request) (*provider.Result, error) {
	if f.researchFn != nil {
		return f.researchFn(ctx, req)
	}
	return &provider.Result{}, nil
}

func (f *fakeClient) Name() string {
	if f.name == "" {
		return provider.NameOpenAI
	}
	return f.name
}

func (f *fakeClient) Model() string {
	if f.model == "" {
		return "test-model"
	}
	return f.model
}
