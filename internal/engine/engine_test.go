package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

var _ = Describe("Engine", func() {
	var (
		ctx          context.Context
		jobs         *mockJobStore
		fingerprints *mockFingerprintStore
		states       *mockStateStore
		sink         *mockSink
		admission    *mockAdmission
		gatekeeper   *mockGatekeeper
		post         *mockPostProcessor
		registry     *provider.Registry
		tracker      *service.StateTracker
		ctrl         *Controller
		eng          *Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
		jobs = &mockJobStore{}
		fingerprints = &mockFingerprintStore{}
		states = &mockStateStore{}
		sink = &mockSink{}
		admission = &mockAdmission{}
		gatekeeper = &mockGatekeeper{}
		post = &mockPostProcessor{}
		registry = provider.NewRegistry()
		registry.Register(string(model.LLMRoleScan), &fakeClient{})
		registry.Register(string(model.LLMRoleDeep), &fakeClient{name: provider.NameAnthropic})

		tracker = service.NewStateTracker(states, sink, resilience.NewBreaker(resilience.BreakerConfig{}))
		Expect(tracker.Load(ctx, true)).To(Succeed())

		ctrl = NewController(3, ControllerDeps{
			Jobs:          jobs,
			Providers:     registry,
			Executor:      resilience.NewExecutor(2, time.Millisecond),
			PostProcessor: post,
			Gatekeeper:    gatekeeper,
			State:         tracker,
			Sink:          sink,
		})
		eng = New(Config{
			TickInterval:        time.Minute,
			MaxConcurrentJobs:   3,
			DailyCostCeilingUSD: 100,
			JanitorInterval:     time.Hour,
		}, ctrl, admission, tracker, jobs, fingerprints)
	})

	Describe("Trigger", func() {
		It("should admit, mark the mode run, and drain the queued job", func() {
			queued := model.ResearchJob{
				ID:         7,
				Mode:       model.ModeNewsPulse,
				Status:     model.JobStatusQueued,
				Provider:   provider.NameOpenAI,
				MaxRetries: 2,
			}
			admission.enqueueFn = func(_ context.Context, mode model.Mode, snapshot json.RawMessage, source string) (*model.ResearchJob, *service.Blocked, error) {
				Expect(source).To(Equal("manual"))
				var fields map[string]string
				Expect(json.Unmarshal(snapshot, &fields)).To(Succeed())
				Expect(fields["trigger"]).To(Equal("manual"))
				Expect(fields["note"]).To(Equal("checking the wires"))
				jobCopy := queued
				return &jobCopy, nil, nil
			}
			serveQueue(jobs, []model.ResearchJob{queued})

			job, blocked, err := eng.Trigger(ctx, model.ModeNewsPulse, "checking the wires")

			Expect(err).NotTo(HaveOccurred())
			Expect(blocked).To(BeNil())
			Expect(job).NotTo(BeNil())
			Expect(job.ID).To(Equal(int64(7)))

			_, ok := tracker.LastRun(model.ModeNewsPulse)
			Expect(ok).To(BeTrue())

			ctrl.Wait()
			completes := jobs.Completes()
			Expect(completes).To(HaveLen(1))
			Expect(completes[0].ID).To(Equal(int64(7)))
		})

		It("should skip the drain when the job parks as deferred", func() {
			listed := false
			jobs.listRunnableFn = func(_ context.Context, _ time.Time, _ int) ([]model.ResearchJob, error) {
				listed = true
				return nil, nil
			}
			admission.enqueueFn = func(_ context.Context, mode model.Mode, _ json.RawMessage, _ string) (*model.ResearchJob, *service.Blocked, error) {
				return &model.ResearchJob{ID: 8, Mode: mode, Status: model.JobStatusDeferred}, nil, nil
			}

			job, blocked, err := eng.Trigger(ctx, model.ModeDeepDive, "")

			Expect(err).NotTo(HaveOccurred())
			Expect(blocked).To(BeNil())
			Expect(job.Status).To(Equal(model.JobStatusDeferred))
			Expect(listed).To(BeFalse())

			_, ok := tracker.LastRun(model.ModeDeepDive)
			Expect(ok).To(BeTrue())
		})

		It("should pass a refusal through without marking the mode", func() {
			admission.enqueueFn = func(_ context.Context, _ model.Mode, _ json.RawMessage, _ string) (*model.ResearchJob, *service.Blocked, error) {
				return nil, &service.Blocked{Reason: "orchestrator is disabled"}, nil
			}

			job, blocked, err := eng.Trigger(ctx, model.ModeNewsPulse, "")

			Expect(err).NotTo(HaveOccurred())
			Expect(job).To(BeNil())
			Expect(blocked).NotTo(BeNil())
			Expect(blocked.Reason).To(Equal("orchestrator is disabled"))

			_, ok := tracker.LastRun(model.ModeNewsPulse)
			Expect(ok).To(BeFalse())
		})

		It("should propagate admission errors", func() {
			admission.enqueueFn = func(_ context.Context, _ model.Mode, _ json.RawMessage, _ string) (*model.ResearchJob, *service.Blocked, error) {
				return nil, nil, errors.New("unknown research mode")
			}

			_, _, err := eng.Trigger(ctx, model.Mode("mystery"), "")

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Status", func() {
		It("should assemble the operator snapshot with per-mode schedules", func() {
			jobs.countByStatusFn = func(_ context.Context) (map[model.JobStatus]int, error) {
				return map[model.JobStatus]int{
					model.JobStatusQueued: 2,
					model.JobStatusFailed: 1,
				}, nil
			}

			now := time.Date(2026, 3, 14, 9, 10, 0, 0, time.UTC)
			eng.now = func() time.Time { return now }

			lastNews := time.Date(2026, 3, 14, 9, 3, 0, 0, time.UTC)
			tracker.MarkModeRun(ctx, model.ModeNewsPulse, lastNews)
			tracker.MarkModeRun(ctx, model.ModeThemeExplorer, now.Add(-5*time.Hour))
			tracker.AddDailyCost(ctx, 12.5)
			tracker.IncrDailyJobs(ctx)

			status, err := eng.Status(ctx)

			Expect(err).NotTo(HaveOccurred())
			Expect(status.Enabled).To(BeTrue())
			Expect(status.ActiveJobs).To(BeZero())
			Expect(status.MaxConcurrentJobs).To(Equal(3))
			Expect(status.DailyCostUSD).To(Equal(12.5))
			Expect(status.DailyCostCeilingUSD).To(Equal(100.0))
			Expect(status.DailyJobs).To(Equal(1))
			Expect(status.JobCounts[model.JobStatusQueued]).To(Equal(2))
			Expect(status.Modes).To(HaveLen(4))

			byMode := map[model.Mode]ModeStatus{}
			for _, ms := range status.Modes {
				byMode[ms.Mode] = ms
			}

			news := byMode[model.ModeNewsPulse]
			Expect(news.LastRunAt).NotTo(BeNil())
			Expect(*news.LastRunAt).To(Equal(lastNews))
			// Interval puts the earliest run at 09:33, already on the slot.
			Expect(news.NextRunAt).To(Equal(time.Date(2026, 3, 14, 9, 33, 0, 0, time.UTC)))

			market := byMode[model.ModeMarketScan]
			Expect(market.LastRunAt).To(BeNil())
			// Never ran: next slot after 09:10 is 09:11.
			Expect(market.NextRunAt).To(Equal(time.Date(2026, 3, 14, 9, 11, 0, 0, time.UTC)))

			theme := byMode[model.ModeThemeExplorer]
			// Overdue: earliest clamps to now, next 4h slot after 09:10 is 12:27.
			Expect(theme.NextRunAt).To(Equal(time.Date(2026, 3, 14, 12, 27, 0, 0, time.UTC)))
		})

		It("should propagate a counting failure", func() {
			jobs.countByStatusFn = func(_ context.Context) (map[model.JobStatus]int, error) {
				return nil, errors.New("connection refused")
			}

			_, err := eng.Status(ctx)

			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Start and Stop", func() {
		It("should recover stale jobs before the loops begin, then stop cleanly", func() {
			jobs.listFn = func(_ context.Context, filter store.JobFilter) ([]model.ResearchJob, error) {
				return []model.ResearchJob{
					{ID: 9, Mode: model.ModeNewsPulse, Status: model.JobStatusRunning, Provider: provider.NameOpenAI, RetryCount: 0, MaxRetries: 2},
				}, nil
			}

			Expect(eng.Start(ctx)).To(Succeed())
			Expect(jobs.Requeues()).To(Equal([]requeueCall{{ID: 9, RetryCount: 1}}))

			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			eng.Stop(stopCtx)

			// The janitor purges once on startup before its first tick.
			Expect(fingerprints.PurgeCalls()).To(Equal(1))
		})

		It("should fail fast when stale recovery fails", func() {
			jobs.listFn = func(_ context.Context, _ store.JobFilter) ([]model.ResearchJob, error) {
				return nil, errors.New("connection refused")
			}

			Expect(eng.Start(ctx)).To(HaveOccurred())
		})
	})
})
