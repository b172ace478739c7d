package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"alphaforge.app/scout/common/provider"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
	"alphaforge.app/scout/internal/service"
	"alphaforge.app/scout/internal/store"
)

var _ = Describe("Controller", func() {
	var (
		ctx        context.Context
		jobs       *mockJobStore
		states     *mockStateStore
		sink       *mockSink
		gatekeeper *mockGatekeeper
		post       *mockPostProcessor
		registry   *provider.Registry
		tracker    *service.StateTracker
	)

	BeforeEach(func() {
		ctx = context.Background()
		jobs = &mockJobStore{}
		states = &mockStateStore{}
		sink = &mockSink{}
		gatekeeper = &mockGatekeeper{}
		post = &mockPostProcessor{}
		registry = provider.NewRegistry()

		tracker = service.NewStateTracker(states, sink, resilience.NewBreaker(resilience.BreakerConfig{}))
		Expect(tracker.Load(ctx, true)).To(Succeed())
	})

	newController := func(maxConcurrent, maxAttempts int) *Controller {
		return NewController(maxConcurrent, ControllerDeps{
			Jobs:          jobs,
			Providers:     registry,
			Executor:      resilience.NewExecutor(maxAttempts, time.Millisecond),
			PostProcessor: post,
			Gatekeeper:    gatekeeper,
			State:         tracker,
			Sink:          sink,
		})
	}

	queuedJob := func(id int64, retryCount, maxRetries int) model.ResearchJob {
		return model.ResearchJob{
			ID:         id,
			Mode:       model.ModeNewsPulse,
			Status:     model.JobStatusQueued,
			Provider:   provider.NameOpenAI,
			RetryCount: retryCount,
			MaxRetries: maxRetries,
			CreatedAt:  time.Now().UTC(),
		}
	}

	Describe("Drain", func() {
		It("should hold the concurrency bound and pick up the rest on a later drain", func() {
			serveQueue(jobs, []model.ResearchJob{
				queuedJob(1, 0, 2), queuedJob(2, 0, 2), queuedJob(3, 0, 2),
				queuedJob(4, 0, 2), queuedJob(5, 0, 2),
			})

			release := make(chan struct{})
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					<-release
					return &provider.Result{}, nil
				},
			})

			ctrl := newController(3, 1)

			Expect(ctrl.Drain(ctx)).To(Equal(3))
			Expect(ctrl.ActiveCount()).To(Equal(3))

			// Saturated: a second drain must not start anything.
			Expect(ctrl.Drain(ctx)).To(BeZero())

			close(release)
			ctrl.Wait()
			Expect(ctrl.ActiveCount()).To(BeZero())
			Expect(jobs.Completes()).To(HaveLen(3))

			Expect(ctrl.Drain(ctx)).To(Equal(2))
			ctrl.Wait()
			Expect(jobs.Completes()).To(HaveLen(5))
			Expect(jobs.Requeues()).To(BeEmpty())
			Expect(jobs.Failures()).To(BeEmpty())
		})

		It("should release the reserved slot when another process wins the claim", func() {
			jobs.listRunnableFn = func(_ context.Context, _ time.Time, limit int) ([]model.ResearchJob, error) {
				return []model.ResearchJob{queuedJob(1, 0, 2), queuedJob(2, 0, 2)}, nil
			}
			jobs.claimQueuedFn = func(_ context.Context, id int64, _ time.Time) (bool, error) {
				return id == 2, nil
			}
			registry.Register(string(model.LLMRoleScan), &fakeClient{})

			ctrl := newController(3, 1)

			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(ctrl.ActiveCount()).To(BeZero())
			completes := jobs.Completes()
			Expect(completes).To(HaveLen(1))
			Expect(completes[0].ID).To(Equal(int64(2)))
		})

		It("should start nothing when listing runnable jobs fails", func() {
			jobs.listRunnableFn = func(_ context.Context, _ time.Time, _ int) ([]model.ResearchJob, error) {
				return nil, errors.New("connection refused")
			}
			ctrl := newController(3, 1)

			Expect(ctrl.Drain(ctx)).To(BeZero())
			Expect(ctrl.ActiveCount()).To(BeZero())
		})
	})

	Describe("execution", func() {
		It("should absorb transient provider failures inside a single execution", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 0, 2)})

			var mu sync.Mutex
			calls := 0
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					mu.Lock()
					defer mu.Unlock()
					calls++
					if calls < 4 {
						return nil, errors.New("connection reset by peer")
					}
					return &provider.Result{
						Artifacts: []provider.Artifact{{Category: "momentum", Thesis: "rotation"}},
						Usage:     provider.Usage{CostUSD: 0.42, InputTokens: 1200, OutputTokens: 300},
					}, nil
				},
			})

			ctrl := newController(1, 4)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Requeues()).To(BeEmpty())
			Expect(jobs.Failures()).To(BeEmpty())

			completes := jobs.Completes()
			Expect(completes).To(HaveLen(1))
			Expect(completes[0].RetryCount).To(BeZero())
			Expect(completes[0].Result.Attempts).To(Equal(4))
			Expect(completes[0].Result.Artifacts).To(Equal(1))
			Expect(completes[0].Result.CostUSD).To(Equal(0.42))

			spends := gatekeeper.Spends()
			Expect(spends).To(HaveLen(1))
			Expect(spends[0].Provider).To(Equal(provider.NameOpenAI))
			Expect(spends[0].CostUSD).To(Equal(0.42))

			Expect(sink.Kinds()).To(ContainElement(model.EventJobStarted))
			Expect(sink.Kinds()).To(ContainElement(model.EventJobCompleted))
		})

		It("should requeue with one more retry when every attempt fails", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 0, 2)})
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					return nil, errors.New("upstream unavailable")
				},
			})

			ctrl := newController(1, 1)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Requeues()).To(Equal([]requeueCall{{ID: 1, RetryCount: 1}}))
			Expect(jobs.Failures()).To(BeEmpty())
			Expect(sink.Kinds()).To(ContainElement(model.EventJobRequeued))
		})

		It("should fail the job once the retry budget is exhausted", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 1, 2)})
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					return nil, errors.New("upstream unavailable")
				},
			})

			ctrl := newController(1, 1)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Requeues()).To(BeEmpty())
			failures := jobs.Failures()
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].RetryCount).To(Equal(2))
			Expect(failures[0].ErrMsg).To(ContainSubstring("retries exhausted"))
			Expect(sink.Kinds()).To(ContainElement(model.EventJobFailed))

			flagged, _ := tracker.ActionRequired()
			Expect(flagged).To(BeFalse())
		})

		It("should requeue without consuming a retry when execution is aborted", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 1, 2)})
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					return nil, context.Canceled
				},
			})

			ctrl := newController(1, 3)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Requeues()).To(Equal([]requeueCall{{ID: 1, RetryCount: 1}}))
			Expect(jobs.Failures()).To(BeEmpty())

			var reason string
			for _, ev := range sink.Events() {
				if ev.Kind == model.EventJobRequeued {
					reason = ev.Reason
				}
			}
			Expect(reason).To(Equal("execution aborted"))
		})

		It("should fail fatally and flag the orchestrator when no provider serves the role", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 0, 2)})
			// Nothing registered for the scan role.

			ctrl := newController(1, 1)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Requeues()).To(BeEmpty())
			failures := jobs.Failures()
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].RetryCount).To(BeZero())

			flagged, reason := tracker.ActionRequired()
			Expect(flagged).To(BeTrue())
			Expect(reason).To(ContainSubstring("failed fatally"))
			Expect(sink.Kinds()).To(ContainElement(model.EventActionRequiredSet))
		})

		It("should convert a provider panic into a retryable failure", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 0, 2)})
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					panic("malformed response")
				},
			})

			ctrl := newController(1, 1)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Requeues()).To(Equal([]requeueCall{{ID: 1, RetryCount: 1}}))
			Expect(jobs.Failures()).To(BeEmpty())
		})

		It("should complete the job even when recording spend fails", func() {
			serveQueue(jobs, []model.ResearchJob{queuedJob(1, 0, 2)})
			registry.Register(string(model.LLMRoleScan), &fakeClient{
				researchFn: func(_ context.Context, _ provider.Request) (*provider.Result, error) {
					return &provider.Result{Usage: provider.Usage{CostUSD: 1.5}}, nil
				},
			})
			gatekeeper.recordSpendFn = func(_ context.Context, _ string, _ float64) error {
				return errors.New("ledger write failed")
			}

			ctrl := newController(1, 1)
			Expect(ctrl.Drain(ctx)).To(Equal(1))
			ctrl.Wait()

			Expect(jobs.Completes()).To(HaveLen(1))
			Expect(jobs.Failures()).To(BeEmpty())
		})
	})

	Describe("RecoverStale", func() {
		It("should requeue interrupted jobs and fail the ones out of retries", func() {
			jobs.listFn = func(_ context.Context, filter store.JobFilter) ([]model.ResearchJob, error) {
				Expect(filter.Status).NotTo(BeNil())
				Expect(*filter.Status).To(Equal(model.JobStatusRunning))
				return []model.ResearchJob{
					{ID: 1, Mode: model.ModeNewsPulse, Status: model.JobStatusRunning, Provider: provider.NameOpenAI, RetryCount: 0, MaxRetries: 2},
					{ID: 2, Mode: model.ModeDeepDive, Status: model.JobStatusRunning, Provider: provider.NameAnthropic, RetryCount: 1, MaxRetries: 2},
				}, nil
			}

			ctrl := newController(3, 1)
			Expect(ctrl.RecoverStale(ctx)).To(Succeed())

			Expect(jobs.Requeues()).To(Equal([]requeueCall{{ID: 1, RetryCount: 1}}))

			failures := jobs.Failures()
			Expect(failures).To(HaveLen(1))
			Expect(failures[0].ID).To(Equal(int64(2)))
			Expect(failures[0].RetryCount).To(Equal(2))
			Expect(failures[0].ErrMsg).To(ContainSubstring("abandoned by previous process"))

			Expect(sink.Kinds()).To(ContainElement(model.EventStaleJobRecovered))
			Expect(sink.Kinds()).To(ContainElement(model.EventJobFailed))
		})

		It("should propagate a listing failure", func() {
			jobs.listFn = func(_ context.Context, _ store.JobFilter) ([]model.ResearchJob, error) {
				return nil, errors.New("connection refused")
			}

			ctrl := newController(3, 1)
			Expect(ctrl.RecoverStale(ctx)).To(HaveOccurred())
		})
	})
})
