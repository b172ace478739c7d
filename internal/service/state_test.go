package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/resilience"
	"alphaforge.app/scout/internal/service"
)

var _ = Describe("StateTracker", func() {
	var (
		ctx     context.Context
		states  *mockStateStore
		sink    *mockSink
		tracker *service.StateTracker
	)

	newTracker := func() *service.StateTracker {
		return service.NewStateTracker(states, sink, resilience.NewBreaker(resilience.BreakerConfig{}))
	}

	BeforeEach(func() {
		ctx = context.Background()
		states = &mockStateStore{}
		sink = &mockSink{}
		tracker = newTracker()
	})

	Describe("Load", func() {
		Context("on first boot", func() {
			It("should initialize and persist the state with the default flag", func() {
				Expect(tracker.Load(ctx, true)).To(Succeed())

				Expect(tracker.Enabled()).To(BeTrue())
				saved, err := states.Get(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(saved.Enabled).To(BeTrue())
				Expect(saved.ModeLastRuns).NotTo(BeNil())
			})
		})

		Context("when state was persisted by a previous process", func() {
			It("should prefer the persisted flag over the default", func() {
				Expect(states.Save(ctx, &model.OrchestratorState{
					Enabled:      false,
					LastResetAt:  time.Now().UTC(),
					ModeLastRuns: map[model.Mode]time.Time{},
					UpdatedAt:    time.Now().UTC(),
				})).To(Succeed())

				Expect(tracker.Load(ctx, true)).To(Succeed())

				Expect(tracker.Enabled()).To(BeFalse())
			})
		})

		Context("when the store fails", func() {
			It("should return the error", func() {
				states.getFn = func(_ context.Context) (*model.OrchestratorState, error) {
					return nil, errors.New("connection refused")
				}

				Expect(tracker.Load(ctx, true)).To(HaveOccurred())
			})
		})
	})

	Describe("SetEnabled", func() {
		BeforeEach(func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
		})

		It("should flip the flag and emit the matching event", func() {
			changed := tracker.SetEnabled(ctx, false, "maintenance window")

			Expect(changed).To(BeTrue())
			Expect(tracker.Enabled()).To(BeFalse())
			Expect(sink.Kinds()).To(ContainElement(model.EventOrchestratorDisabled))
		})

		It("should be a no-op when the flag already has the value", func() {
			changed := tracker.SetEnabled(ctx, true, "already on")

			Expect(changed).To(BeFalse())
			Expect(sink.Events()).To(BeEmpty())
		})
	})

	Describe("ResetDailyIfNeeded", func() {
		It("should do nothing within the same UTC day", func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
			tracker.AddDailyCost(ctx, 12.5)
			tracker.IncrDailyJobs(ctx)

			Expect(tracker.ResetDailyIfNeeded(ctx)).To(BeFalse())
			Expect(tracker.DailyCost()).To(Equal(12.5))
			Expect(tracker.DailyJobs()).To(Equal(1))
		})

		It("should zero the accumulators once the UTC day rolls over", func() {
			Expect(states.Save(ctx, &model.OrchestratorState{
				Enabled:      true,
				DailyCostUSD: 31.25,
				DailyJobs:    9,
				LastResetAt:  time.Now().UTC().Add(-25 * time.Hour),
				ModeLastRuns: map[model.Mode]time.Time{},
				UpdatedAt:    time.Now().UTC(),
			})).To(Succeed())
			Expect(tracker.Load(ctx, true)).To(Succeed())

			Expect(tracker.ResetDailyIfNeeded(ctx)).To(BeTrue())

			Expect(tracker.DailyCost()).To(BeZero())
			Expect(tracker.DailyJobs()).To(BeZero())
			Expect(sink.Kinds()).To(ContainElement(model.EventDailyReset))

			Expect(tracker.ResetDailyIfNeeded(ctx)).To(BeFalse())
		})
	})

	Describe("daily accumulators", func() {
		BeforeEach(func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
		})

		It("should accumulate cost and return the running total", func() {
			Expect(tracker.AddDailyCost(ctx, 1.5)).To(Equal(1.5))
			Expect(tracker.AddDailyCost(ctx, 2.25)).To(Equal(3.75))
			Expect(tracker.DailyCost()).To(Equal(3.75))
		})

		It("should count jobs", func() {
			tracker.IncrDailyJobs(ctx)
			tracker.IncrDailyJobs(ctx)
			Expect(tracker.DailyJobs()).To(Equal(2))
		})
	})

	Describe("mode last runs", func() {
		BeforeEach(func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
		})

		It("should round-trip the last enqueue time per mode", func() {
			_, ok := tracker.LastRun(model.ModeNewsPulse)
			Expect(ok).To(BeFalse())

			at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
			tracker.MarkModeRun(ctx, model.ModeNewsPulse, at)

			got, ok := tracker.LastRun(model.ModeNewsPulse)
			Expect(ok).To(BeTrue())
			Expect(got).To(Equal(at))

			_, ok = tracker.LastRun(model.ModeDeepDive)
			Expect(ok).To(BeFalse())
		})
	})

	Describe("action required flag", func() {
		BeforeEach(func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
		})

		It("should stick until cleared and carry the reason", func() {
			tracker.SetActionRequired(ctx, "job 9 failed fatally")

			flagged, reason := tracker.ActionRequired()
			Expect(flagged).To(BeTrue())
			Expect(reason).To(Equal("job 9 failed fatally"))
			Expect(sink.Kinds()).To(ContainElement(model.EventActionRequiredSet))

			Expect(tracker.ClearActionRequired(ctx)).To(BeTrue())
			flagged, reason = tracker.ActionRequired()
			Expect(flagged).To(BeFalse())
			Expect(reason).To(BeEmpty())
			Expect(sink.Kinds()).To(ContainElement(model.EventActionRequiredCleared))
		})

		It("should report false when clearing an unset flag", func() {
			Expect(tracker.ClearActionRequired(ctx)).To(BeFalse())
		})

		It("should refresh the reason on repeated failures", func() {
			tracker.SetActionRequired(ctx, "first failure")
			tracker.SetActionRequired(ctx, "second failure")

			_, reason := tracker.ActionRequired()
			Expect(reason).To(Equal("second failure"))
		})
	})

	Describe("persistence", func() {
		It("should keep serving in-memory state when saves fail", func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
			states.saveFn = func(_ context.Context, _ *model.OrchestratorState) error {
				return errors.New("database down")
			}

			Expect(tracker.SetEnabled(ctx, false, "toggle during outage")).To(BeTrue())
			Expect(tracker.Enabled()).To(BeFalse())
			tracker.AddDailyCost(ctx, 4)
			Expect(tracker.DailyCost()).To(Equal(4.0))
		})

		It("should flush the current snapshot on demand", func() {
			Expect(tracker.Load(ctx, true)).To(Succeed())
			tracker.AddDailyCost(ctx, 2)
			tracker.IncrDailyJobs(ctx)

			Expect(tracker.Flush(ctx)).To(Succeed())

			saved, err := states.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(saved.DailyCostUSD).To(Equal(2.0))
			Expect(saved.DailyJobs).To(Equal(1))
		})
	})
})
