package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"alphaforge.app/scout/internal/http/handler"
	"alphaforge.app/scout/internal/http/middleware"
	"alphaforge.app/scout/internal/model"
	"alphaforge.app/scout/internal/service"
)

var _ = Describe("BudgetHandler", func() {
	var (
		router     *gin.Engine
		gatekeeper *mockGatekeeper
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		gatekeeper = &mockGatekeeper{}
		h := handler.NewBudgetHandler(gatekeeper)
		admin := middleware.RequireAdminKey(adminAPIKey)
		router.GET("/budgets", h.List)
		router.PUT("/budgets/:provider", admin, h.Update)
	})

	Describe("List", func() {
		It("returns 200 with all ledgers", func() {
			gatekeeper.ledgersFn = func(_ context.Context) ([]model.BudgetLedger, error) {
				return []model.BudgetLedger{
					{
						Provider:        "openai",
						MonthlyLimitUSD: 200,
						CurrentSpendUSD: 43.75,
						Enabled:         true,
						MonthStartedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
					},
					{
						Provider:        "anthropic",
						MonthlyLimitUSD: 150,
						CurrentSpendUSD: 180,
						Enabled:         true,
						AutoThrottled:   true,
						MonthStartedAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
					},
				}, nil
			}

			req := httptest.NewRequest(http.MethodGet, "/budgets", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			budgets := resp["budgets"].([]any)
			Expect(budgets).To(HaveLen(2))

			first := budgets[0].(map[string]any)
			Expect(first["provider"]).To(Equal("openai"))
			Expect(first["remaining_usd"]).To(Equal(float64(156.25)))

			second := budgets[1].(map[string]any)
			Expect(second["auto_throttled"]).To(Equal(true))
			Expect(second["remaining_usd"]).To(Equal(float64(0)))
		})

		It("returns 500 on store error", func() {
			gatekeeper.ledgersFn = func(_ context.Context) ([]model.BudgetLedger, error) {
				return nil, errors.New("db down")
			}

			req := httptest.NewRequest(http.MethodGet, "/budgets", nil)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})
	})

	Describe("Update", func() {
		It("returns 200 with the patched ledger", func() {
			gatekeeper.updateLedgerFn = func(_ context.Context, providerName string, upd service.LedgerUpdate) (*model.BudgetLedger, error) {
				Expect(providerName).To(Equal("openai"))
				Expect(upd.MonthlyLimitUSD).NotTo(BeNil())
				Expect(*upd.MonthlyLimitUSD).To(Equal(float64(500)))
				Expect(upd.Enabled).To(BeNil())
				Expect(upd.Paused).To(BeNil())
				return &model.BudgetLedger{
					Provider:        "openai",
					MonthlyLimitUSD: 500,
					CurrentSpendUSD: 43.75,
					Enabled:         true,
				}, nil
			}

			body, _ := json.Marshal(map[string]any{"monthly_limit_usd": 500})
			req := httptest.NewRequest(http.MethodPut, "/budgets/openai", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Admin-API-Key", adminAPIKey)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["monthly_limit_usd"]).To(Equal(float64(500)))
			Expect(resp["auto_throttled"]).To(Equal(false))
		})

		It("returns 400 when no fields are present", func() {
			body, _ := json.Marshal(map[string]any{})
			req := httptest.NewRequest(http.MethodPut, "/budgets/openai", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Admin-API-Key", adminAPIKey)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["error"]).To(Equal("no fields to update"))
		})

		It("returns 400 on a non-positive limit", func() {
			body, _ := json.Marshal(map[string]any{"monthly_limit_usd": -5})
			req := httptest.NewRequest(http.MethodPut, "/budgets/openai", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Admin-API-Key", adminAPIKey)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for an unknown provider", func() {
			body, _ := json.Marshal(map[string]any{"paused": true})
			req := httptest.NewRequest(http.MethodPut, "/budgets/nobody", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Admin-API-Key", adminAPIKey)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("returns 500 on store error", func() {
			gatekeeper.updateLedgerFn = func(_ context.Context, _ string, _ service.LedgerUpdate) (*model.BudgetLedger, error) {
				return nil, errors.New("db down")
			}

			body, _ := json.Marshal(map[string]any{"paused": true})
			req := httptest.NewRequest(http.MethodPut, "/budgets/openai", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Admin-API-Key", adminAPIKey)
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})

		It("returns 401 without the admin key", func() {
			body, _ := json.Marshal(map[string]any{"paused": true})
			req := httptest.NewRequest(http.MethodPut, "/budgets/openai", bytes.NewBuffer(body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			router.ServeHTTP(w, req)

			Expect(w.Code).To(Equal(http.StatusUnauthorized))
		})
	})
})
