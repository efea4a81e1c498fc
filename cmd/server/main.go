package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ghostcart/internal/config"
	"ghostcart/internal/coordinator"
	"ghostcart/internal/scheduler"
	"ghostcart/internal/store"
	"ghostcart/pkg/aperr"
	"ghostcart/pkg/credentials"
	"ghostcart/pkg/httpx"
	"ghostcart/pkg/mandate"
	"ghostcart/pkg/merchant"
	"ghostcart/pkg/processor"
	"ghostcart/pkg/signature"

	"github.com/go-chi/chi/v5"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}
	keyring, err := cfg.Keyring()
	if err != nil {
		log.Error("keyring", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	catalog := merchant.NewDemoCatalog(cfg.PriceDropDelay)
	auth := processor.NewMock(cfg.DemoMode)
	creds := credentials.NewStaticProvider()
	pricing := coordinator.Pricing{TaxRateBps: cfg.TaxRateBps, FlatShippingCents: cfg.FlatShippingCents}

	coord := coordinator.New(st, keyring, catalog, auth, creds, pricing, cfg.CallTimeout, log)

	var planner scheduler.PricePlanner
	if cfg.DemoMode {
		planner = catalog
	}
	sched := scheduler.New(st, coord, planner, cfg.CheckInterval, cfg.CheckInterval, pricing, cfg.Workers, log)
	if err := sched.Start(ctx); err != nil {
		log.Error("scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })

	r.Route("/ap2", func(api chi.Router) {

		// Submit a signed intent. Deferred intents activate monitoring;
		// immediate intents are recorded for the audit trail only.
		api.Post("/intents", func(w http.ResponseWriter, r *http.Request) {
			var intent mandate.Intent
			if err := httpx.ReadJSON(r, &intent); err != nil {
				httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
				return
			}
			if err := intent.Normalize(time.Now().UTC()); err != nil {
				httpx.WriteAPError(w, aperr.New(aperr.CodeChainInvalid, err.Error()))
				return
			}
			if intent.Scenario == mandate.ScenarioDeferred {
				payload, err := mandate.SigningPayload(&intent)
				if err != nil {
					httpx.WriteError(w, 500, "internal_error", err.Error(), nil)
					return
				}
				if !keyring.VerifyAs(signature.RoleUser, payload, *intent.Signature) {
					httpx.WriteAPError(w, aperr.New(aperr.CodeSignatureInvalid, "intent user signature verification failed"))
					return
				}
			}
			if err := st.PutIntent(r.Context(), &intent); err != nil {
				httpx.WriteError(w, 500, "db_error", err.Error(), nil)
				return
			}
			resp := map[string]any{"request_id": httpx.NewRequestID(), "intent": intent}
			if intent.Scenario == mandate.ScenarioDeferred {
				job, err := sched.Activate(r.Context(), &intent)
				if err != nil {
					httpx.WriteError(w, 500, "db_error", err.Error(), nil)
					return
				}
				resp["monitoring_job"] = job
			}
			httpx.WriteJSON(w, 201, resp)
		})

		// Immediate checkout: a user-signed cart settles synchronously.
		api.Post("/checkout", func(w http.ResponseWriter, r *http.Request) {
			var cart mandate.Cart
			if err := httpx.ReadJSON(r, &cart); err != nil {
				httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
				return
			}
			outcome, err := coord.ExecuteImmediate(r.Context(), &cart)
			if err != nil {
				if len(outcome.Violations) > 0 {
					httpx.WriteError(w, 422, aperr.CodeOf(err), err.Error(), outcome.Violations)
					return
				}
				httpx.WriteAPError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{
				"request_id":  httpx.NewRequestID(),
				"transaction": outcome.Transaction,
			})
		})

		api.Get("/jobs", func(w http.ResponseWriter, r *http.Request) {
			userID := r.URL.Query().Get("user_id")
			if userID == "" {
				httpx.WriteError(w, 400, "bad_request", "user_id is required", nil)
				return
			}
			activeOnly := r.URL.Query().Get("active") == "true"
			jobs, err := st.ListJobsByUser(r.Context(), userID, activeOnly)
			if err != nil {
				httpx.WriteError(w, 500, "db_error", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "jobs": jobs})
		})

		api.Get("/jobs/{job_id}", func(w http.ResponseWriter, r *http.Request) {
			job, err := st.GetJob(r.Context(), chi.URLParam(r, "job_id"))
			if errors.Is(err, store.ErrNotFound) {
				httpx.WriteError(w, 404, "not_found", "unknown job", nil)
				return
			}
			if err != nil {
				httpx.WriteError(w, 500, "db_error", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "job": job})
		})

		api.Post("/jobs/{job_id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				UserID string `json:"user_id"`
			}
			if err := httpx.ReadJSON(r, &req); err != nil {
				httpx.WriteError(w, 400, "bad_json", err.Error(), nil)
				return
			}
			job, err := sched.Cancel(r.Context(), chi.URLParam(r, "job_id"), req.UserID)
			if errors.Is(err, store.ErrNotFound) {
				httpx.WriteError(w, 404, "not_found", "unknown job", nil)
				return
			}
			if err != nil {
				httpx.WriteAPError(w, err)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "job": job})
		})

		api.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
			txns, err := st.ListTransactions(r.Context(), r.URL.Query().Get("user_id"))
			if err != nil {
				httpx.WriteError(w, 500, "db_error", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "transactions": txns})
		})

		api.Get("/products", func(w http.ResponseWriter, r *http.Request) {
			var maxPrice int64
			if v := r.URL.Query().Get("max_price_cents"); v != "" {
				n, err := strconv.ParseInt(v, 10, 64)
				if err != nil || n < 0 {
					httpx.WriteError(w, 400, "bad_request", "max_price_cents must be a non-negative integer", nil)
					return
				}
				maxPrice = n
			}
			products, err := catalog.Search(r.Context(), r.URL.Query().Get("query"), maxPrice)
			if err != nil {
				httpx.WriteError(w, 500, "internal_error", err.Error(), nil)
				return
			}
			httpx.WriteJSON(w, 200, map[string]any{"request_id": httpx.NewRequestID(), "products": products})
		})
	})

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("ghostcart listening", "port", cfg.Port, "store", cfg.StoreBackend, "demo_mode", cfg.DemoMode)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server", "error", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemory(), func() {}, nil
	case "postgres":
		pool, err := cfg.ConnectPostgres(ctx)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPostgres(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil
	default:
		s, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
}
