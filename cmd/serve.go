package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/store"
	"github.com/sells-group/pipeline-engine/internal/suggest"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the rule engine HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		}))

		r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/events", func(w http.ResponseWriter, req *http.Request) {
			var event model.LeadEvent
			if err := json.NewDecoder(req.Body).Decode(&event); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			executed, err := env.Engine.HandleEvent(req.Context(), &event)
			if err != nil {
				zap.L().Error("event handling failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "event handling failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]int{"executed": executed})
		})

		r.Post("/rescore", func(w http.ResponseWriter, req *http.Request) {
			companyID := req.URL.Query().Get("company_id")
			if companyID == "" {
				writeError(w, http.StatusBadRequest, "company_id is required")
				return
			}
			result, err := env.Engine.RecomputeScores(req.Context(), companyID)
			if err != nil {
				zap.L().Error("rescore failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "rescore failed")
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Get("/alerts", func(w http.ResponseWriter, req *http.Request) {
			companyID := req.URL.Query().Get("company_id")
			if companyID == "" {
				writeError(w, http.StatusBadRequest, "company_id is required")
				return
			}
			alerts, err := env.Engine.ComputeAlerts(req.Context(), companyID, time.Now().UTC())
			if err != nil {
				zap.L().Error("alert derivation failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "alert derivation failed")
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts, "count": len(alerts)})
		})

		r.Get("/stats", func(w http.ResponseWriter, req *http.Request) {
			companyID := req.URL.Query().Get("company_id")
			if companyID == "" {
				writeError(w, http.StatusBadRequest, "company_id is required")
				return
			}
			stats, _, err := env.Engine.PipelineStats(req.Context(), companyID)
			if err != nil {
				zap.L().Error("stats collection failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "stats collection failed")
				return
			}
			writeJSON(w, http.StatusOK, stats)
		})

		r.Post("/sla/refresh", func(w http.ResponseWriter, req *http.Request) {
			companyID := req.URL.Query().Get("company_id")
			if companyID == "" {
				writeError(w, http.StatusBadRequest, "company_id is required")
				return
			}
			result, err := env.Engine.RefreshSLA(req.Context(), companyID, time.Now().UTC())
			if err != nil {
				zap.L().Error("sla refresh failed", zap.Error(err))
				writeError(w, http.StatusInternalServerError, "sla refresh failed")
				return
			}
			writeJSON(w, http.StatusOK, result)
		})

		r.Route("/ai", func(r chi.Router) {
			r.Post("/scan", func(w http.ResponseWriter, req *http.Request) {
				companyID := req.URL.Query().Get("company_id")
				actorID := req.URL.Query().Get("actor_id")
				if companyID == "" || actorID == "" {
					writeError(w, http.StatusBadRequest, "company_id and actor_id are required")
					return
				}
				result, err := env.Workflow.Scan(req.Context(), companyID, actorID, time.Now().UTC())
				if err != nil {
					if errors.Is(err, suggest.ErrNoGenerator) {
						writeError(w, http.StatusServiceUnavailable, "suggestion generator not configured")
						return
					}
					zap.L().Error("scan failed", zap.Error(err))
					writeError(w, http.StatusInternalServerError, "scan failed")
					return
				}
				if result.Skipped {
					w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
					writeJSON(w, http.StatusTooManyRequests, result)
					return
				}
				writeJSON(w, http.StatusOK, result)
			})

			r.Get("/actions", func(w http.ResponseWriter, req *http.Request) {
				companyID := req.URL.Query().Get("company_id")
				if companyID == "" {
					writeError(w, http.StatusBadRequest, "company_id is required")
					return
				}
				status := model.ActionStatus(req.URL.Query().Get("status"))
				actions, err := env.Store.ListAIActions(req.Context(), companyID, status, 0)
				if err != nil {
					zap.L().Error("list actions failed", zap.Error(err))
					writeError(w, http.StatusInternalServerError, "list actions failed")
					return
				}
				writeJSON(w, http.StatusOK, map[string]any{"actions": actions, "count": len(actions)})
			})

			r.Post("/actions/{id}/approve", func(w http.ResponseWriter, req *http.Request) {
				transitionHandler(w, req, env.Workflow.Approve)
			})
			r.Post("/actions/{id}/dismiss", func(w http.ResponseWriter, req *http.Request) {
				transitionHandler(w, req, env.Workflow.Dismiss)
			})
			r.Post("/actions/{id}/execute", func(w http.ResponseWriter, req *http.Request) {
				id := chi.URLParam(req, "id")
				err := env.Workflow.Execute(req.Context(), id, env.Engine.ApplySuggestion, time.Now().UTC())
				respondTransition(w, err)
			})

			r.Post("/actions/approve-all", func(w http.ResponseWriter, req *http.Request) {
				bulkHandler(w, req, env.Workflow.ApproveAll)
			})
			r.Post("/actions/dismiss-all", func(w http.ResponseWriter, req *http.Request) {
				bulkHandler(w, req, env.Workflow.DismissAll)
			})
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func transitionHandler(w http.ResponseWriter, req *http.Request, fn func(ctx context.Context, id string, now time.Time) error) {
	id := chi.URLParam(req, "id")
	respondTransition(w, fn(req.Context(), id, time.Now().UTC()))
}

func respondTransition(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, suggest.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid status transition")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "action not found")
	default:
		zap.L().Error("action transition failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "action transition failed")
	}
}

func bulkHandler(w http.ResponseWriter, req *http.Request, fn func(ctx context.Context, companyID string, now time.Time) (int64, error)) {
	companyID := req.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required")
		return
	}
	n, err := fn(req.Context(), companyID, time.Now().UTC())
	if err != nil {
		zap.L().Error("bulk transition failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "bulk transition failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"transitioned": n})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
