package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	r.Get("/health", healthHandler(cfg))

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Repository, cfg.Logger))

		r.Get("/status", statusHandler(cfg))

		r.Route("/timeline/{projectId}", func(r chi.Router) {
			r.Post("/generate-edl-async", generateEDLHandler(cfg))
			r.Get("/generate-edl-async", jobStatusHandler(cfg))
			r.Get("/shots", listShotsHandler(cfg))
			r.Post("/apply-edl", applyEDLHandler(cfg))
			r.Get("/", getTimelineHandler(cfg))
			r.Post("/export", exportHandler(cfg))
		})
	})

	r.Route("/pipeline", func(r chi.Router) {
		r.Use(PipelineAuthMiddleware(cfg.PipelineToken, cfg.Logger))

		r.Post("/jobs/{jobId}/steps/{stepNumber}/start", stepStartHandler(cfg))
		r.Post("/jobs/{jobId}/steps/{stepNumber}/complete", stepCompleteHandler(cfg))
		r.Post("/jobs/{jobId}/steps/{stepNumber}/fail", stepFailHandler(cfg))
	})

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uptime := int64(time.Since(cfg.StartTime).Seconds())
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: "0.1.0",
			UptimeS: uptime,
		})
	}
}

func statusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active, err := cfg.Repository.CountActiveJobs(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to count jobs", "INTERNAL_ERROR")
			return
		}

		state := "idle"
		if active > 0 {
			state = "generating"
		}
		WriteJSON(w, http.StatusOK, StatusResponse{State: state, ActiveJobs: active})
	}
}
