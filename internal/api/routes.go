package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	chain := Chain(
		RequestID(h.logger),
		Logging(),
		Recovery(),
		RateLimit(h.rateLimitRPS, h.rateLimitBurst),
	)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		Success(w, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", promhttp.Handler())

	// Pipelines
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))
	mux.Handle("PUT /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.UpdatePipeline)))
	mux.Handle("DELETE /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.DeletePipeline)))

	// Pipeline Versions
	mux.Handle("GET /api/v1/pipelines/{id}/versions", chain(http.HandlerFunc(h.ListPipelineVersions)))
	mux.Handle("POST /api/v1/pipelines/{id}/versions", chain(http.HandlerFunc(h.CreatePipelineVersion)))
	mux.Handle("GET /api/v1/pipelines/{id}/versions/{version}", chain(http.HandlerFunc(h.GetPipelineVersion)))
	mux.Handle("POST /api/v1/pipelines/validate", chain(http.HandlerFunc(h.ValidatePipelineConfig)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/pipelines/{id}/runs", chain(http.HandlerFunc(h.CreateRun)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("GET /api/v1/runs/{id}/steps", chain(http.HandlerFunc(h.ListRunSteps)))

	// Schedules
	mux.Handle("GET /api/v1/schedules", chain(http.HandlerFunc(h.ListSchedules)))
	mux.Handle("POST /api/v1/pipelines/{id}/schedules", chain(http.HandlerFunc(h.CreateSchedule)))
	mux.Handle("GET /api/v1/schedules/{id}", chain(http.HandlerFunc(h.GetSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}", chain(http.HandlerFunc(h.UpdateSchedule)))
	mux.Handle("DELETE /api/v1/schedules/{id}", chain(http.HandlerFunc(h.DeleteSchedule)))
	mux.Handle("PUT /api/v1/schedules/{id}/enabled", chain(http.HandlerFunc(h.SetScheduleEnabled)))
}
