package main

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthServer exposes the health and metrics HTTP endpoints.
type HealthServer struct {
	serviceName string
	environment string
	port        string
	startTime   time.Time
	logger      *zap.Logger

	lastRunUnix atomic.Int64
	runsTotal   atomic.Int64
}

// NewHealthServer creates a health server.
func NewHealthServer(serviceName, environment, port string, logger *zap.Logger) *HealthServer {
	return &HealthServer{
		serviceName: serviceName,
		environment: environment,
		port:        port,
		startTime:   time.Now(),
		logger:      logger,
	}
}

// RecordRun notes a completed transformation cycle.
func (h *HealthServer) RecordRun() {
	h.lastRunUnix.Store(time.Now().Unix())
	h.runsTotal.Add(1)
}

// Start serves /health and /metrics until the process exits.
func (h *HealthServer) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		response := map[string]any{
			"status":      "healthy",
			"service":     h.serviceName,
			"environment": h.environment,
			"uptime":      time.Since(h.startTime).String(),
			"runs_total":  h.runsTotal.Load(),
		}
		if last := h.lastRunUnix.Load(); last > 0 {
			response["last_run"] = time.Unix(last, 0).UTC().Format(time.RFC3339)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(response); err != nil {
			h.logger.Error("failed to encode health response", zap.Error(err))
		}
	})

	h.logger.Info("starting health server", zap.String("port", h.port))
	return http.ListenAndServe(":"+h.port, mux)
}
