package api

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/synaptiq/synapse/internal/api/handlers"
	mw "github.com/synaptiq/synapse/internal/api/middleware"
	"github.com/synaptiq/synapse/internal/buildconfig"
	"github.com/synaptiq/synapse/internal/config"
	"github.com/synaptiq/synapse/internal/service"
	"github.com/synaptiq/synapse/internal/store"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router    *chi.Mux
	Knowledge *service.KnowledgeService
	Patterns  *service.PatternService
	Flusher   *service.FlushService

	startTime time.Time
	metrics   *mw.MetricsCollector
}

func NewApp(logger *zap.Logger) *App {
	// Stores
	knowledgeStore := store.NewKnowledgeStore(config.KnowledgePath())
	patternStore := store.NewPatternStore(config.PatternsPath())

	// Services. Pattern analyzer subscribes to knowledge telemetry, the
	// flusher drives both debounced snapshot writers.
	patternSvc := service.NewPatternService(patternStore, logger)
	knowledgeSvc := service.NewKnowledgeService(knowledgeStore, patternSvc, logger)
	flushSvc := service.NewFlushService(logger, knowledgeSvc, patternSvc)
	flushSvc.SetInterval(config.FlushInterval())

	knowledgeSvc.Load()
	patternSvc.Load()

	// Handlers
	knowledgeHandler := handlers.NewKnowledgeHandler(knowledgeSvc)
	insightsHandler := handlers.NewInsightsHandler(knowledgeSvc)
	patternHandler := handlers.NewPatternHandler(patternSvc)

	r := chi.NewRouter()

	app := &App{
		Router:    r,
		Knowledge: knowledgeSvc,
		Patterns:  patternSvc,
		Flusher:   flushSvc,
		startTime: time.Now(),
		metrics:   mw.NewMetricsCollector(),
	}

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(app.metrics.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	// Health
	r.Get("/health", healthHandler())

	// Metrics
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		// Facts (knowledge graph)
		r.Route("/facts", func(r chi.Router) {
			r.Post("/", knowledgeHandler.Create)
			r.Get("/", knowledgeHandler.List)
			r.Get("/state", knowledgeHandler.State)
			r.Post("/verify", knowledgeHandler.MarkVerified)
			r.Get("/verified", knowledgeHandler.IsVerified)
			r.Route("/{id}", func(r chi.Router) {
				r.Post("/evidence", knowledgeHandler.AddEvidence)
				r.Post("/dependencies", knowledgeHandler.AddDependency)
				r.Get("/chain", knowledgeHandler.Chain)
				r.Get("/validate", knowledgeHandler.Validate)
			})
		})

		// Failure log
		r.Route("/failures", func(r chi.Router) {
			r.Post("/", knowledgeHandler.RecordFailure)
			r.Get("/", knowledgeHandler.ListFailures)
		})

		// Knowledge-derived insights
		r.Route("/insights", func(r chi.Router) {
			r.Get("/plan", insightsHandler.Plan)
			r.Get("/summary", insightsHandler.Summary)
			r.Get("/context", insightsHandler.Context)
			r.Get("/risks", insightsHandler.Risks)
			r.Get("/verification", insightsHandler.Verification)
			r.Get("/retry", insightsHandler.Retry)
		})

		// Interactions (pattern analyzer)
		r.Post("/interactions", patternHandler.RecordInteraction)

		// Pattern-derived recommendations
		r.Route("/patterns", func(r chi.Router) {
			r.Get("/approach", patternHandler.Approach)
			r.Get("/mistakes", patternHandler.Mistakes)
			r.Get("/sequence", patternHandler.Sequence)
			r.Post("/optimize", patternHandler.Optimize)
		})
	})

	return app
}

// NewRouter returns just the chi.Mux for callers that manage lifecycle
// themselves.
func NewRouter(logger *zap.Logger) *chi.Mux {
	return NewApp(logger).Router
}

func healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]string{"status": "ok"}
		for k, v := range buildconfig.VersionInfo() {
			body[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)

		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.metrics.Requests(),
			"error_count":    app.metrics.Errors(),
			"avg_latency_ms": float64(app.metrics.AverageLatency()) / float64(time.Millisecond),
			"goroutines":     runtime.NumGoroutine(),
			"interactions":   app.Patterns.InteractionCount(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
