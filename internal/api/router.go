package api

import (
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/yegors/clara/internal/websocket"
	"github.com/yegors/clara/pkg/logger"
)

// Router wires the REST handlers, websockets, metrics and static files
type Router struct {
	handler   *Handler
	hub       *websocket.Server
	capture   http.Handler // nil when capture is not browser-backed
	metrics   http.Handler // nil when metrics are disabled
	metricsAt string
	staticDir string
	logger    *logger.Logger
}

// RouterOption configures optional routes
type RouterOption func(*Router)

// WithCaptureSocket serves browser microphone sockets at /ws/capture/{owner}
func WithCaptureSocket(h http.Handler) RouterOption {
	return func(r *Router) { r.capture = h }
}

// WithMetrics serves the Prometheus handler at path
func WithMetrics(path string, h http.Handler) RouterOption {
	return func(r *Router) {
		r.metricsAt = path
		r.metrics = h
	}
}

// WithStaticFiles serves the front end from dir
func WithStaticFiles(dir string) RouterOption {
	return func(r *Router) { r.staticDir = dir }
}

// NewRouter creates a new router
func NewRouter(handler *Handler, hub *websocket.Server, log *logger.Logger, opts ...RouterOption) *Router {
	r := &Router{
		handler: handler,
		hub:     hub,
		logger:  log.Named("router"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Routes returns the HTTP handler for every route
func (rt *Router) Routes() http.Handler {
	h := rt.handler
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(rt.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.GetHealth)
		r.Get("/config", h.GetConfig)

		r.Route("/patients", func(r chi.Router) {
			r.Get("/", h.GetPatients)
			r.Post("/", h.CreatePatient)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetPatient)
				r.Post("/activate", h.ActivatePatient)
				r.Post("/turns", h.AddTurn)
				r.Put("/turns/{index}/speaker", h.SetTurnSpeaker)
				r.Post("/synthesize", h.SynthesizePatient)
				r.Post("/nearby-care", h.FindNearbyCare)
			})
		})
		r.Get("/nearby-care", h.GetNearbyCare)

		r.Post("/demo/seed", h.SeedDemoData)
		r.Get("/dashboard", h.GetDashboard)
		r.Get("/analytics/risk-distribution", h.GetRiskDistribution)
		r.Get("/audit", h.GetAuditLog)

		r.Route("/encounter", func(r chi.Router) {
			r.Post("/start", h.StartEncounter)
			r.Post("/stop", h.StopEncounter)
			r.Post("/stop-and-synthesize", h.StopAndSynthesize)
			r.Put("/speaker", h.SetEncounterSpeaker)
		})
		r.Put("/settings/language", h.SetLanguage)

		r.Route("/assistant", func(r chi.Router) {
			r.Post("/start", h.StartAssistant)
			r.Post("/stop", h.StopAssistant)
			r.Post("/messages", h.SendAssistantMessage)
			r.Get("/feed", h.GetAssistantFeed)
		})

		r.Post("/location", h.ReportLocation)
	})

	r.Get("/ws", rt.hub.HandleConnection)
	if rt.capture != nil {
		r.Get("/ws/capture/{owner}", rt.capture.ServeHTTP)
	}
	if rt.metrics != nil {
		r.Handle(rt.metricsAt, rt.metrics)
	}

	if rt.staticDir != "" {
		if _, err := os.Stat(rt.staticDir); err == nil {
			r.Handle("/*", NewStaticFileHandler(rt.staticDir, rt.logger))
		} else {
			rt.logger.Warn("Static files directory not found, front end disabled",
				logger.String("dir", rt.staticDir))
		}
	}

	return r
}

func (rt *Router) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		rt.logger.Debug("HTTP request",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", ww.Status()),
			logger.Duration("elapsed", time.Since(start)),
			logger.String("request_id", middleware.GetReqID(r.Context())))
	})
}
