package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/config"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/internal/metrics"
	"github.com/Stefanpicciani/Realtime-Translator-Conversation/pkg/logger"
)

// Router is the API router
type Router struct {
	handler    *Handler
	middleware *Middleware
	metrics    *metrics.Metrics
	config     config.ServerConfig
	logger     *logger.Logger
}

// NewRouter creates a new API router. m may be nil, in which case /metrics is not served.
func NewRouter(service Service, m *metrics.Metrics, cfg config.ServerConfig, log *logger.Logger) *Router {
	return &Router{
		handler:    NewHandler(service, log),
		middleware: NewMiddleware(log, m),
		metrics:    m,
		config:     cfg,
		logger:     log.Named("api-router"),
	}
}

// Routes returns the API routes
func (r *Router) Routes() http.Handler {
	router := chi.NewRouter()

	// Middleware
	router.Use(r.middleware.RequestID)
	router.Use(r.middleware.Logger)
	router.Use(r.middleware.Recoverer)
	router.Use(r.middleware.CORS(r.config.CORSAllowedOrigins))

	router.Route("/api/v1", func(router chi.Router) {
		// Health and status
		router.Get("/health", r.handler.GetHealth)
		router.Get("/status", r.handler.GetStatus)

		// Session routes
		router.Post("/session/connect", r.handler.Connect)
		router.Post("/session/disconnect", r.handler.Disconnect)

		// Recording routes
		router.Post("/recording/start", r.handler.StartRecording)
		router.Post("/recording/stop", r.handler.StopRecording)

		// Text path and result log
		router.Post("/translate", r.handler.TranslateText)
		router.Get("/results", r.handler.GetResults)
		router.Delete("/results", r.handler.ClearResults)
		router.Get("/history", r.handler.GetHistory)

		// Languages and settings
		router.Get("/languages", r.handler.GetLanguages)
		router.Put("/languages", r.handler.SetLanguages)
		router.Post("/languages/swap", r.handler.SwapLanguages)
		router.Put("/settings", r.handler.UpdateSettings)

		// Speech helpers
		router.Get("/voices", r.handler.GetVoices)
		router.Post("/speech", r.handler.SpeechToText)
		router.Post("/tts", r.handler.TextToSpeech)
	})

	if r.metrics != nil {
		router.Handle("/metrics", r.metrics.Handler())
	}

	return router
}
