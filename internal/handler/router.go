package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/botdialog/internal/handler/chat"
	"github.com/zhouzirui/botdialog/internal/handler/persona"
	"github.com/zhouzirui/botdialog/internal/handler/stream"
	personaModel "github.com/zhouzirui/botdialog/internal/model/persona"
	"github.com/zhouzirui/botdialog/internal/service/ai"
	"github.com/zhouzirui/botdialog/pkg/utils"
)

// Sessions is the slice of the dialog registry the HTTP layer uses.
type Sessions interface {
	chat.Router
	chat.SessionLister
}

// Dependencies are the services the router exposes.
type Dependencies struct {
	Sessions    Sessions
	Transcripts chat.TranscriptReader
	Bots        personaModel.Store
	// Generator drafts bot descriptions from questionnaire answers.
	Generator ai.Generator
	Hub       *stream.Hub
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	chatHandler := chat.New(deps.Sessions, deps.Sessions, deps.Transcripts)
	botHandler := persona.New(deps.Bots, deps.Generator)

	r.Route("/api", func(api chi.Router) {
		chatHandler.RegisterRoutes(api)
		botHandler.RegisterRoutes(api)

		if deps.Hub != nil {
			stream.New(deps.Sessions, deps.Hub).RegisterRoutes(api)
		}
	})

	return r
}
