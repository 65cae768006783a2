package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	chathandler "github.com/streamloop/chatrelay/internal/handler/chat"
	"github.com/streamloop/chatrelay/internal/service/chat"
	"github.com/streamloop/chatrelay/internal/service/relay"
)

// Options carries the router-level settings taken from configuration.
type Options struct {
	AllowedOrigins []string
	RatePerMinute  int
	DefaultModel   string
	HasUpstream    bool
}

// NewRouter wires HTTP routes to core services.
func NewRouter(chatSvc *chat.Service, engine *relay.Engine, opts Options) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	}))
	if opts.RatePerMinute > 0 {
		r.Use(httprate.LimitByIP(opts.RatePerMinute, time.Minute))
	}

	h := chathandler.New(chatSvc, engine, opts.DefaultModel, opts.HasUpstream)
	h.RegisterRoutes(r)

	return r
}
