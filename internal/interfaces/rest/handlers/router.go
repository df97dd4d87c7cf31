package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/DanielPopoola/ficmart-pos-payments/internal/application"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest"
	"github.com/DanielPopoola/ficmart-pos-payments/internal/interfaces/rest/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	// RequestTimeout must exceed the terminal EMV timeout.
	RequestTimeout time.Duration
	JWTSecret      string
	// Gatherer serves /metrics when set.
	Gatherer prometheus.Gatherer
	// Ready reports whether dependencies are reachable for /readyz.
	Ready func(ctx context.Context) error
}

// NewRouter builds the server's HTTP handler with the full middleware chain.
func NewRouter(ctx context.Context, h *Handlers, cfg RouterConfig, logger *slog.Logger) (http.Handler, error) {
	doc, err := rest.LoadOpenAPI(ctx)
	if err != nil {
		return nil, err
	}
	validate, err := middleware.OpenAPIValidation(doc, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	h.Register(mux, middleware.TerminalAuth([]byte(cfg.JWTSecret), logger))
	registerOps(mux, cfg.Gatherer, cfg.Ready, logger)
	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write(rest.OpenAPIDocument())
	})

	handler := validate(mux)
	handler = middleware.Recovery(logger)(handler)
	handler = middleware.Logging(logger)(handler)
	if cfg.RequestTimeout > 0 {
		handler = middleware.Timeout(cfg.RequestTimeout)(handler)
	}
	return handler, nil
}

// NewAgentRouter builds the terminal agent's local HTTP handler.
func NewAgentRouter(h *AgentHandlers, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	h.Register(mux)
	registerOps(mux, gatherer, nil, logger)

	handler := middleware.Recovery(logger)(mux)
	return middleware.Logging(logger)(handler)
}

func registerOps(mux *http.ServeMux, gatherer prometheus.Gatherer, ready func(ctx context.Context) error, logger *slog.Logger) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		rest.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(r.Context()); err != nil {
				rest.WriteError(w, &application.ServiceError{
					Code:       "NOT_READY",
					Message:    "dependencies unavailable",
					HTTPStatus: http.StatusServiceUnavailable,
					Err:        err,
				}, logger)
				return
			}
		}
		rest.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"}, logger)
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}
