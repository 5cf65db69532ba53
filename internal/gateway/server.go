// Package gateway serves the hook surfaces over HTTP.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/config"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/dispatch"
	"github.com/kfatkin/CodePipeline-Slack-Hooks/internal/version"
)

// Hooks handles one delivery on a named surface.
type Hooks interface {
	Handle(ctx context.Context, req dispatch.Request) dispatch.Response
}

type Server struct {
	cfg        config.GatewayConfig
	hooks      Hooks
	httpServer *http.Server
}

func New(cfg config.GatewayConfig, hooks Hooks) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18790
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg:   cfg,
		hooks: hooks,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

// Start listens until Shutdown. It refuses to expose an unauthenticated
// trigger hook beyond the loopback interface.
func (s *Server) Start() error {
	if err := CheckTriggerAuth(s.cfg); err != nil {
		return err
	}
	if strings.TrimSpace(s.cfg.Token) == "" {
		slog.Warn("trigger hook accepts unauthenticated requests on loopback; set gateway.token to require a bearer token")
	}
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           NewHandler(s.cfg, s.hooks),
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// CheckTriggerAuth reports an error when the trigger hook would be reachable
// from other hosts without a bearer token.
func CheckTriggerAuth(cfg config.GatewayConfig) error {
	if strings.TrimSpace(cfg.Token) != "" || isLoopback(cfg.Host) {
		return nil
	}
	return fmt.Errorf("gateway.token is required when listening on %q; set a token or bind gateway.host to 127.0.0.1", cfg.Host)
}

func isLoopback(host string) bool {
	host = strings.Trim(strings.TrimSpace(host), "[]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// NewHandler builds the router:
//
//	GET  /health
//	GET  /version
//	POST /hooks/chat              event hook
//	POST /hooks/chat/interactive  button clicks
//	POST /hooks/chat/menus        external select options
//	POST /hooks/chat/command      slash commands
//	POST /hooks/trigger           notification records, bearer token
func NewHandler(cfg config.GatewayConfig, hooks Hooks) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(slog.Default()))
	r.Use(middleware.Recoverer)
	r.Use(TimeoutMiddleware(cfg.RequestTimeout()))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "slackhooks-gateway")
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, RequestIDFrom(r.Context()), http.StatusNotFound, "not_found", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, RequestIDFrom(r.Context()), http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": RequestIDFrom(r.Context()),
		})
	})
	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    version.Version,
			"build":      version.Get(),
			"request_id": RequestIDFrom(r.Context()),
		})
	})

	limit := cfg.MaxBodyBytes
	r.Route("/hooks", func(r chi.Router) {
		r.Post("/chat", hook(hooks, dispatch.SurfaceEvent, limit))
		r.Post("/chat/interactive", hook(hooks, dispatch.SurfaceInteractive, limit))
		r.Post("/chat/menus", hook(hooks, dispatch.SurfaceMenus, limit))
		r.Post("/chat/command", hook(hooks, dispatch.SurfaceCommand, limit))
		r.With(BearerAuth(cfg.Token)).Post("/trigger", hook(hooks, dispatch.SurfaceTrigger, limit))
	})
	return r
}

// hook reads the raw body, since signatures cover the exact bytes, and
// relays the dispatcher's response verbatim.
func hook(hooks Hooks, surface dispatch.Surface, limit int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := RequestIDFrom(r.Context())
		if hooks == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "hook dispatcher is not configured")
			return
		}

		reader := io.Reader(r.Body)
		if limit > 0 {
			reader = http.MaxBytesReader(w, r.Body, limit)
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, requestID, http.StatusRequestEntityTooLarge, "too_large", "request body too large")
				return
			}
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "read request body")
			return
		}

		resp := hooks.Handle(r.Context(), dispatch.Request{
			Surface:   surface,
			Body:      body,
			Headers:   r.Header,
			RequestID: requestID,
		})
		writeResponse(w, resp)
	}
}

func writeResponse(w http.ResponseWriter, resp dispatch.Response) {
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = io.WriteString(w, resp.Body)
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
