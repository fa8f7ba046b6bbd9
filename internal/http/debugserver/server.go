package debugserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"delivery-sync/internal/apperr"
	"delivery-sync/internal/domain"
	"delivery-sync/internal/logx"
)

// Config stores debug server settings. User and Pass guard pprof for
// non-loopback callers.
type Config struct {
	User string
	Pass string
}

// DeadLetterSource exposes the queue's dead letter list to the debug API.
type DeadLetterSource interface {
	DeadLetters(ctx context.Context) ([]domain.PendingOperation, error)
	RetryDead(ctx context.Context, id string) error
}

type handlers struct {
	dead   DeadLetterSource
	logger logx.Logger
}

// Handler builds the debug router: health, metrics, the dead letter API
// and pprof.
func Handler(cfg Config, gatherer prometheus.Gatherer, dead DeadLetterSource, logger logx.Logger) http.Handler {
	h := &handlers{dead: dead, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", h.healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/deadletters", h.listDeadLetters)
	r.Post("/deadletters/{id}/retry", h.retryDeadLetter)
	r.Mount("/debug", authOrLocalOnly(pprofMux(), cfg))

	return r
}

func (h *handlers) healthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deadLetterDTO struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	EntityID   string    `json:"entityId"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
	LastError  string    `json:"lastError,omitempty"`
}

func (h *handlers) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	ops, err := h.dead.DeadLetters(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "dead letter list failed")
		return
	}

	dtos := make([]deadLetterDTO, 0, len(ops))
	for _, op := range ops {
		dtos = append(dtos, deadLetterDTO{
			ID:         op.ID,
			Kind:       string(op.Kind),
			EntityID:   op.EntityID,
			Attempts:   op.Attempts,
			EnqueuedAt: op.EnqueuedAt,
			LastError:  op.LastError,
		})
	}
	h.writeJSON(w, http.StatusOK, dtos)
}

func (h *handlers) retryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.dead.RetryDead(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, apperr.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "unknown operation")
		default:
			h.writeError(w, http.StatusInternalServerError, "retry failed")
		}
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]string{"id": id})
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		h.logger.Error("json encode failed", logx.Any("err", err))
	}
}

type errResponse struct {
	Error string `json:"error"`
}

func (h *handlers) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errResponse{Error: msg})
}

func pprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)

	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	return mux
}

func authOrLocalOnly(next http.Handler, cfg Config) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLoopback(r.RemoteAddr) {
			next.ServeHTTP(w, r)
			return
		}
		if cfg.User == "" || cfg.Pass == "" {
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureEq(u, cfg.User) || !secureEq(p, cfg.Pass) {
			w.Header().Set("WWW-Authenticate", `Basic realm="pprof"`)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureEq(u, s string) bool {
	if len(u) != len(s) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(u), []byte(s)) == 1
}

func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)

	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}
