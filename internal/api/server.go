package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/balancer"
	"github.com/JakeFAU/crawl-frontier/internal/config"
	"github.com/JakeFAU/crawl-frontier/internal/logging"
	"github.com/JakeFAU/crawl-frontier/internal/metrics"
	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/profile"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/stacker"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

// Frontier is the queue inspection and purge surface used by the handlers.
type Frontier interface {
	Size(stack noticed.StackType) int
	Hosts(stack noticed.StackType) ([]balancer.HostInfo, error)
	Requests(stack noticed.StackType, hostHash string, maxCount int, budget time.Duration) ([]request.Request, error)
	RemoveByProfileHandle(handle string, budget time.Duration) int
}

// Acceptor feeds start URLs into the acceptance pipeline.
type Acceptor interface {
	EnqueueEntries(ctx context.Context, initiator, handle string, links []stacker.Link, replace bool, timezoneOffset int) error
	QueueSize() int
}

// Profiles manages crawl job profiles.
type Profiles interface {
	Create(cfg profile.Config) (*profile.CrawlProfile, error)
	Get(handle string) (*profile.CrawlProfile, error)
	Deactivate(handle string) bool
	Active() []*profile.CrawlProfile
}

// Deps are the collaborators behind the routes.
type Deps struct {
	Frontier Frontier
	Stacker  Acceptor
	Profiles Profiles
	Errors   store.ErrorLog
	// Ready reports whether downstream dependencies are usable; nil means always ready.
	Ready func(ctx context.Context) error
}

// Server wires HTTP handlers to the frontier and acceptance pipeline.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	logger = logging.OrNop(logger).Named("api")
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/stacker", s.stackerStatus)
		r.Get("/errors", s.listErrors)
		r.Route("/stacks", func(r chi.Router) {
			r.Get("/", s.listStacks)
			r.Route("/{stack}/hosts", func(r chi.Router) {
				r.Get("/", s.listHosts)
				r.Get("/{host_hash}/requests", s.listRequests)
			})
		})
		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.listProfiles)
			r.Post("/", s.createProfile)
			r.Delete("/{handle}", s.deleteProfile)
		})
		r.Post("/crawls", s.submitCrawl)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			s.logger.Warn("readiness check failed", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stackerStatus(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stacker == nil {
		writeError(w, http.StatusServiceUnavailable, "stacker unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"queue_size": s.deps.Stacker.QueueSize()})
}

func (s *Server) listProfiles(w http.ResponseWriter, _ *http.Request) {
	active := s.deps.Profiles.Active()
	out := make([]profileDTO, 0, len(active))
	for _, p := range active {
		out = append(out, toProfileDTO(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"profiles": out})
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var cfg profile.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if cfg.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if cfg.AgentName == "" {
		cfg.AgentName = s.cfg.Robots.UserAgent
	}
	p, err := s.deps.Profiles.Create(cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Info("profile created", zap.String("profile", p.Handle()), zap.String("name", p.Name()))
	writeJSON(w, http.StatusCreated, toProfileDTO(p))
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	handle := chi.URLParam(r, "handle")
	if !s.deps.Profiles.Deactivate(handle) {
		// Still resolvable after a refused deactivation means built-in.
		if _, err := s.deps.Profiles.Get(handle); err == nil {
			writeError(w, http.StatusConflict, "built-in profile cannot be deleted")
			return
		}
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	removed := s.deps.Frontier.RemoveByProfileHandle(handle, s.cfg.Frontier.RemoveBudget)
	s.logger.Info("profile deactivated", zap.String("profile", handle), zap.Int("removed", removed))
	writeJSON(w, http.StatusOK, map[string]any{"handle": handle, "removed": removed})
}

func (s *Server) submitCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	links := req.toLinks()
	if req.Profile == "" || len(links) == 0 {
		writeError(w, http.StatusBadRequest, "profile and urls required")
		return
	}
	if s.deps.Stacker == nil {
		writeError(w, http.StatusServiceUnavailable, "stacker unavailable")
		return
	}
	initiator := req.Initiator
	if initiator == "" {
		initiator = s.cfg.Stacker.PeerHash
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	err := s.deps.Stacker.EnqueueEntries(ctx, initiator, req.Profile, links, req.Replace, req.TimezoneOffset)
	switch {
	case err == nil:
	case errors.Is(err, profile.ErrInactiveProfile):
		writeError(w, http.StatusGone, "profile is not active")
		return
	case errors.Is(err, stacker.ErrStackerClosed):
		writeError(w, http.StatusServiceUnavailable, "stacker is shutting down")
		return
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusRequestTimeout, err.Error())
		return
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"profile": req.Profile, "submitted": len(links)})
}

type crawlRequest struct {
	Profile        string         `json:"profile"`
	Initiator      string         `json:"initiator"`
	URLs           []string       `json:"urls"`
	Links          []stacker.Link `json:"links"`
	Replace        bool           `json:"replace"`
	TimezoneOffset int            `json:"timezone_offset"`
}

func (c crawlRequest) toLinks() []stacker.Link {
	links := make([]stacker.Link, 0, len(c.URLs)+len(c.Links))
	for _, u := range c.URLs {
		if u != "" {
			links = append(links, stacker.Link{URL: u})
		}
	}
	for _, l := range c.Links {
		if l.URL != "" {
			links = append(links, l)
		}
	}
	return links
}

type profileDTO struct {
	Handle string         `json:"handle"`
	Config profile.Config `json:"config"`
}

func toProfileDTO(p *profile.CrawlProfile) profileDTO {
	return profileDTO{Handle: p.Handle(), Config: p.Config()}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", reqID),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
