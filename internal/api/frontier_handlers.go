package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-frontier/internal/noticed"
	"github.com/JakeFAU/crawl-frontier/internal/request"
	"github.com/JakeFAU/crawl-frontier/internal/store"
)

const (
	defaultRequestCount = 50
	maxRequestCount     = 1000
	defaultBudget       = time.Second
	maxBudget           = 10 * time.Second
	defaultErrorLimit   = 100
	maxErrorLimit       = 1000
	errorLogTimeout     = 3 * time.Second
)

// listStacks handles GET /v1/stacks and returns the pending count of every partition.
func (s *Server) listStacks(w http.ResponseWriter, _ *http.Request) {
	out := make([]stackDTO, 0, len(noticed.Stacks))
	for _, stack := range noticed.Stacks {
		out = append(out, stackDTO{Stack: stack.String(), Size: s.deps.Frontier.Size(stack)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stacks": out})
}

// listHosts handles GET /v1/stacks/{stack}/hosts. It returns {"hosts": [...]} with the
// pending count and estimated wait of every host, or 400 for an unknown stack.
func (s *Server) listHosts(w http.ResponseWriter, r *http.Request) {
	stack, err := parseStack(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hosts, err := s.deps.Frontier.Hosts(stack)
	if err != nil {
		s.logger.Error("list hosts failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list hosts")
		return
	}
	out := make([]hostDTO, 0, len(hosts))
	for _, h := range hosts {
		out = append(out, hostDTO{
			Host:     h.Host,
			Port:     h.Port,
			HostHash: h.HostHash,
			Size:     h.Size,
			WaitMS:   h.Wait.Milliseconds(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stack": stack.String(), "hosts": out})
}

// listRequests handles GET /v1/stacks/{stack}/hosts/{host_hash}/requests?count=&budget_ms=.
func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	stack, err := parseStack(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	hostHash := chi.URLParam(r, "host_hash")
	count, err := parsePositive(r, "count", defaultRequestCount, maxRequestCount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	budgetMS, err := parsePositive(r, "budget_ms", int(defaultBudget.Milliseconds()), int(maxBudget.Milliseconds()))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reqs, err := s.deps.Frontier.Requests(stack, hostHash, count, time.Duration(budgetMS)*time.Millisecond)
	if err != nil {
		s.logger.Error("list requests failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list requests")
		return
	}
	if reqs == nil {
		reqs = []request.Request{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"stack": stack.String(), "host_hash": hostHash, "requests": reqs})
}

// listErrors handles GET /v1/errors?limit=. It returns 503 when no error log is wired.
func (s *Server) listErrors(w http.ResponseWriter, r *http.Request) {
	if s.deps.Errors == nil {
		writeError(w, http.StatusServiceUnavailable, "error log unavailable")
		return
	}
	limit, err := parsePositive(r, "limit", defaultErrorLimit, maxErrorLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), errorLogTimeout)
	defer cancel()
	entries, err := s.deps.Errors.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("list errors failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list errors")
		return
	}
	if entries == nil {
		entries = []store.ErrorEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"errors": entries})
}

func parseStack(r *http.Request) (noticed.StackType, error) {
	stack, err := noticed.ParseStackType(chi.URLParam(r, "stack"))
	if err != nil {
		return 0, errors.New("invalid stack")
	}
	return stack, nil
}

func parsePositive(r *http.Request, name string, def, maxValue int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid " + name)
	}
	if val > maxValue {
		val = maxValue
	}
	return val, nil
}

type stackDTO struct {
	Stack string `json:"stack"`
	Size  int    `json:"size"`
}

type hostDTO struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	HostHash string `json:"host_hash"`
	Size     int    `json:"size"`
	WaitMS   int64  `json:"wait_ms"`
}
