package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

// Checker verifies that an infrastructure dependency is reachable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a ping function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Dependency is one named check. A failing optional dependency degrades
// the service without making it unhealthy.
type Dependency struct {
	Name     string
	Checker  Checker
	Optional bool
}

type Handler struct {
	deps   []Dependency
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger, deps ...Dependency) *Handler {
	return &Handler{deps: deps, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

type Result struct {
	Status string `json:"status"`
}

type Response struct {
	Status string            `json:"status"`
	Checks map[string]Result `json:"checks"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	errs := make([]error, len(h.deps))
	var wg sync.WaitGroup
	for i, d := range h.deps {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.Checker.Check(ctx)
		}()
	}
	wg.Wait()

	resp := Response{Status: "ok", Checks: make(map[string]Result, len(h.deps))}
	status := http.StatusOK
	for i, d := range h.deps {
		if errs[i] == nil {
			resp.Checks[d.Name] = Result{Status: "ok"}
			continue
		}
		h.logger.Error("health check failed", "name", d.Name, "optional", d.Optional, "error", errs[i])
		resp.Checks[d.Name] = Result{Status: "error"}
		switch {
		case !d.Optional:
			resp.Status = "error"
			status = http.StatusServiceUnavailable
		case resp.Status == "ok":
			resp.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
