package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wsadapter "flinkly/adapters/websocket"
	"flinkly/analytics"
	"flinkly/core"
	"flinkly/engine"
	"flinkly/realtime"
	"flinkly/scheduler"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables CORS for the given origin (use "*" for any).
	AllowCORSOrigin string
	// APIKeys, if non-empty, enables static API key auth via Authorization: Bearer or X-API-Key.
	APIKeys []string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// RateLimitCleanup evicts limiters idle for longer than this.
	RateLimitCleanup time.Duration
	// MetricsPath exposes Gatherer when both are set.
	MetricsPath string
	Gatherer    prometheus.Gatherer
}

// Deps are the components the routes read from. Only Service is required.
type Deps struct {
	Service   *engine.Service
	Scheduler *scheduler.Scheduler
	Hub       *realtime.Hub
	Stats     *analytics.ActivityStats
	Logger    *slog.Logger
}

type api struct {
	Deps
}

// NewMux builds an http.Handler exposing the ops API and the event stream.
// Routes:
//   - GET  {prefix}/healthz
//   - GET  {prefix}/levels
//   - POST {prefix}/levels/evaluate
//   - GET  {prefix}/users/{id}/digest
//   - GET  {prefix}/jobs
//   - POST {prefix}/jobs/{name}/run
//   - GET  {prefix}/jobs/{name}/runs?limit=10
//   - GET  {prefix}/stats
//   - WS   {prefix}/ws?types=seller_level_up
//
// Health and metrics bypass API key auth.
func NewMux(deps Deps, opts Options) http.Handler {
	if deps.Service == nil {
		panic("httpapi requires a service")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	a := &api{Deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Logger))
	r.Use(middleware.Recoverer)
	if opts.AllowCORSOrigin != "" {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{opts.AllowCORSOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-API-Key"},
			MaxAge:         300,
		}))
	}
	if opts.RateLimitEnabled && opts.RateLimitRPM > 0 && opts.RateLimitBurst > 0 {
		r.Use(newRateLimiter(opts.RateLimitRPM, opts.RateLimitBurst, opts.RateLimitCleanup).Handler)
	}
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	routes := func(r chi.Router) {
		r.Get("/healthz", a.healthCheck)
		if opts.MetricsPath != "" && opts.Gatherer != nil {
			r.Handle(opts.MetricsPath, promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
		}

		r.Group(func(r chi.Router) {
			if len(opts.APIKeys) > 0 {
				r.Use(apiKeyAuth(opts.APIKeys))
			}
			r.Get("/levels", a.listLevels)
			r.Post("/levels/evaluate", a.evaluateLevel)
			r.Get("/users/{id}/digest", a.userDigest)
			r.Get("/jobs", a.listJobs)
			r.Post("/jobs/{name}/run", a.runJob)
			r.Get("/jobs/{name}/runs", a.jobRuns)
			r.Get("/stats", a.stats)
			if deps.Hub != nil {
				r.Handle("/ws", wsadapter.Handler(deps.Hub))
			}
		})
	}
	if prefix := normalizePrefix(opts.PathPrefix); prefix != "/" {
		r.Route(prefix, routes)
	} else {
		routes(r)
	}
	return r
}

// healthCheck pings the store.
func (a *api) healthCheck(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{"storage": "ok"},
	}
	code := http.StatusOK
	if err := a.Service.Ping(r.Context()); err != nil {
		code = http.StatusServiceUnavailable
		status["status"] = "unhealthy"
		status["checks"] = map[string]any{"storage": "failed"}
	}
	writeJSONStatus(w, code, status)
}

type levelRequirement struct {
	Level        core.SellerLevel `json:"level"`
	Requirements core.SellerStats `json:"requirements"`
}

func (a *api) listLevels(w http.ResponseWriter, _ *http.Request) {
	table := a.Service.Classifier().Requirements()
	out := make([]levelRequirement, 0, len(core.LevelOrder))
	for _, lvl := range core.LevelOrder {
		out = append(out, levelRequirement{Level: lvl, Requirements: table[lvl]})
	}
	writeJSON(w, out)
}

type evaluateRequest struct {
	CurrentLevel string           `json:"current_level"`
	Stats        core.SellerStats `json:"stats"`
}

type evaluateResponse struct {
	CurrentLevel core.SellerLevel          `json:"current_level"`
	NextLevel    core.SellerLevel          `json:"next_level,omitempty"`
	Upgrade      bool                      `json:"upgrade"`
	Meets        map[core.SellerLevel]bool `json:"meets"`
	Progress     *core.Progress            `json:"progress,omitempty"`
}

func (a *api) evaluateLevel(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "body must be a JSON object", nil)
		return
	}
	current := core.LevelNew
	if req.CurrentLevel != "" {
		lvl, err := core.ParseSellerLevel(req.CurrentLevel)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_level", err.Error(), nil)
			return
		}
		current = lvl
	}
	if req.Stats.ResponseTimeHours == 0 {
		req.Stats.ResponseTimeHours = core.DefaultResponseTimeHours
	}
	c := a.Service.Classifier()
	resp := evaluateResponse{CurrentLevel: current, Meets: make(map[core.SellerLevel]bool, len(core.LevelOrder))}
	for _, lvl := range core.LevelOrder {
		resp.Meets[lvl] = c.Meets(req.Stats, lvl)
	}
	resp.NextLevel, resp.Upgrade = c.NextLevel(current, req.Stats)
	if p, ok := c.LevelProgress(current, req.Stats); ok {
		resp.Progress = &p
	}
	writeJSON(w, resp)
}

func (a *api) userDigest(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_user", "user id must be a positive integer", nil)
		return
	}
	data, err := a.Service.AggregateDigestContent(r.Context(), core.UserID(id))
	if err != nil {
		a.Logger.ErrorContext(r.Context(), "digest preview failed", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "digest could not be built", nil)
		return
	}
	if data == nil {
		writeError(w, http.StatusNotFound, "digest_unavailable", "user not found or store unavailable", nil)
		return
	}
	writeJSON(w, data)
}

func (a *api) listJobs(w http.ResponseWriter, _ *http.Request) {
	if a.Scheduler == nil {
		writeJSON(w, []scheduler.JobInfo{})
		return
	}
	writeJSON(w, a.Scheduler.Jobs())
}

func (a *api) runJob(w http.ResponseWriter, r *http.Request) {
	if a.Scheduler == nil {
		writeError(w, http.StatusNotFound, "unknown_job", "scheduler disabled", nil)
		return
	}
	// a manual run completes even if the caller goes away
	rec, err := a.Scheduler.RunNow(context.WithoutCancel(r.Context()), chi.URLParam(r, "name"))
	switch {
	case errors.Is(err, scheduler.ErrUnknownJob):
		writeError(w, http.StatusNotFound, "unknown_job", err.Error(), nil)
	case errors.Is(err, scheduler.ErrJobLocked):
		writeError(w, http.StatusConflict, "job_running", err.Error(), rec)
	case err != nil:
		writeJSONStatus(w, http.StatusInternalServerError, rec)
	default:
		writeJSON(w, rec)
	}
}

func (a *api) jobRuns(w http.ResponseWriter, r *http.Request) {
	if a.Scheduler == nil {
		writeError(w, http.StatusNotFound, "unknown_job", "scheduler disabled", nil)
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	runs, err := a.Scheduler.History(r.Context(), chi.URLParam(r, "name"), limit)
	if errors.Is(err, scheduler.ErrUnknownJob) {
		writeError(w, http.StatusNotFound, "unknown_job", err.Error(), nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
		return
	}
	if runs == nil {
		runs = []scheduler.RunRecord{}
	}
	writeJSON(w, runs)
}

func (a *api) stats(w http.ResponseWriter, _ *http.Request) {
	if a.Stats == nil {
		writeJSON(w, analytics.NewActivityStats().Snapshot())
		return
	}
	writeJSON(w, a.Stats.Snapshot())
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return "/"
	}
	if prefix[0] != '/' {
		prefix = "/" + prefix
	}
	return prefix
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details any) {
	writeJSONStatus(w, status, apiError{Code: code, Message: msg, Details: details})
}
