// Package health serves the liveness and readiness probes of casescribe.
//
// Three routes are registered by [Handler.Register]:
//
//   - GET /healthz answers 200 while the process can serve HTTP.
//   - GET /readyz runs every [Checker] and answers 503 if any of them fails.
//   - GET /health is the summary older clients poll:
//     {"ok": true, "use_whisper": bool}.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCheckTimeout bounds a [Checker] that does not set its own Timeout.
const DefaultCheckTimeout = 5 * time.Second

// TranscriberCheck names the checker whose outcome /health reports as
// use_whisper.
const TranscriberCheck = "transcriber"

// Probe outcomes.
const (
	StatusOK   = "ok"
	StatusFail = "fail"
)

// Checker is one named readiness probe. Check returns nil when the dependency
// can serve requests.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error

	// Timeout overrides DefaultCheckTimeout for this checker.
	Timeout time.Duration
}

// CheckResult is the outcome of one [Checker].
type CheckResult struct {
	Status    string  `json:"status"`
	Error     string  `json:"error,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

// Report is the /readyz response body.
type Report struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// OK reports whether every check passed.
func (r Report) OK() bool { return r.Status == StatusOK }

type summary struct {
	OK         bool `json:"ok"`
	UseWhisper bool `json:"use_whisper"`
}

// Handler evaluates a fixed set of checkers. It is safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New returns a Handler for checkers. The slice is copied.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register adds the probe routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
	mux.HandleFunc("GET /health", h.Summary)
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Report{Status: StatusOK})
}

// Readyz answers 200 with the [Report] when every checker passes and 503
// otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := h.Run(r.Context())
	status := http.StatusOK
	if !rep.OK() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, rep)
}

// Summary always answers 200. use_whisper is true when a [TranscriberCheck]
// checker is registered and passes.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	s := summary{OK: true}
	for _, c := range h.checkers {
		if c.Name == TranscriberCheck {
			s.UseWhisper = probe(r.Context(), c).Status == StatusOK
			break
		}
	}
	writeJSON(w, http.StatusOK, s)
}

// Run evaluates all checkers concurrently, each under its own deadline.
func (h *Handler) Run(ctx context.Context) Report {
	results := make([]CheckResult, len(h.checkers))
	var g errgroup.Group
	for i, c := range h.checkers {
		g.Go(func() error {
			results[i] = probe(ctx, c)
			return nil
		})
	}
	_ = g.Wait()

	rep := Report{Status: StatusOK}
	if len(results) > 0 {
		rep.Checks = make(map[string]CheckResult, len(results))
	}
	for i, res := range results {
		rep.Checks[h.checkers[i].Name] = res
		if res.Status != StatusOK {
			rep.Status = StatusFail
		}
	}
	return rep
}

func probe(ctx context.Context, c Checker) CheckResult {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := c.Check(ctx)
	res := CheckResult{
		Status:    StatusOK,
		LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
	}
	if err != nil {
		res.Status = StatusFail
		res.Error = err.Error()
	}
	return res
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"fail"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
