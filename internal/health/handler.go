package health

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"lv-paperdesk/internal/httputil"

	"github.com/jackc/pgx/v5/pgxpool"
)

const checkTimeout = 2 * time.Second

// Check is a named dependency probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler serves liveness, readiness and a diagnostics dump.
type Handler struct {
	startedAt time.Time
	storeKind string
	checks    []Check
	pool      *pgxpool.Pool
	now       func() time.Time
}

func NewHandler(startedAt time.Time, storeKind string) *Handler {
	start := startedAt.UTC()
	if start.IsZero() {
		start = time.Now().UTC()
	}
	return &Handler{
		startedAt: start,
		storeKind: storeKind,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *Handler) AddCheck(name string, fn func(ctx context.Context) error) {
	h.checks = append(h.checks, Check{Name: name, Fn: fn})
}

// SetPool adds connection pool statistics to the diagnostics dump.
func (h *Handler) SetPool(pool *pgxpool.Pool) {
	h.pool = pool
}

type checkResult struct {
	Reachable bool   `json:"reachable"`
	PingMs    int64  `json:"ping_ms"`
	Error     string `json:"error,omitempty"`
}

type readyResponse struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	UptimeSec int64                  `json:"uptime_sec"`
	Store     string                 `json:"store"`
	Checks    map[string]checkResult `json:"checks,omitempty"`
}

type poolStats struct {
	TotalConns    int32 `json:"total_conns"`
	IdleConns     int32 `json:"idle_conns"`
	AcquiredConns int32 `json:"acquired_conns"`
	MaxConns      int32 `json:"max_conns"`
	AcquireCount  int64 `json:"acquire_count"`
	AcquireMs     int64 `json:"acquire_duration_ms"`
}

type runtimeStats struct {
	GoVersion  string `json:"go_version"`
	Goroutines int    `json:"goroutines"`
	GoMaxProcs int    `json:"gomaxprocs"`
	NumGC      uint32 `json:"num_gc"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	HeapInuse  uint64 `json:"heap_inuse_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
}

type fullResponse struct {
	readyResponse
	PID      int          `json:"pid"`
	Hostname string       `json:"hostname"`
	Runtime  runtimeStats `json:"runtime"`
	Pool     *poolStats   `json:"pool,omitempty"`
	Build    string       `json:"build,omitempty"`
}

func (h *Handler) uptime(now time.Time) int64 {
	d := now.Sub(h.startedAt)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

func (h *Handler) probe(ctx context.Context) (readyResponse, bool) {
	now := h.now()
	resp := readyResponse{
		Status:    "ok",
		Timestamp: now.Format(time.RFC3339),
		UptimeSec: h.uptime(now),
		Store:     h.storeKind,
	}
	ok := true
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]checkResult, len(h.checks))
	}
	for _, c := range h.checks {
		cctx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		err := c.Fn(cctx)
		cancel()
		res := checkResult{Reachable: err == nil, PingMs: time.Since(start).Milliseconds()}
		if err != nil {
			res.Error = err.Error()
			ok = false
		}
		resp.Checks[c.Name] = res
	}
	if !ok {
		resp.Status = "degraded"
	}
	return resp, ok
}

// Live never touches dependencies.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	now := h.now()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"timestamp":  now.Format(time.RFC3339),
		"uptime_sec": h.uptime(now),
	})
}

// Ready answers 503 when any dependency probe fails.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	resp, ok := h.probe(r.Context())
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

// Full adds process, runtime and pool details to the readiness report.
// It is mounted behind the internal token.
func (h *Handler) Full(w http.ResponseWriter, r *http.Request) {
	ready, ok := h.probe(r.Context())
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resp := fullResponse{
		readyResponse: ready,
		PID:           os.Getpid(),
		Runtime: runtimeStats{
			GoVersion:  runtime.Version(),
			Goroutines: runtime.NumGoroutine(),
			GoMaxProcs: runtime.GOMAXPROCS(0),
			NumGC:      mem.NumGC,
			HeapAlloc:  mem.HeapAlloc,
			HeapInuse:  mem.HeapInuse,
			SysBytes:   mem.Sys,
		},
	}
	if host, err := os.Hostname(); err == nil {
		resp.Hostname = host
	}
	if info, ok := debug.ReadBuildInfo(); ok && info != nil {
		resp.Build = strings.TrimSpace(info.Main.Path + " " + info.Main.Version)
	}
	if h.pool != nil {
		st := h.pool.Stat()
		resp.Pool = &poolStats{
			TotalConns:    st.TotalConns(),
			IdleConns:     st.IdleConns(),
			AcquiredConns: st.AcquiredConns(),
			MaxConns:      st.MaxConns(),
			AcquireCount:  st.AcquireCount(),
			AcquireMs:     st.AcquireDuration().Milliseconds(),
		}
	}
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
