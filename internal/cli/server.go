package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/matzehuels/nixupdate/pkg/store"
)

// server exposes the store read-only over HTTP.
type server struct {
	store    store.Store
	logger   *log.Logger
	now      func() time.Time
	requests *prometheus.CounterVec
}

// newRouter builds the status API:
//
//	GET /healthz
//	GET /api/stats
//	GET /api/records
//	GET /api/records/{attr}
//	GET /api/logs?attr=<attr>
//	GET /api/logs/<drv>
//	GET /metrics
func newRouter(st store.Store, reg *prometheus.Registry, logger *log.Logger) http.Handler {
	s := &server{
		store:  st,
		logger: logger,
		now:    time.Now,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nixupdate_api_requests_total",
			Help: "Status API requests by route and status code.",
		}, []string{"route", "code"}),
	}
	reg.MustRegister(s.requests)
	s.registerStats(reg)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", s.handleStats)
		r.Get("/records", s.handleRecords)
		r.Get("/records/{attr}", s.handleRecord)
		r.Get("/logs", s.handleLogsByAttr)
		r.Get("/logs/*", s.handleLogByDrv)
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return r
}

// registerStats exposes the store statistics as gauges computed on scrape.
func (s *server) registerStats(reg *prometheus.Registry) {
	gauge := func(name, help string, field func(store.Stats) int64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			stats, err := s.store.Stats(ctx, s.now())
			if err != nil {
				s.logger.Warn("could not read store stats", "err", err)
				return 0
			}
			return float64(field(stats))
		})
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		gauge("nixupdate_packages_tracked", "Packages with an update record.",
			func(st store.Stats) int64 { return st.Records }),
		gauge("nixupdate_packages_proposed", "Packages with a pending proposal.",
			func(st store.Stats) int64 { return st.Proposed }),
		gauge("nixupdate_packages_in_backoff", "Packages not yet due for a check.",
			func(st store.Stats) int64 { return st.InBackoff }),
		gauge("nixupdate_failure_logs", "Recorded failed update attempts.",
			func(st store.Stats) int64 { return st.Logs }),
	)
}

// observe logs each request and counts it by route pattern.
func (s *server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.requests.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"took", time.Since(start).Round(time.Microsecond))
	})
}

// =============================================================================
// Handlers
// =============================================================================

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context(), s.now())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.ListRecords(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	now := s.now()
	out := make([]recordJSON, len(records))
	for i := range records {
		out[i] = toRecordJSON(&records[i], now)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecord(r.Context(), chi.URLParam(r, "attr"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordJSON(rec, s.now()))
}

func (s *server) handleLogsByAttr(w http.ResponseWriter, r *http.Request) {
	attr := r.URL.Query().Get("attr")
	if attr == "" {
		writeError(w, http.StatusBadRequest, "attr query parameter required")
		return
	}
	logs, err := s.store.GetFailedLogsByAttr(r.Context(), attr)
	if err != nil {
		s.fail(w, err)
		return
	}
	out := make([]logJSON, len(logs))
	for i, l := range logs {
		out[i] = toLogJSON(l)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleLogByDrv(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	// The leading slash of a store path is eaten by the route.
	if full := "/" + id; strings.HasPrefix(full, store.StorePrefix) {
		id = full
	}
	l, err := s.store.GetLogByDrv(r.Context(), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toLogJSON(*l))
}

func (s *server) fail(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.logger.Error("store request failed", "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

// =============================================================================
// Wire Types
// =============================================================================

type recordJSON struct {
	AttrPath        string     `json:"attr_path"`
	LastAttempt     *time.Time `json:"last_attempt,omitempty"`
	NextAttempt     *time.Time `json:"next_attempt,omitempty"`
	InBackoff       bool       `json:"in_backoff"`
	CurrentVersion  string     `json:"current_version,omitempty"`
	LatestVersion   string     `json:"latest_version,omitempty"`
	ProposedVersion string     `json:"proposed_version,omitempty"`
	PRURL           string     `json:"pr_url,omitempty"`
	PRNumber        int        `json:"pr_number,omitempty"`
}

func toRecordJSON(r *store.Record, now time.Time) recordJSON {
	return recordJSON{
		AttrPath:        r.AttrPath,
		LastAttempt:     r.LastAttempt,
		NextAttempt:     r.NextAttempt,
		InBackoff:       r.InBackoff(now),
		CurrentVersion:  r.CurrentVersion,
		LatestVersion:   r.LatestVersion,
		ProposedVersion: r.ProposedVersion,
		PRURL:           r.PRURL,
		PRNumber:        r.PRNumber,
	}
}

type logJSON struct {
	DrvPath    string    `json:"drv_path"`
	AttrPath   string    `json:"attr_path"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status"`
	OldVersion string    `json:"old_version"`
	NewVersion string    `json:"new_version"`
	RunID      string    `json:"run_id,omitempty"`
	ErrorLog   string    `json:"error_log"`
}

func toLogJSON(l store.Log) logJSON {
	return logJSON{
		DrvPath:    l.DrvPath,
		AttrPath:   l.AttrPath,
		Timestamp:  l.Timestamp,
		Status:     l.Status,
		OldVersion: l.OldVersion,
		NewVersion: l.NewVersion,
		RunID:      l.RunID,
		ErrorLog:   l.ErrorLog,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
