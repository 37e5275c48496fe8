// Package server exposes the match engine over a small JSON HTTP API.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
	"github.com/KaramelBytes/districtmatch/internal/dataset"
	"github.com/KaramelBytes/districtmatch/internal/match"
)

const maxRequestBody = 1 << 20

// Defaults fill the fields a match request leaves empty.
type Defaults struct {
	Year      int
	Metric    string
	Impute    string
	Neighbors int
}

// Options configures a Server.
type Options struct {
	Defaults Defaults
	// Metrics is optional; nil disables /metrics.
	Metrics *Metrics
	Logger  *slog.Logger
}

// Server routes HTTP requests to an engine.
type Server struct {
	engine   *match.Engine
	defaults Defaults
	metrics  *Metrics
	log      *slog.Logger
}

// New returns a server for e.
func New(e *match.Engine, opts Options) *Server {
	s := &Server{engine: e, defaults: opts.Defaults, metrics: opts.Metrics, log: opts.Logger}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(observe(s.log, s.metrics))
	r.Use(maxBody(maxRequestBody))

	r.Get("/healthz", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Route("/v1", func(r chi.Router) {
		r.Get("/buckets", s.listBuckets)
		r.Get("/years/{year}/districts", s.listDistricts)
		r.Post("/match", s.match)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondProblem(w, r, http.StatusNotFound, "no route for "+r.URL.Path, "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondProblem(w, r, http.StatusMethodNotAllowed, r.Method+" not allowed on "+r.URL.Path, "")
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("listening", "addr", addr)
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		s.log.Error("Failed to write health check response", "error", err)
	}
}

type bucketView struct {
	Key     string   `json:"key"`
	Label   string   `json:"label"`
	Columns []string `json:"columns"`
	// Resolved lists the year's column labels when a year is given.
	Resolved []string `json:"resolved,omitempty"`
}

// listBuckets handles GET /v1/buckets[?year=YYYY].
func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	reg := s.engine.Registry()
	var resolved map[string][]string
	if ys := r.URL.Query().Get("year"); ys != "" {
		year, err := strconv.Atoi(ys)
		if err != nil {
			respondProblem(w, r, http.StatusBadRequest, "invalid year "+strconv.Quote(ys), "")
			return
		}
		yd, err := s.engine.Source().Load(r.Context(), year)
		if err != nil {
			respondError(w, r, err)
			return
		}
		resolved = buckets.ResolveAll(reg, yd.Labels)
	}
	out := make([]bucketView, 0, len(reg.Keys()))
	for _, k := range reg.FeatureKeys() {
		b, _ := reg.Bucket(k)
		v := bucketView{Key: b.Key, Label: b.Label, Columns: b.Columns}
		if resolved != nil {
			v.Resolved = resolved[k]
			if v.Resolved == nil {
				v.Resolved = []string{}
			}
		}
		out = append(out, v)
	}
	respondJSON(w, http.StatusOK, map[string]any{"buckets": out})
}

// listDistricts handles GET /v1/years/{year}/districts.
func (s *Server) listDistricts(w http.ResponseWriter, r *http.Request) {
	ys := chi.URLParam(r, "year")
	year, err := strconv.Atoi(ys)
	if err != nil {
		respondProblem(w, r, http.StatusBadRequest, "invalid year "+strconv.Quote(ys), "")
		return
	}
	yd, err := s.engine.Source().Load(r.Context(), year)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"year":      year,
		"districts": dataset.DistrictChoices(yd.Table),
	})
}

type matchResponse struct {
	Year         int                  `json:"year"`
	DistrictID   string               `json:"district_id"`
	Metric       match.Metric         `json:"metric"`
	Impute       match.ImputeStrategy `json:"impute_strategy"`
	Buckets      []string             `json:"buckets"`
	Labels       map[string][]string  `json:"labels"`
	Columns      []string             `json:"columns"`
	EmptyBuckets []string             `json:"empty_buckets,omitempty"`
	Neighbors    []match.Neighbor     `json:"neighbors"`
}

// match handles POST /v1/match.
func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	var q match.Query
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		respondProblem(w, r, http.StatusBadRequest, "invalid request body: "+err.Error(), "")
		return
	}
	s.applyDefaults(&q)

	res, err := s.engine.Match(r.Context(), q)
	if err != nil {
		s.recordQuery(metricLabel(q.Metric), statusClass(StatusFor(err)))
		respondError(w, r, err)
		return
	}
	s.recordQuery(string(res.Metric), "ok")
	respondJSON(w, http.StatusOK, matchResponse{
		Year:         res.Year,
		DistrictID:   res.Neighbors[0].DistrictID,
		Metric:       res.Metric,
		Impute:       res.Impute,
		Buckets:      res.Buckets,
		Labels:       res.Labels,
		Columns:      res.Columns,
		EmptyBuckets: res.EmptyBuckets,
		Neighbors:    res.Neighbors,
	})
}

func (s *Server) applyDefaults(q *match.Query) {
	if q.Year == 0 {
		q.Year = s.defaults.Year
	}
	if q.Metric == "" {
		q.Metric = s.defaults.Metric
	}
	if q.Impute == "" {
		q.Impute = s.defaults.Impute
	}
	if q.Neighbors == 0 {
		q.Neighbors = s.defaults.Neighbors
	}
}

// metricLabel keeps unknown metric names out of metric labels.
func metricLabel(name string) string {
	m, err := match.ParseMetric(name)
	if err != nil {
		return "invalid"
	}
	return string(m)
}

func (s *Server) recordQuery(metric, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordQuery(metric, outcome)
	}
}
