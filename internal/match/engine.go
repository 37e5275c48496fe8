// Package match finds the districts most similar to a target district over
// a selection of feature buckets.
//
// A query resolves its buckets to the year's column labels, imputes and
// (for euclidean, manhattan and mahalanobis) standardizes those columns, then
// ranks every district by exact distance to the target. The target itself is
// always the first neighbor and counts toward the requested neighbor count.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
	"github.com/KaramelBytes/districtmatch/internal/cache"
	"github.com/KaramelBytes/districtmatch/internal/dataset"
)

// Query is one similarity request.
type Query struct {
	Year       int      `json:"year"`
	DistrictID string   `json:"district_id"`
	Buckets    []string `json:"buckets"`
	Neighbors  int      `json:"n_neighbors"`
	Metric     string   `json:"metric"`
	Impute     string   `json:"impute_strategy"`
	// FillValue is used by the constant impute strategy.
	FillValue float64 `json:"fill_value,omitempty"`
}

// Engine runs queries against a data source.
type Engine struct {
	registry *buckets.Registry
	source   dataset.Source
	indexes  *cache.LoaderCache[*Index]
	log      *slog.Logger
	// OnIndexLookup, when set, reports prepared-index cache outcomes.
	OnIndexLookup func(hit bool)
}

// Option configures an Engine.
type Option func(*Engine) error

// WithIndexCache keeps up to size prepared indexes, keyed by year data,
// columns, metric and imputation.
func WithIndexCache(size int) Option {
	return func(e *Engine) error {
		c, err := cache.New[*Index](size)
		if err != nil {
			return fmt.Errorf("index cache: %w", err)
		}
		e.indexes = c
		return nil
	}
}

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		e.log = l
		return nil
	}
}

// NewEngine returns an engine resolving buckets with reg and loading years
// from src.
func NewEngine(reg *buckets.Registry, src dataset.Source, opts ...Option) (*Engine, error) {
	e := &Engine{registry: reg, source: src, log: slog.Default()}
	for _, o := range opts {
		if err := o(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// Registry returns the engine's bucket registry.
func (e *Engine) Registry() *buckets.Registry { return e.registry }

// Source returns the engine's data source.
func (e *Engine) Source() dataset.Source { return e.source }

type plan struct {
	metric   Metric
	strategy Strategy
	pre      PreprocessOptions
}

// Validate checks q without loading any data.
func (e *Engine) Validate(q Query) error {
	_, err := e.plan(q)
	return err
}

func (e *Engine) plan(q Query) (*plan, error) {
	if q.Neighbors < 1 {
		return nil, &ConfigurationError{Key: "n_neighbors", Reason: fmt.Sprintf("must be at least 1, got %d", q.Neighbors)}
	}
	if strings.TrimSpace(q.DistrictID) == "" {
		return nil, &ConfigurationError{Key: "district_id", Reason: "is required"}
	}
	if len(q.Buckets) == 0 {
		return nil, &ConfigurationError{Key: "buckets", Reason: "select at least one bucket"}
	}
	if err := e.registry.Validate(q.Buckets); err != nil {
		return nil, err
	}
	for _, k := range q.Buckets {
		if k == buckets.IdentifiersKey {
			return nil, &ConfigurationError{Key: k, Reason: "identifier columns cannot be used as features"}
		}
	}
	m, err := ParseMetric(q.Metric)
	if err != nil {
		return nil, err
	}
	imp := ImputeMedian
	if q.Impute != "" {
		if imp, err = ParseImputeStrategy(q.Impute); err != nil {
			return nil, err
		}
	}
	s := StrategyFor(m)
	return &plan{
		metric:   m,
		strategy: s,
		pre:      PreprocessOptions{Impute: imp, FillValue: q.FillValue, Standardize: s.Standardize},
	}, nil
}

// Match runs q. Validation errors are returned before any data is loaded.
func (e *Engine) Match(ctx context.Context, q Query) (*Result, error) {
	start := time.Now()
	p, err := e.plan(q)
	if err != nil {
		return nil, err
	}
	yd, err := e.source.Load(ctx, q.Year)
	if err != nil {
		return nil, err
	}
	if len(yd.Table.Lookup(q.DistrictID)) == 0 {
		return nil, &DistrictNotFoundError{ID: q.DistrictID, Year: q.Year}
	}
	res, err := buckets.Resolve(e.registry, yd.Labels, q.Buckets)
	if err != nil {
		return nil, err
	}
	if len(res.Columns) == 0 {
		return nil, &NoFeaturesError{Buckets: res.Keys, Year: q.Year}
	}
	ix, err := e.index(ctx, yd, res.Columns, p)
	if err != nil {
		return nil, err
	}
	row := ix.Frame().Find(q.DistrictID)
	if row < 0 {
		return nil, &DistrictNotFoundError{ID: q.DistrictID, Year: q.Year}
	}
	neighbors := ix.Nearest(row, q.Neighbors)
	ident, _ := e.registry.Bucket(buckets.IdentifiersKey)
	e.log.Debug("match complete",
		"year", q.Year,
		"district", q.DistrictID,
		"metric", p.metric,
		"columns", len(res.Columns),
		"candidates", ix.Frame().Rows(),
		"neighbors", len(neighbors),
		"duration", time.Since(start),
	)
	return &Result{
		Year:         q.Year,
		Buckets:      res.Keys,
		Dataset:      yd.Table,
		Identifiers:  ident.Columns,
		Labels:       res.Labels,
		Columns:      res.Columns,
		EmptyBuckets: res.Empty,
		Metric:       p.metric,
		Impute:       p.pre.Impute,
		Neighbors:    neighbors,
	}, nil
}

// index preprocesses the year for the plan and checks the metric's
// preconditions, reusing a cached index when one is configured.
func (e *Engine) index(ctx context.Context, yd *YearData, cols []string, p *plan) (*Index, error) {
	build := func(context.Context) (*Index, error) {
		f, err := Preprocess(yd.Table, cols, p.pre)
		if err != nil {
			return nil, err
		}
		dist, err := p.strategy.Prepare(f)
		if err != nil {
			return nil, err
		}
		return NewIndex(f, dist), nil
	}
	if e.indexes == nil {
		return build(ctx)
	}
	ix, hit, err := e.indexes.Get(ctx, indexKey(yd, cols, p), build)
	if err == nil && e.OnIndexLookup != nil {
		e.OnIndexLookup(hit)
	}
	return ix, err
}

// YearData is the loaded data of one year.
type YearData = dataset.YearData

// indexKey identifies a prepared index. The load generation ties the entry
// to one load of the year, so a reloaded year gets a fresh index.
func indexKey(yd *YearData, cols []string, p *plan) string {
	var b strings.Builder
	b.WriteString(strconv.Itoa(yd.Year))
	b.WriteString(fmt.Sprintf("|%d|%s|%s|%g", yd.Generation, p.metric, p.pre.Impute, p.pre.FillValue))
	for _, c := range cols {
		b.WriteString("|")
		b.WriteString(c)
	}
	return b.String()
}
