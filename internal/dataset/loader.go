package dataset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
)

// ErrYearUnavailable is returned when no data exists for the requested year.
var ErrYearUnavailable = errors.New("year data unavailable")

// KeySheet is the worksheet of the TAPR advanced download that holds the
// NAME/LABEL key for district profile columns.
const KeySheet = "distprof"

// YearData is one reporting year's district table and label key.
type YearData struct {
	Year   int
	Table  *Table
	Labels buckets.Labels

	// Generation is unique per load; caches derived from a load key on it.
	Generation uint64
}

var loadGeneration atomic.Uint64

// NextGeneration returns a fresh YearData generation.
func NextGeneration() uint64 { return loadGeneration.Add(1) }

// Source provides per-year data to the matching engine.
type Source interface {
	Load(ctx context.Context, year int) (*YearData, error)
}

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	// Root is a local directory or an http(s) base URL. Files are read from
	// <Root>/<year>/merged_<year>.csv and either key_<year>.csv or
	// TAPR_district_adv_<year>.xlsx.
	Root string
	// ExcludeCharters keeps only rows whose charter flag is "N".
	ExcludeCharters bool
	// MaskNegative treats negative numeric cells as missing. TEA uses
	// negative sentinels for masked values.
	MaskNegative bool
	// DropSparseThreshold drops columns missing in at least this percent of
	// rows, along with numerator/denominator columns. Zero disables.
	DropSparseThreshold float64
	Format              NumberFormat
	// Remote fetch settings.
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       *slog.Logger
}

// Loader reads and cleans TAPR year files from disk or over HTTP.
type Loader struct {
	opts   LoaderOptions
	remote bool
	client *retryablehttp.Client
	log    *slog.Logger
}

// NewLoader returns a Loader. Remote roots get a retrying HTTP client.
func NewLoader(opts LoaderOptions) *Loader {
	if opts.Format == (NumberFormat{}) {
		opts.Format = DefaultNumberFormat()
	}
	l := &Loader{opts: opts, log: opts.Logger}
	if l.log == nil {
		l.log = slog.Default()
	}
	if strings.HasPrefix(opts.Root, "http://") || strings.HasPrefix(opts.Root, "https://") {
		l.remote = true
		if opts.Timeout == 0 {
			opts.Timeout = 60 * time.Second
		}
		rc := retryablehttp.NewClient()
		rc.RetryMax = opts.RetryMax
		if opts.RetryWaitMin > 0 {
			rc.RetryWaitMin = opts.RetryWaitMin
		}
		if opts.RetryWaitMax > 0 {
			rc.RetryWaitMax = opts.RetryWaitMax
		}
		rc.HTTPClient.Timeout = opts.Timeout
		rc.Logger = nil
		l.client = rc
	}
	return l
}

// Load reads, cleans and returns the data for year.
func (l *Loader) Load(ctx context.Context, year int) (*YearData, error) {
	start := time.Now()
	body, err := l.fetch(ctx, year, fmt.Sprintf("merged_%d.csv", year))
	if err != nil {
		return nil, err
	}
	t, err := ReadCSV(bytes.NewReader(body), year, l.opts.Format)
	if err != nil {
		return nil, fmt.Errorf("parse merged_%d.csv: %w", year, err)
	}
	if !t.Has(IDColumn) {
		return nil, fmt.Errorf("merged_%d.csv has no %s column", year, IDColumn)
	}
	labels, err := l.loadLabels(ctx, year)
	if err != nil {
		return nil, err
	}
	rows := t.Len()
	t = Clean(t, l.opts)
	l.log.Debug("loaded year",
		"year", year,
		"rows", rows,
		"kept", t.Len(),
		"columns", len(t.Columns()),
		"labels", len(labels),
		"duration", time.Since(start),
	)
	return &YearData{Year: year, Table: t, Labels: labels, Generation: NextGeneration()}, nil
}

func (l *Loader) loadLabels(ctx context.Context, year int) (buckets.Labels, error) {
	var rows [][]string
	body, err := l.fetch(ctx, year, fmt.Sprintf("key_%d.csv", year))
	switch {
	case err == nil:
		header, data, err := readCSVRows(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("parse key_%d.csv: %w", year, err)
		}
		rows = append([][]string{header}, data...)
	case errors.Is(err, ErrYearUnavailable):
		name := fmt.Sprintf("TAPR_district_adv_%d.xlsx", year)
		body, err = l.fetch(ctx, year, name)
		if err != nil {
			return nil, err
		}
		rows, err = ReadXLSXSheet(body, KeySheet, 0)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
	default:
		return nil, err
	}
	labels, err := buckets.LabelsFromRows(rows)
	if err != nil {
		return nil, fmt.Errorf("label key %d: %w", year, err)
	}
	return labels, nil
}

// fetch returns the bytes of <root>/<year>/<name>. A missing file yields an
// error wrapping ErrYearUnavailable.
func (l *Loader) fetch(ctx context.Context, year int, name string) ([]byte, error) {
	if !l.remote {
		p := filepath.Join(l.opts.Root, fmt.Sprint(year), name)
		b, err := os.ReadFile(p)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%s: %w", p, ErrYearUnavailable)
			}
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		return b, nil
	}
	url := fmt.Sprintf("%s/%d/%s", strings.TrimSuffix(l.opts.Root, "/"), year, name)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			l.log.Error("Failed to close response body", "error", err)
		}
	}()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%s: %w", url, ErrYearUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s failed with status %d", url, resp.StatusCode)
	}
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return b, nil
}

// Clean applies the loader's row and column rules to t: rows without a
// district id are removed, then the charter filter, negative masking and
// sparse-column drop run as configured.
func Clean(t *Table, opts LoaderOptions) *Table {
	t = t.Filter(func(i int) bool { return t.ID(i) != "" })
	if opts.ExcludeCharters && t.Has(CharterColumn) {
		t = t.Filter(func(i int) bool { return strings.EqualFold(t.Value(i, CharterColumn), "N") })
	}
	if opts.MaskNegative {
		var cols []string
		for _, c := range t.Columns() {
			if !protectedColumn(c) {
				cols = append(cols, c)
			}
		}
		format := t.format
		t = t.MapCells(cols, func(s string) string {
			if x, ok := ParseNumber(s, format); ok && x < 0 {
				return ""
			}
			return s
		})
	}
	if opts.DropSparseThreshold > 0 {
		drop := append(SparseColumns(t, opts.DropSparseThreshold), RatioColumns(t)...)
		t = t.Drop(drop)
	}
	return t
}
