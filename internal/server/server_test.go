package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
	"github.com/KaramelBytes/districtmatch/internal/dataset"
	"github.com/KaramelBytes/districtmatch/internal/match"
)

type stubSource struct {
	years map[int]*dataset.YearData
}

func (s *stubSource) Load(_ context.Context, year int) (*dataset.YearData, error) {
	yd, ok := s.years[year]
	if !ok {
		return nil, fmt.Errorf("year %d: %w", year, dataset.ErrYearUnavailable)
	}
	return yd, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *Metrics) {
	t.Helper()
	header := []string{dataset.IDColumn, dataset.NameColumn, dataset.CountyColumn, "Enrollment", "Budget", "Deficit"}
	rows := [][]string{
		{"'001902", "ALPHA ISD", "TRAVIS", "100", "10", "1"},
		{"001903", "BETA ISD", "TRAVIS", "110", "12", "2"},
		{"001904", "GAMMA ISD", "HAYS", "300", "40", "-5"},
		{"001905", "ALPHA ISD", "HAYS", "120", "11", "3"},
		{"001906", "DELTA CISD", "BEXAR", "900", "95", "4"},
	}
	tb, err := dataset.NewTable(2023, header, rows, dataset.DefaultNumberFormat())
	require.NoError(t, err)
	reg, err := buckets.NewRegistry([]buckets.Bucket{
		{Key: "size", Label: "Size", Columns: []string{"ENR", "BUD"}},
		{Key: "finance", Label: "Finance", Columns: []string{"DEF"}},
		{Key: buckets.IdentifiersKey, Columns: []string{dataset.IDColumn, dataset.NameColumn}},
	})
	require.NoError(t, err)
	src := &stubSource{years: map[int]*dataset.YearData{2023: {
		Year:   2023,
		Table:  tb,
		Labels: buckets.Labels{"ENR": "Enrollment", "BUD": "Budget", "DEF": "Deficit"},
	}}}
	eng, err := match.NewEngine(reg, src)
	require.NoError(t, err)

	m := NewMetrics()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(eng, Options{
		Defaults: Defaults{Year: 2023, Metric: "euclidean", Impute: "median", Neighbors: 3},
		Metrics:  m,
		Logger:   log,
	})
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return ts, m
}

func postMatch(t *testing.T, ts *httptest.Server, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/match", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestMatchEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	t.Run("defaults fill the request", func(t *testing.T) {
		resp, out := postMatch(t, ts, `{"district_id":"1902","buckets":["size"]}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
		assert.Equal(t, "1902", out["district_id"])
		assert.Equal(t, "euclidean", out["metric"])
		neighbors := out["neighbors"].([]any)
		require.Len(t, neighbors, 3)
		first := neighbors[0].(map[string]any)
		assert.Equal(t, "1902", first["district_id"])
		assert.Equal(t, 0.0, first["distance"])
	})

	cases := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"unknown bucket", `{"district_id":"1902","buckets":["nonexistent_bucket"]}`, http.StatusBadRequest, "nonexistent_bucket"},
		{"unknown metric", `{"district_id":"1902","buckets":["size"],"metric":"chebyshev"}`, http.StatusBadRequest, "chebyshev"},
		{"bad neighbors", `{"district_id":"1902","buckets":["size"],"n_neighbors":-2}`, http.StatusBadRequest, "n_neighbors"},
		{"unknown district", `{"district_id":"999999","buckets":["size"]}`, http.StatusNotFound, "999999"},
		{"unknown year", `{"year":1990,"district_id":"1902","buckets":["size"]}`, http.StatusNotFound, "1990"},
		{"negative canberra", `{"district_id":"1902","buckets":["finance"],"metric":"canberra"}`, http.StatusUnprocessableEntity, "Deficit"},
		{"malformed body", `{"district_id":`, http.StatusBadRequest, "invalid request body"},
		{"unknown field", `{"district":"1902"}`, http.StatusBadRequest, "invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, out := postMatch(t, ts, tc.body)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
			assert.Equal(t, float64(tc.status), out["status"])
			assert.Contains(t, out["detail"], tc.detail)
			assert.Equal(t, "/v1/match", out["instance"])
		})
	}

	t.Run("problem carries hint", func(t *testing.T) {
		_, out := postMatch(t, ts, `{"district_id":"1902","buckets":["finance"],"metric":"canberra"}`)
		assert.Contains(t, out["hint"], "Canberra")
	})
}

func TestRequestIDPropagates(t *testing.T) {
	ts, _ := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestDistrictsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/years/2023/districts")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Year      int              `json:"year"`
		Districts []dataset.Choice `json:"districts"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, 2023, out.Year)
	require.Len(t, out.Districts, 5)
	var labels []string
	for _, c := range out.Districts {
		labels = append(labels, c.Label)
	}
	assert.Contains(t, labels, "ALPHA ISD (TRAVIS)")
	assert.Contains(t, labels, "DELTA CISD")

	for path, status := range map[string]int{
		"/v1/years/1990/districts": http.StatusNotFound,
		"/v1/years/abc/districts":  http.StatusBadRequest,
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, status, resp.StatusCode, path)
	}
}

func TestBucketsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/v1/buckets?year=2023")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Buckets []bucketView `json:"buckets"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Buckets, 2, "identifier bucket is not a feature bucket")
	byKey := map[string]bucketView{}
	for _, b := range out.Buckets {
		byKey[b.Key] = b
	}
	assert.Equal(t, []string{"Enrollment", "Budget"}, byKey["size"].Resolved)
	assert.Equal(t, []string{"Deficit"}, byKey["finance"].Resolved)
}

func TestMetricsEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	postMatch(t, ts, `{"district_id":"1902","buckets":["size"]}`)
	postMatch(t, ts, `{"district_id":"1902","buckets":["size"],"metric":"bogus"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	text := string(body)
	assert.Contains(t, text, `districtmatch_match_queries_total{metric="euclidean",outcome="ok"} 1`)
	assert.Contains(t, text, `districtmatch_match_queries_total{metric="invalid",outcome="4xx"} 1`)
	assert.Contains(t, text, `route="/v1/match"`)
	assert.False(t, strings.Contains(text, "bogus"))
}

func TestUnknownRouteIsProblem(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/problem+json", resp.Header.Get("Content-Type"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(&match.SingularCovarianceError{}))
	assert.Equal(t, http.StatusUnprocessableEntity, StatusFor(&match.EmptyColumnError{Column: "x"}))
	assert.Equal(t, http.StatusNotFound, StatusFor(fmt.Errorf("load: %w", dataset.ErrYearUnavailable)))
	assert.Equal(t, http.StatusInternalServerError, StatusFor(io.ErrUnexpectedEOF))
}
