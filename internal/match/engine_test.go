package match

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KaramelBytes/districtmatch/internal/buckets"
	"github.com/KaramelBytes/districtmatch/internal/dataset"
)

var (
	featA = []float64{10, 12, 15, 20, 11, 30, 25, 13, 18, 40}
	featB = []float64{5, 6, 5, 9, 5.5, 12, 10, 6, 8, 20}
	featC = []float64{100, 110, 130, 150, 105, 200, 170, 115, 140, 300}
)

const testYear = 2023

type memSource struct {
	data  map[int]*dataset.YearData
	loads int
}

func (s *memSource) Load(_ context.Context, year int) (*dataset.YearData, error) {
	s.loads++
	yd, ok := s.data[year]
	if !ok {
		return nil, fmt.Errorf("year %d: %w", year, dataset.ErrYearUnavailable)
	}
	return yd, nil
}

func testRegistry(t *testing.T) *buckets.Registry {
	t.Helper()
	reg, err := buckets.NewRegistry([]buckets.Bucket{
		{Key: "demo", Columns: []string{"F1", "F2", "F3"}},
		{Key: "pair", Columns: []string{"F1", "F4"}},
		{Key: "missing", Columns: []string{"ZZZ"}},
		{Key: "ghost", Columns: []string{"F9"}},
		{Key: buckets.IdentifiersKey, Columns: []string{dataset.IDColumn, dataset.NameColumn, dataset.CountyColumn}},
	})
	require.NoError(t, err)
	return reg
}

var testLabels = buckets.Labels{
	"F1": "Feat A",
	"F2": "Feat B",
	"F3": "Feat C",
	"F4": "Feat A x2",
	"F9": "Feat Ghost",
}

type tableOpts struct {
	scaleA   float64
	negative bool
	missing  map[int]bool // rows whose Feat B is blank
}

func demoTable(t *testing.T, o tableOpts) *dataset.Table {
	t.Helper()
	if o.scaleA == 0 {
		o.scaleA = 1
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	header := []string{dataset.IDColumn, dataset.NameColumn, dataset.CountyColumn, "Feat A", "Feat B", "Feat C", "Feat A x2"}
	var rows [][]string
	for i := range featA {
		b := f(featB[i])
		if o.missing[i] {
			b = ""
		}
		if o.negative && i == 3 {
			b = "-5"
		}
		rows = append(rows, []string{
			strconv.Itoa(101 + i), fmt.Sprintf("DISTRICT %d ISD", i+1), "TRAVIS",
			f(featA[i] * o.scaleA), b, f(featC[i]), f(2 * featA[i]),
		})
	}
	tb, err := dataset.NewTable(testYear, header, rows, dataset.DefaultNumberFormat())
	require.NoError(t, err)
	return tb
}

func newTestEngine(t *testing.T, tb *dataset.Table, opts ...Option) (*Engine, *memSource) {
	t.Helper()
	src := &memSource{data: map[int]*dataset.YearData{testYear: {Year: testYear, Table: tb, Labels: testLabels}}}
	e, err := NewEngine(testRegistry(t), src, opts...)
	require.NoError(t, err)
	return e, src
}

func query(metric string, n int) Query {
	return Query{Year: testYear, DistrictID: "101", Buckets: []string{"demo"}, Neighbors: n, Metric: metric, Impute: "median"}
}

// expectedIDs ranks the demo rows by dist over population-standardized
// features, the target first on ties.
func expectedIDs(target, n int, standardized bool, dist func(a, b []float64) float64) []string {
	cols := [][]float64{append([]float64(nil), featA...), append([]float64(nil), featB...), append([]float64(nil), featC...)}
	if standardized {
		for _, c := range cols {
			var mean, ss float64
			for _, v := range c {
				mean += v
			}
			mean /= float64(len(c))
			for _, v := range c {
				ss += (v - mean) * (v - mean)
			}
			std := math.Sqrt(ss / float64(len(c)))
			for i := range c {
				c[i] = (c[i] - mean) / std
			}
		}
	}
	vec := func(i int) []float64 { return []float64{cols[0][i], cols[1][i], cols[2][i]} }
	order := make([]int, len(featA))
	d := make([]float64, len(featA))
	for i := range order {
		order[i] = i
		if i != target {
			d[i] = dist(vec(target), vec(i))
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		if d[order[a]] != d[order[b]] {
			return d[order[a]] < d[order[b]]
		}
		return order[a] == target && order[b] != target
	})
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = strconv.Itoa(101 + order[i])
	}
	return out
}

func euclid(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += (a[i] - b[i]) * (a[i] - b[i])
	}
	return math.Sqrt(s)
}

func TestMatch_EuclideanRanking(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	res, err := e.Match(context.Background(), query("euclidean", 3))
	require.NoError(t, err)

	require.Len(t, res.Neighbors, 3)
	assert.Equal(t, "101", res.Neighbors[0].DistrictID)
	assert.Equal(t, 0.0, res.Neighbors[0].Distance)
	assert.Equal(t, expectedIDs(0, 3, true, euclid), res.IDs())
	assert.Less(t, res.Neighbors[0].Distance, res.Neighbors[1].Distance, "target must be the unique minimum")
	assert.LessOrEqual(t, res.Neighbors[1].Distance, res.Neighbors[2].Distance)

	assert.Equal(t, []string{"Feat A", "Feat B", "Feat C"}, res.Columns)
	assert.Equal(t, map[string][]string{"demo": {"Feat A", "Feat B", "Feat C"}}, res.Labels)
	assert.Equal(t, 10, res.Dataset.Len(), "result carries the full dataset")
	assert.Equal(t, Euclidean, res.Metric)
	assert.Equal(t, ImputeMedian, res.Impute)
}

func TestMatch_CountContract(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	for _, n := range []int{1, 5, 10, 25} {
		res, err := e.Match(context.Background(), query("manhattan", n))
		require.NoError(t, err)
		assert.Len(t, res.Neighbors, min(n, 10))
		assert.Equal(t, "101", res.Neighbors[0].DistrictID)
	}
}

func TestMatch_Deterministic(t *testing.T) {
	for _, m := range MetricNames() {
		if m == string(Mahalanobis) {
			continue // covered with its own data below
		}
		cached, _ := newTestEngine(t, demoTable(t, tableOpts{}), WithIndexCache(4))
		plain, _ := newTestEngine(t, demoTable(t, tableOpts{}))
		q := query(m, 6)
		q.DistrictID = "104"
		first, err := plain.Match(context.Background(), q)
		require.NoError(t, err, m)
		for i := 0; i < 3; i++ {
			again, err := plain.Match(context.Background(), q)
			require.NoError(t, err, m)
			assert.Equal(t, first.Neighbors, again.Neighbors, m)
			fromCache, err := cached.Match(context.Background(), q)
			require.NoError(t, err, m)
			assert.Equal(t, first.Neighbors, fromCache.Neighbors, m)
		}
		assert.Equal(t, "104", first.Neighbors[0].DistrictID, m)
	}
}

func TestMatch_StandardizationInvariance(t *testing.T) {
	for _, m := range []string{"euclidean", "manhattan"} {
		base, _ := newTestEngine(t, demoTable(t, tableOpts{}))
		scaled, _ := newTestEngine(t, demoTable(t, tableOpts{scaleA: 1000}))
		want, err := base.Match(context.Background(), query(m, 10))
		require.NoError(t, err)
		got, err := scaled.Match(context.Background(), query(m, 10))
		require.NoError(t, err)
		assert.Equal(t, want.IDs(), got.IDs(), m)
	}
}

func TestMatch_CanberraRejectsNegative(t *testing.T) {
	e, src := newTestEngine(t, demoTable(t, tableOpts{negative: true}))
	res, err := e.Match(context.Background(), query("canberra", 3))
	assert.Nil(t, res)
	var ne *NegativeValueError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "Feat B", ne.Column)
	assert.Equal(t, "104", ne.DistrictID)
	assert.Equal(t, -5.0, ne.Value)
	assert.Equal(t, 1, src.loads)

	// the same data is fine for metrics without the precondition
	_, err = e.Match(context.Background(), query("euclidean", 3))
	assert.NoError(t, err)
}

func TestMatch_CanberraAndCosine(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	for _, m := range []string{"canberra", "cosine"} {
		res, err := e.Match(context.Background(), query(m, 4))
		require.NoError(t, err, m)
		require.Len(t, res.Neighbors, 4)
		assert.Equal(t, "101", res.Neighbors[0].DistrictID, m)
		dist := canberraDistance
		if m == "cosine" {
			dist = cosineDistance
		}
		assert.Equal(t, expectedIDs(0, 4, false, dist), res.IDs(), m)
	}
}

func TestMatch_MahalanobisCollinear(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	q := query("mahalanobis", 3)
	q.Buckets = []string{"pair"}
	_, err := e.Match(context.Background(), q)
	var se *SingularCovarianceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, []string{"Feat A", "Feat A x2"}, se.Columns)
	assert.Contains(t, Hint(err), "Mahalanobis distance is not available")
}

func TestMatch_Mahalanobis(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	res, err := e.Match(context.Background(), query("mahalanobis", 10))
	require.NoError(t, err)
	assert.Equal(t, "101", res.Neighbors[0].DistrictID)
	assert.Equal(t, 0.0, res.Neighbors[0].Distance)
	for i := 1; i < len(res.Neighbors); i++ {
		assert.Greater(t, res.Neighbors[i].Distance, 0.0)
		assert.LessOrEqual(t, res.Neighbors[i-1].Distance, res.Neighbors[i].Distance)
	}
}

func TestMatch_DistrictNotFound(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	q := query("euclidean", 3)
	q.DistrictID = "999999"
	_, err := e.Match(context.Background(), q)
	require.ErrorIs(t, err, ErrDistrictNotFound)
	assert.Contains(t, err.Error(), "999999")
}

func TestMatch_DistrictNotFoundBeforePreprocessing(t *testing.T) {
	absent := func(metric string, bucketKeys ...string) Query {
		q := query(metric, 3)
		q.DistrictID = "999"
		if len(bucketKeys) > 0 {
			q.Buckets = bucketKeys
		}
		return q
	}

	negative, _ := newTestEngine(t, demoTable(t, tableOpts{negative: true}))
	_, err := negative.Match(context.Background(), absent("canberra"))
	var de *DistrictNotFoundError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "999", de.ID)
	assert.Equal(t, testYear, de.Year)

	collinear, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	_, err = collinear.Match(context.Background(), absent("mahalanobis", "pair"))
	require.ErrorIs(t, err, ErrDistrictNotFound)
	assert.NotErrorIs(t, err, ErrSingularCovariance)

	header := []string{dataset.IDColumn, dataset.NameColumn, dataset.CountyColumn, "Feat A", "Feat B", "Feat C"}
	emptyTable, err := dataset.NewTable(testYear, header, nil, dataset.DefaultNumberFormat())
	require.NoError(t, err)
	empty, _ := newTestEngine(t, emptyTable)
	_, err = empty.Match(context.Background(), absent("euclidean"))
	require.ErrorIs(t, err, ErrDistrictNotFound)
}

func TestMatch_ReloadedYearGetsFreshIndex(t *testing.T) {
	e, src := newTestEngine(t, demoTable(t, tableOpts{}), WithIndexCache(4))
	src.data[testYear].Generation = dataset.NextGeneration()
	_, err := e.Match(context.Background(), query("canberra", 3))
	require.NoError(t, err)

	// same year, new load whose data now fails the canberra precondition
	src.data[testYear] = &dataset.YearData{
		Year:       testYear,
		Table:      demoTable(t, tableOpts{negative: true}),
		Labels:     testLabels,
		Generation: dataset.NextGeneration(),
	}
	_, err = e.Match(context.Background(), query("canberra", 3))
	require.ErrorIs(t, err, ErrNegativeValue)
}

func TestMatch_UnknownBucketBeforeDataAccess(t *testing.T) {
	e, src := newTestEngine(t, demoTable(t, tableOpts{}))
	q := query("euclidean", 3)
	q.Buckets = []string{"demo", "nonexistent_bucket"}
	_, err := e.Match(context.Background(), q)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nonexistent_bucket", ce.Key)
	assert.Equal(t, 0, src.loads)
}

func TestMatch_ValidationBeforeDataAccess(t *testing.T) {
	e, src := newTestEngine(t, demoTable(t, tableOpts{}))
	cases := map[string]func(q *Query){
		"n_neighbors":  func(q *Query) { q.Neighbors = 0 },
		"metric":       func(q *Query) { q.Metric = "chebyshev" },
		"impute":       func(q *Query) { q.Impute = "knn" },
		"no buckets":   func(q *Query) { q.Buckets = nil },
		"identifiers":  func(q *Query) { q.Buckets = []string{buckets.IdentifiersKey} },
		"empty target": func(q *Query) { q.DistrictID = " " },
	}
	for name, mutate := range cases {
		q := query("euclidean", 3)
		mutate(&q)
		require.Error(t, e.Validate(q), name)
		_, err := e.Match(context.Background(), q)
		require.Error(t, err, name)
	}
	assert.Equal(t, 0, src.loads)

	q := query("Chebyshev", 3)
	_, err := e.Match(context.Background(), q)
	var ue *UnsupportedMetricError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "Chebyshev", ue.Metric)
	assert.Equal(t, MetricNames(), ue.Supported)
}

func TestMatch_EmptyBuckets(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	q := query("euclidean", 3)
	q.Buckets = []string{"demo", "missing"}
	res, err := e.Match(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, []string{"missing"}, res.EmptyBuckets)
	assert.Equal(t, []string{}, res.Labels["missing"])
	assert.Contains(t, res.Markdown(), "No data this year for: missing")

	q.Buckets = []string{"missing"}
	_, err = e.Match(context.Background(), q)
	require.ErrorIs(t, err, ErrNoFeatures)
}

func TestMatch_MissingColumnAndYear(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	q := query("euclidean", 3)
	q.Buckets = []string{"ghost"}
	_, err := e.Match(context.Background(), q)
	var me *MissingColumnError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "Feat Ghost", me.Column)

	q = query("euclidean", 3)
	q.Year = 1999
	_, err = e.Match(context.Background(), q)
	require.ErrorIs(t, err, dataset.ErrYearUnavailable)
}

func TestMatch_ImputesMissingValues(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{missing: map[int]bool{0: true, 5: true}}))
	for _, imp := range []string{"mean", "median", "most_frequent", "constant"} {
		q := query("euclidean", 10)
		q.Impute = imp
		res, err := e.Match(context.Background(), q)
		require.NoError(t, err, imp)
		assert.Len(t, res.Neighbors, 10, imp)
		assert.Equal(t, "101", res.Neighbors[0].DistrictID, imp)
	}
}

func TestResult_NeighborDataAndRendering(t *testing.T) {
	e, _ := newTestEngine(t, demoTable(t, tableOpts{}))
	res, err := e.Match(context.Background(), query("euclidean", 3))
	require.NoError(t, err)

	sub, err := res.NeighborData()
	require.NoError(t, err)
	assert.Equal(t, []string{dataset.IDColumn, dataset.NameColumn, dataset.CountyColumn, "Feat A", "Feat B", "Feat C"}, sub.Columns())
	require.Equal(t, 3, sub.Len())
	for i, id := range res.IDs() {
		assert.Equal(t, id, sub.ID(i))
	}

	withExtra, err := res.NeighborData("Feat A x2")
	require.NoError(t, err)
	assert.True(t, withExtra.Has("Feat A x2"))
	_, err = res.NeighborData("Nope")
	require.ErrorIs(t, err, ErrMissingColumn)

	md := res.Markdown()
	assert.Contains(t, md, "District: District 1 ISD (101)")
	assert.Contains(t, md, "- demo: 3 column(s)")

	var b strings.Builder
	require.NoError(t, res.WriteTable(&b))
	assert.Contains(t, b.String(), "DISTRICT_ID")
	assert.Contains(t, b.String(), "District 1 ISD")
}
