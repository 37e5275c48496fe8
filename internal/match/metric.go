package match

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Metric names a distance function.
type Metric string

const (
	Euclidean   Metric = "euclidean"
	Manhattan   Metric = "manhattan"
	Mahalanobis Metric = "mahalanobis"
	Cosine      Metric = "cosine"
	Canberra    Metric = "canberra"
)

var metrics = []Metric{Euclidean, Manhattan, Mahalanobis, Cosine, Canberra}

// singularRatio is the smallest/largest singular value ratio below which a
// covariance matrix is treated as singular.
const singularRatio = 1e-10

// MetricNames lists the supported metrics.
func MetricNames() []string {
	out := make([]string, len(metrics))
	for i, m := range metrics {
		out[i] = string(m)
	}
	return out
}

// ParseMetric parses a metric name case-insensitively.
func ParseMetric(name string) (Metric, error) {
	v := Metric(strings.ToLower(strings.TrimSpace(name)))
	for _, m := range metrics {
		if v == m {
			return m, nil
		}
	}
	return "", &UnsupportedMetricError{Metric: name, Supported: MetricNames()}
}

// DistanceFunc returns the distance between two feature vectors.
type DistanceFunc func(a, b []float64) float64

// Strategy holds the preprocessing rule and preconditions of one metric.
type Strategy struct {
	Metric Metric
	// Standardize is false for cosine and canberra, which run on the raw
	// imputed values.
	Standardize bool
}

// StrategyFor returns the strategy of m.
func StrategyFor(m Metric) Strategy {
	switch m {
	case Cosine, Canberra:
		return Strategy{Metric: m}
	default:
		return Strategy{Metric: m, Standardize: true}
	}
}

// Prepare checks the metric's preconditions against f and returns its
// distance function. No distance is computed before the checks pass.
func (s Strategy) Prepare(f *Frame) (DistanceFunc, error) {
	switch s.Metric {
	case Euclidean:
		return func(a, b []float64) float64 { return floats.Distance(a, b, 2) }, nil
	case Manhattan:
		return func(a, b []float64) float64 { return floats.Distance(a, b, 1) }, nil
	case Cosine:
		return cosineDistance, nil
	case Canberra:
		if err := checkNonNegative(f); err != nil {
			return nil, err
		}
		return canberraDistance, nil
	case Mahalanobis:
		vi, err := inverseCovariance(f)
		if err != nil {
			return nil, err
		}
		return mahalanobisDistance(vi), nil
	}
	return nil, &UnsupportedMetricError{Metric: string(s.Metric), Supported: MetricNames()}
}

func checkNonNegative(f *Frame) error {
	r, c := f.Values.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if v := f.Values.At(i, j); v < 0 {
				return &NegativeValueError{Column: f.Columns[j], DistrictID: f.IDs[i], Value: v}
			}
		}
	}
	return nil
}

// inverseCovariance inverts the sample covariance of all rows of f.
func inverseCovariance(f *Frame) (*mat.Dense, error) {
	r, _ := f.Values.Dims()
	if r < 2 {
		return nil, &SingularCovarianceError{Columns: f.Columns}
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, f.Values, nil)

	var svd mat.SVD
	if !svd.Factorize(&cov, mat.SVDNone) {
		return nil, &SingularCovarianceError{Columns: f.Columns}
	}
	sv := svd.Values(nil)
	largest, smallest := sv[0], sv[len(sv)-1]
	ratio := 0.0
	if largest > 0 {
		ratio = smallest / largest
	}
	if math.IsNaN(ratio) || ratio < singularRatio {
		return nil, &SingularCovarianceError{Columns: f.Columns, Ratio: ratio}
	}
	var inv mat.Dense
	if err := inv.Inverse(&cov); err != nil {
		return nil, &SingularCovarianceError{Columns: f.Columns, Ratio: ratio}
	}
	return &inv, nil
}

func mahalanobisDistance(vi *mat.Dense) DistanceFunc {
	n, _ := vi.Dims()
	return func(a, b []float64) float64 {
		d := make([]float64, n)
		floats.SubTo(d, a, b)
		dv := mat.NewVecDense(n, d)
		q := mat.Inner(dv, vi, dv)
		if q < 0 {
			q = 0
		}
		return math.Sqrt(q)
	}
}

// cosineDistance is 1 - cos(a, b). Two zero vectors are identical; a zero
// vector is at distance 1 from any other vector.
func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	switch {
	case na == 0 && nb == 0:
		return 0
	case na == 0 || nb == 0:
		return 1
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	if d < 0 {
		d = 0
	}
	return d
}

// canberraDistance sums |a-b|/(|a|+|b|); terms where both are zero add 0.
func canberraDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		den := math.Abs(a[i]) + math.Abs(b[i])
		if den == 0 {
			continue
		}
		sum += math.Abs(a[i]-b[i]) / den
	}
	return sum
}
