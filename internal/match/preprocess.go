package match

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/KaramelBytes/districtmatch/internal/dataset"
)

// ImputeStrategy selects how missing feature values are filled.
type ImputeStrategy string

const (
	ImputeMean         ImputeStrategy = "mean"
	ImputeMedian       ImputeStrategy = "median"
	ImputeMostFrequent ImputeStrategy = "most_frequent"
	ImputeConstant     ImputeStrategy = "constant"
)

var imputeStrategies = []ImputeStrategy{ImputeMean, ImputeMedian, ImputeMostFrequent, ImputeConstant}

// ParseImputeStrategy parses a strategy name case-insensitively.
func ParseImputeStrategy(s string) (ImputeStrategy, error) {
	v := ImputeStrategy(strings.ToLower(strings.TrimSpace(s)))
	for _, st := range imputeStrategies {
		if v == st {
			return st, nil
		}
	}
	names := make([]string, len(imputeStrategies))
	for i, st := range imputeStrategies {
		names[i] = string(st)
	}
	return "", &ConfigurationError{Key: "impute_strategy", Reason: fmt.Sprintf("unknown strategy %q (supported: %s)", s, strings.Join(names, ", "))}
}

// PreprocessOptions controls imputation and scaling.
type PreprocessOptions struct {
	Impute ImputeStrategy
	// FillValue is used by ImputeConstant.
	FillValue   float64
	Standardize bool
}

// Frame is the numeric feature block of a year's districts. IDs and Names
// run alongside the rows of Values.
type Frame struct {
	IDs     []string
	Names   []string
	Columns []string
	Values  *mat.Dense
}

// Rows returns the number of districts in the frame.
func (f *Frame) Rows() int { return len(f.IDs) }

// Row returns a copy of row i.
func (f *Frame) Row(i int) []float64 { return mat.Row(nil, i, f.Values) }

// Find returns the first row whose district id equals id, or -1.
func (f *Frame) Find(id string) int {
	id = dataset.NormalizeID(id)
	for i, v := range f.IDs {
		if v == id {
			return i
		}
	}
	return -1
}

// Preprocess projects t onto the identity columns and columns, imputes
// missing values per column and optionally standardizes each column with
// population statistics. Rows without a district id are skipped; the
// remaining rows keep their table order. t is never modified.
func Preprocess(t *dataset.Table, columns []string, opts PreprocessOptions) (*Frame, error) {
	if len(columns) == 0 {
		return nil, &NoFeaturesError{Year: t.Year}
	}
	for _, c := range columns {
		if !t.Has(c) {
			return nil, &MissingColumnError{Column: c, Year: t.Year}
		}
	}
	var rows []int
	f := &Frame{Columns: append([]string(nil), columns...)}
	for i := 0; i < t.Len(); i++ {
		id := t.ID(i)
		if id == "" {
			continue
		}
		rows = append(rows, i)
		f.IDs = append(f.IDs, id)
		f.Names = append(f.Names, t.Name(i))
	}

	n, m := len(rows), len(columns)
	data := make([]float64, n*m)
	col := make([]float64, n)
	for j, c := range columns {
		all, _ := t.Numeric(c)
		for k, i := range rows {
			col[k] = all[i]
		}
		fill, err := imputeValue(col, opts)
		if err != nil {
			return nil, &EmptyColumnError{Column: c}
		}
		for k, v := range col {
			if math.IsNaN(v) {
				col[k] = fill
			}
		}
		if opts.Standardize {
			standardize(col)
		}
		for k, v := range col {
			data[k*m+j] = v
		}
	}
	f.Values = mat.NewDense(n, m, data)
	return f, nil
}

var errNoValues = errors.New("no values")

// imputeValue returns the fill for the NaN cells of col. A column without
// any value is an error for every strategy.
func imputeValue(col []float64, opts PreprocessOptions) (float64, error) {
	present := make([]float64, 0, len(col))
	for _, v := range col {
		if !math.IsNaN(v) {
			present = append(present, v)
		}
	}
	if len(present) == 0 {
		return 0, errNoValues
	}
	switch opts.Impute {
	case ImputeMean:
		return stat.Mean(present, nil), nil
	case ImputeMostFrequent:
		return mostFrequent(present), nil
	case ImputeConstant:
		return opts.FillValue, nil
	default:
		sort.Float64s(present)
		return dataset.Quantile(present, 0.5), nil
	}
}

// mostFrequent returns the modal value, the smallest one on ties.
func mostFrequent(vals []float64) float64 {
	counts := make(map[float64]int, len(vals))
	for _, v := range vals {
		counts[v]++
	}
	best, bestN := 0.0, 0
	for v, n := range counts {
		if n > bestN || (n == bestN && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

// standardize centers col and scales it to unit population variance. A
// constant column (std within rounding of zero) is only centered.
func standardize(col []float64) {
	mean, std := stat.PopMeanStdDev(col, nil)
	if math.IsNaN(std) || std <= 1e-12*math.Max(1, math.Abs(mean)) {
		std = 1
	}
	for i, v := range col {
		col[i] = (v - mean) / std
	}
}
