package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// CollinearThreshold is the |r| at or above which two columns are reported as
// collinear. Such pairs make the covariance matrix singular.
const CollinearThreshold = 0.999

// ColumnMissing is the share of missing cells in one column.
type ColumnMissing struct {
	Name    string
	Missing int
	Percent float64
}

// MissingPercentages returns the missing-cell share of every column in file
// order.
func MissingPercentages(t *Table) []ColumnMissing {
	out := make([]ColumnMissing, len(t.columns))
	for j, c := range t.columns {
		miss := 0
		for _, r := range t.rows {
			if IsMissing(r[j]) {
				miss++
			}
		}
		pct := 0.0
		if len(t.rows) > 0 {
			pct = float64(miss) * 100 / float64(len(t.rows))
		}
		out[j] = ColumnMissing{Name: c, Missing: miss, Percent: pct}
	}
	return out
}

// SparseColumns lists columns whose missing share is at least threshold
// percent. Identity columns are never reported.
func SparseColumns(t *Table, threshold float64) []string {
	var out []string
	for _, m := range MissingPercentages(t) {
		if protectedColumn(m.Name) {
			continue
		}
		if m.Percent >= threshold {
			out = append(out, m.Name)
		}
	}
	return out
}

// RatioColumns lists numerator and denominator helper columns.
func RatioColumns(t *Table) []string {
	var out []string
	for _, c := range t.columns {
		lc := strings.ToLower(c)
		if strings.Contains(lc, "numerator") || strings.Contains(lc, "denominator") {
			out = append(out, c)
		}
	}
	return out
}

func protectedColumn(c string) bool {
	switch c {
	case IDColumn, NameColumn, CountyColumn, CharterColumn:
		return true
	}
	return false
}

// ColumnProfile summarizes one numeric column.
type ColumnProfile struct {
	Name       string
	Count      int
	Missing    int
	MissingPct float64
	Negatives  int
	Min        float64
	Max        float64
	Mean       float64
	Median     float64
	Std        float64
}

// PairCorr is the Pearson correlation of two columns.
type PairCorr struct {
	A, B string
	R    float64
}

// CorrMatrix is a square correlation matrix in column order.
type CorrMatrix struct {
	Columns []string
	Values  [][]float64
}

// Profile describes the columns a similarity query would use.
type Profile struct {
	Year      int
	Rows      int
	Columns   []ColumnProfile
	Corr      *CorrMatrix
	Collinear []PairCorr
	Warnings  []string
}

// ProfileColumns summarizes cols over every row of t and computes pairwise
// correlations over rows where both values are present.
func ProfileColumns(t *Table, cols []string) (*Profile, error) {
	p := &Profile{Year: t.Year, Rows: t.Len()}
	series := make([][]float64, len(cols))
	for k, c := range cols {
		vals, ok := t.Numeric(c)
		if !ok {
			return nil, fmt.Errorf("column not found: %s", c)
		}
		series[k] = vals
		p.Columns = append(p.Columns, summarize(c, vals))
	}
	for _, cp := range p.Columns {
		switch {
		case cp.Count == 0:
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s has no numeric values", cp.Name))
		case cp.Std == 0:
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s is constant", cp.Name))
		}
		if cp.Negatives > 0 {
			p.Warnings = append(p.Warnings, fmt.Sprintf("%s has %d negative values (canberra unavailable)", cp.Name, cp.Negatives))
		}
	}
	if len(cols) < 2 {
		return p, nil
	}
	n := len(cols)
	m := &CorrMatrix{Columns: append([]string(nil), cols...), Values: make([][]float64, n)}
	for i := range m.Values {
		m.Values[i] = make([]float64, n)
		m.Values[i][i] = 1
	}
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			r := pairwiseCorrelation(series[a], series[b])
			m.Values[a][b], m.Values[b][a] = r, r
			if math.Abs(r) >= CollinearThreshold {
				p.Collinear = append(p.Collinear, PairCorr{A: cols[a], B: cols[b], R: r})
			}
		}
	}
	p.Corr = m
	if len(p.Collinear) > 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf("%d collinear pair(s): mahalanobis will fail", len(p.Collinear)))
	}
	return p, nil
}

func summarize(name string, vals []float64) ColumnProfile {
	cp := ColumnProfile{Name: name}
	present := make([]float64, 0, len(vals))
	for _, v := range vals {
		if math.IsNaN(v) {
			cp.Missing++
			continue
		}
		if v < 0 {
			cp.Negatives++
		}
		present = append(present, v)
	}
	cp.Count = len(present)
	if len(vals) > 0 {
		cp.MissingPct = float64(cp.Missing) * 100 / float64(len(vals))
	}
	if cp.Count == 0 {
		return cp
	}
	sort.Float64s(present)
	cp.Min, cp.Max = present[0], present[len(present)-1]
	cp.Median = Quantile(present, 0.5)
	cp.Mean, cp.Std = stat.PopMeanStdDev(present, nil)
	return cp
}

// pairwiseCorrelation returns Pearson's r over rows where both series are
// present, or 0 when it is undefined.
func pairwiseCorrelation(x, y []float64) float64 {
	var xs, ys []float64
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	if len(xs) < 2 {
		return 0
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0
	}
	return math.Max(-1, math.Min(1, r))
}

// Quantile returns the q-quantile of sorted values using linear interpolation
// between closest ranks.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if q <= 0 {
		return sorted[0]
	}
	if q >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// Markdown renders the profile for terminal output.
func (p *Profile) Markdown() string {
	var b strings.Builder
	b.WriteString("[DATASET SUMMARY]\n")
	b.WriteString(fmt.Sprintf("Year: %d\n", p.Year))
	b.WriteString(fmt.Sprintf("Rows: %d\n", p.Rows))
	b.WriteString(fmt.Sprintf("Columns: %d\n\n", len(p.Columns)))

	b.WriteString("[SCHEMA]\n")
	for _, c := range p.Columns {
		b.WriteString(fmt.Sprintf("- %s: non-null %d, missing %.1f%%", safeName(c.Name), c.Count, c.MissingPct))
		if c.Count > 0 {
			b.WriteString(fmt.Sprintf(" | min %.4g, median %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Median, c.Max, c.Mean, c.Std))
		}
		b.WriteString("\n")
	}
	if p.Corr != nil {
		type pr struct {
			A, B string
			R    float64
		}
		var pairs []pr
		n := len(p.Corr.Columns)
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				pairs = append(pairs, pr{A: p.Corr.Columns[i], B: p.Corr.Columns[j], R: p.Corr.Values[i][j]})
			}
		}
		sort.SliceStable(pairs, func(i, j int) bool {
			return math.Abs(pairs[i].R) > math.Abs(pairs[j].R)
		})
		if len(pairs) > 10 {
			pairs = pairs[:10]
		}
		b.WriteString("\n[CORRELATIONS]\n")
		for _, pr := range pairs {
			b.WriteString(fmt.Sprintf("- %s ~ %s: r=%.3f\n", pr.A, pr.B, pr.R))
		}
	}
	if len(p.Warnings) > 0 {
		b.WriteString("\n[NOTES]\n")
		for _, w := range p.Warnings {
			b.WriteString("- ")
			b.WriteString(w)
			b.WriteString("\n")
		}
	}
	return b.String()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "(unnamed)"
	}
	return s
}
