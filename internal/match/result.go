package match

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/KaramelBytes/districtmatch/internal/dataset"
)

// Result is what a query hands to renderers and reports. Neighbors[0] is the
// target district; consumers filter Dataset by the neighbor ids to build
// their own views.
type Result struct {
	Year int
	// Buckets echoes the requested bucket keys in request order.
	Buckets []string
	// Dataset is the complete table of the year, not only the neighbors.
	Dataset *dataset.Table
	// Identifiers are the identity columns of the bucket registry.
	Identifiers []string
	// Labels maps each requested bucket key to the columns used for it.
	Labels map[string][]string
	// Columns is the flat feature column list.
	Columns []string
	// EmptyBuckets lists requested buckets with no columns this year.
	EmptyBuckets []string
	Metric       Metric
	Impute       ImputeStrategy
	Neighbors    []Neighbor
}

// IDs returns the neighbor district ids in rank order.
func (r *Result) IDs() []string {
	out := make([]string, len(r.Neighbors))
	for i, n := range r.Neighbors {
		out[i] = n.DistrictID
	}
	return out
}

// NeighborData returns the rows of the neighbors in rank order, restricted to
// the identifier columns present in the dataset, the feature columns and any
// extra columns.
func (r *Result) NeighborData(extra ...string) (*dataset.Table, error) {
	var cols []string
	seen := map[string]bool{}
	add := func(c string) {
		if !seen[c] && r.Dataset.Has(c) {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	add(dataset.IDColumn)
	add(dataset.NameColumn)
	for _, c := range r.Identifiers {
		add(c)
	}
	for _, c := range r.Columns {
		add(c)
	}
	for _, c := range extra {
		if !r.Dataset.Has(c) {
			return nil, &MissingColumnError{Column: c, Year: r.Year}
		}
		add(c)
	}
	full, err := r.Dataset.Select(cols)
	if err != nil {
		return nil, err
	}
	rows := make([][]string, 0, len(r.Neighbors))
	for _, n := range r.Neighbors {
		idx := full.Lookup(n.DistrictID)
		if len(idx) == 0 {
			continue
		}
		rows = append(rows, full.Row(idx[0]))
	}
	return dataset.NewTable(r.Year, cols, rows, dataset.DefaultNumberFormat())
}

// WriteTable writes the neighbor ranking as aligned text columns.
func (r *Result) WriteTable(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tDISTRICT_ID\tDISTRICT\tDISTANCE")
	for i, n := range r.Neighbors {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.4f\n", i, n.DistrictID, dataset.TitleCase(n.Name), n.Distance)
	}
	return tw.Flush()
}

// Markdown renders the result for reports.
func (r *Result) Markdown() string {
	var b strings.Builder
	b.WriteString("[MATCH SUMMARY]\n")
	b.WriteString(fmt.Sprintf("Year: %d\n", r.Year))
	if len(r.Neighbors) > 0 {
		t := r.Neighbors[0]
		b.WriteString(fmt.Sprintf("District: %s (%s)\n", dataset.TitleCase(t.Name), t.DistrictID))
	}
	b.WriteString(fmt.Sprintf("Metric: %s, impute: %s\n", r.Metric, r.Impute))
	b.WriteString(fmt.Sprintf("Features: %d column(s)\n", len(r.Columns)))
	if len(r.EmptyBuckets) > 0 {
		b.WriteString(fmt.Sprintf("No data this year for: %s\n", strings.Join(r.EmptyBuckets, ", ")))
	}

	b.WriteString("\n[NEIGHBORS]\n")
	b.WriteString("| Rank | District ID | District | Distance |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for i, n := range r.Neighbors {
		b.WriteString(fmt.Sprintf("| %d | %s | %s | %.4f |\n", i, n.DistrictID, safeCell(dataset.TitleCase(n.Name)), n.Distance))
	}

	b.WriteString("\n[FEATURES]\n")
	for _, k := range r.Buckets {
		cols := r.Labels[k]
		b.WriteString(fmt.Sprintf("- %s: %d column(s)\n", k, len(cols)))
		for _, c := range cols {
			b.WriteString(fmt.Sprintf("  • %s\n", c))
		}
	}
	return b.String()
}

func safeCell(s string) string { return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/") }
