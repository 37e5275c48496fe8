package buckets

import (
	"fmt"
	"strings"
)

// Labels maps TAPR column identifiers (NAME) to the literal column labels
// used by one reporting year, e.g. DPNTBLAP -> "District 2022-23 African
// American Students Percent".
type Labels map[string]string

// LabelsFromRows builds Labels from a key sheet whose header row contains NAME
// and LABEL columns (case-insensitive). Rows with an empty NAME or LABEL are
// skipped; the first occurrence of a NAME wins.
func LabelsFromRows(rows [][]string) (Labels, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("label key is empty")
	}
	nameIdx, labelIdx := -1, -1
	for i, h := range rows[0] {
		switch strings.ToUpper(strings.TrimSpace(h)) {
		case "NAME":
			nameIdx = i
		case "LABEL":
			labelIdx = i
		}
	}
	if nameIdx < 0 || labelIdx < 0 {
		return nil, fmt.Errorf("label key header must contain NAME and LABEL, got %v", rows[0])
	}
	out := make(Labels, len(rows)-1)
	for _, row := range rows[1:] {
		if nameIdx >= len(row) || labelIdx >= len(row) {
			continue
		}
		name := strings.TrimSpace(row[nameIdx])
		label := strings.TrimSpace(row[labelIdx])
		if name == "" || label == "" {
			continue
		}
		if _, seen := out[name]; !seen {
			out[name] = label
		}
	}
	return out, nil
}

// Resolution is the outcome of resolving a bucket selection for one year.
type Resolution struct {
	// Keys echoes the requested bucket keys in request order.
	Keys []string
	// Labels maps each requested key to its resolved column labels.
	Labels map[string][]string
	// Columns is the flat, de-duplicated feature column list.
	Columns []string
	// Empty lists requested buckets that resolved to no columns this year.
	Empty []string
}

// Resolve maps bucket keys to the year's column labels. Unknown keys fail with
// a *ConfigurationError before any label lookup; identifiers whose NAME has no
// label this year are dropped silently.
func Resolve(reg *Registry, labels Labels, keys []string) (*Resolution, error) {
	if err := reg.Validate(keys); err != nil {
		return nil, err
	}
	res := &Resolution{Labels: make(map[string][]string, len(keys))}
	seen := make(map[string]bool)
	for _, k := range keys {
		if _, dup := res.Labels[k]; dup {
			continue
		}
		b, _ := reg.Bucket(k)
		cols := resolveBucket(b, labels)
		res.Keys = append(res.Keys, k)
		res.Labels[k] = cols
		if len(cols) == 0 {
			res.Empty = append(res.Empty, k)
		}
		for _, c := range cols {
			if seen[c] {
				continue
			}
			seen[c] = true
			res.Columns = append(res.Columns, c)
		}
	}
	return res, nil
}

// ResolveAll returns the resolved label dictionary for every registered bucket.
func ResolveAll(reg *Registry, labels Labels) map[string][]string {
	out := make(map[string][]string, len(reg.order))
	for _, k := range reg.order {
		out[k] = resolveBucket(reg.buckets[k], labels)
	}
	return out
}

func resolveBucket(b Bucket, labels Labels) []string {
	out := make([]string, 0, len(b.Columns))
	if b.Key == IdentifiersKey {
		return append(out, b.Columns...)
	}
	for _, name := range b.Columns {
		if label, ok := labels[name]; ok {
			out = append(out, label)
		}
	}
	return out
}
