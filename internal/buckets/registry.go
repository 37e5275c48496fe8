// Package buckets holds the feature-bucket registry and resolves bucket keys
// to the literal column names of a reporting year.
package buckets

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// IdentifiersKey names the bucket of identity and categorical columns. Its
// entries are literal column names and are never relabeled.
const IdentifiersKey = "district_identifiers"

// Bucket is a named group of TAPR column identifiers.
type Bucket struct {
	Key     string   `yaml:"key" json:"key"`
	Label   string   `yaml:"label" json:"label"`
	Columns []string `yaml:"columns" json:"columns"`
}

// Registry is an immutable set of buckets. Build it once at startup and pass
// it to the resolver.
type Registry struct {
	order   []string
	buckets map[string]Bucket
	byLabel map[string]string
}

type registryFile struct {
	Buckets []Bucket `yaml:"buckets"`
}

// NewRegistry validates and copies the given buckets into a Registry.
func NewRegistry(bs []Bucket) (*Registry, error) {
	r := &Registry{buckets: make(map[string]Bucket, len(bs)), byLabel: make(map[string]string, len(bs))}
	for _, b := range bs {
		key := strings.TrimSpace(b.Key)
		if key == "" {
			return nil, errors.New("bucket with empty key")
		}
		if _, dup := r.buckets[key]; dup {
			return nil, fmt.Errorf("duplicate bucket key: %s", key)
		}
		cols := make([]string, 0, len(b.Columns))
		for _, c := range b.Columns {
			if c = strings.TrimSpace(c); c != "" {
				cols = append(cols, c)
			}
		}
		cp := Bucket{Key: key, Label: strings.TrimSpace(b.Label), Columns: cols}
		r.buckets[key] = cp
		r.order = append(r.order, key)
		if cp.Label != "" {
			r.byLabel[strings.ToLower(cp.Label)] = key
		}
	}
	return r, nil
}

// LoadRegistry reads a YAML registry file of the form:
//
//	buckets:
//	  - key: student_count
//	    label: Student Count
//	    columns: [DPNTALLC]
func LoadRegistry(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var f registryFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(f.Buckets) == 0 {
		return nil, fmt.Errorf("registry %s defines no buckets", path)
	}
	return NewRegistry(f.Buckets)
}

// Keys returns every bucket key in registration order.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// FeatureKeys returns the keys usable as similarity features, i.e. all keys
// except the identifiers bucket.
func (r *Registry) FeatureKeys() []string {
	out := make([]string, 0, len(r.order))
	for _, k := range r.order {
		if k != IdentifiersKey {
			out = append(out, k)
		}
	}
	return out
}

// Bucket returns a copy of the bucket registered under key.
func (r *Registry) Bucket(key string) (Bucket, bool) {
	b, ok := r.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	cols := make([]string, len(b.Columns))
	copy(cols, b.Columns)
	b.Columns = cols
	return b, true
}

// LookupLabel maps a display label ("Race/Ethnicity Student %") or a key to
// its bucket key. Matching on labels is case-insensitive.
func (r *Registry) LookupLabel(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if _, ok := r.buckets[s]; ok {
		return s, true
	}
	k, ok := r.byLabel[strings.ToLower(s)]
	return k, ok
}

// Validate reports the first key that is not registered.
func (r *Registry) Validate(keys []string) error {
	for _, k := range keys {
		if _, ok := r.buckets[k]; !ok {
			return &ConfigurationError{Key: k, Reason: fmt.Sprintf("unknown bucket (known: %s)", strings.Join(r.sortedKeys(), ", "))}
		}
	}
	return nil
}

func (r *Registry) sortedKeys() []string {
	ks := r.Keys()
	sort.Strings(ks)
	return ks
}

// DefaultRegistry returns the demographic buckets of the TAPR district profile.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultBuckets)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultBuckets = []Bucket{
	{Key: "student_teacher_ratio", Label: "Student Teacher Ratio", Columns: []string{"DPSTKIDR"}},
	{Key: "student_count", Label: "Student Count", Columns: []string{"DPNTALLC"}},
	{Key: "staff_count", Label: "Staff Count", Columns: []string{"DPSATOFC"}},
	{Key: "race_ethnicity_percent", Label: "Race/Ethnicity Student %", Columns: []string{
		"DPNTBLAP", "DPNTINDP", "DPNTASIP", "DPNTHISP", "DPNTPCIP", "DPNTTWOP", "DPNTWHIP",
	}},
	{Key: "economically_disadvantaged", Label: "Economically Disadvantaged Student %", Columns: []string{"DPNTECOP", "DPNTTT1P"}},
	{Key: "special_ed_504", Label: "Special Education / 504 Student %", Columns: []string{"DPNT504P", "DPNTSPEP"}},
	{Key: "language_education_percent", Label: "Language Education Student %", Columns: []string{"DPNTBILP", "DPNTLEPP"}},
	{Key: "special_populations_percent", Label: "Special Populations Student %", Columns: []string{
		"DPNTFOSP", "DPNTHOMP", "DPNTIMMP", "DPNTMIGP", "DPNTMLCP",
	}},
	{Key: "gifted_students", Label: "Gifted Student %", Columns: []string{"DPNTGIFP"}},
	{Key: IdentifiersKey, Label: "District Identifiers", Columns: []string{
		"DISTRICT_id", "TEA District Type", "TEA Description", "NCES District Type", "NCES Description",
		"Charter School (Y/N)", "COUNTY", "REGION", "DISTRICT", "DISTNAME", "CNTYNAME",
		"DFLCHART", "DFLALTED", "ASVAB_STATUS",
	}},
}
