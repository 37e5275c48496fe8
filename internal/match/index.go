package match

import "sort"

// Neighbor is one ranked district.
type Neighbor struct {
	DistrictID string  `json:"district_id"`
	Name       string  `json:"district_name"`
	Distance   float64 `json:"distance"`
	// Row is the district's row in the frame.
	Row int `json:"-"`
}

// Index answers exact nearest-neighbor queries over the rows of a Frame by
// comparing the query row with every row.
type Index struct {
	frame *Frame
	dist  DistanceFunc
}

// NewIndex returns an index over f using dist.
func NewIndex(f *Frame, dist DistanceFunc) *Index {
	return &Index{frame: f, dist: dist}
}

// Frame returns the indexed frame.
func (ix *Index) Frame() *Frame { return ix.frame }

// Nearest returns the k rows closest to row in ascending distance, the query
// row first. Equal distances keep frame order. k is capped at the number of
// rows.
func (ix *Index) Nearest(row, k int) []Neighbor {
	n := ix.frame.Rows()
	if k <= 0 || row < 0 || row >= n {
		return nil
	}
	q := ix.frame.Row(row)
	cands := make([]Neighbor, n)
	buf := make([]float64, len(q))
	for i := 0; i < n; i++ {
		d := 0.0
		if i != row {
			d = ix.dist(q, rowInto(buf, ix.frame, i))
		}
		cands[i] = Neighbor{DistrictID: ix.frame.IDs[i], Name: ix.frame.Names[i], Distance: d, Row: i}
	}
	sort.SliceStable(cands, func(a, b int) bool {
		if cands[a].Distance != cands[b].Distance {
			return cands[a].Distance < cands[b].Distance
		}
		return cands[a].Row == row && cands[b].Row != row
	})
	if k > n {
		k = n
	}
	return cands[:k]
}

func rowInto(dst []float64, f *Frame, i int) []float64 {
	for j := range dst {
		dst[j] = f.Values.At(i, j)
	}
	return dst
}
