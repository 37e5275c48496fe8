package dataset

import (
	"context"
	"strconv"

	"github.com/KaramelBytes/districtmatch/internal/cache"
)

// CachedSource keeps recently loaded years in memory. Tables are immutable,
// so cached years are shared between concurrent queries.
type CachedSource struct {
	src   Source
	years *cache.LoaderCache[*YearData]
	// OnLookup, when set, is called after every Load with the cache outcome.
	OnLookup func(year int, hit bool)
}

// NewCachedSource wraps src with an LRU of size years.
func NewCachedSource(src Source, size int) (*CachedSource, error) {
	c, err := cache.New[*YearData](size)
	if err != nil {
		return nil, err
	}
	return &CachedSource{src: src, years: c}, nil
}

// Load implements Source.
func (c *CachedSource) Load(ctx context.Context, year int) (*YearData, error) {
	yd, hit, err := c.years.Get(ctx, strconv.Itoa(year), func(ctx context.Context) (*YearData, error) {
		return c.src.Load(ctx, year)
	})
	if err != nil {
		return nil, err
	}
	if c.OnLookup != nil {
		c.OnLookup(year, hit)
	}
	return yd, nil
}

// Forget drops a cached year so the next Load reads it again.
func (c *CachedSource) Forget(year int) { c.years.Invalidate(strconv.Itoa(year)) }
