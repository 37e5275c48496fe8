package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	c, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "euclidean", c.DefaultMetric)
	assert.Equal(t, "median", c.DefaultImpute)
	assert.Equal(t, 10, c.DefaultNeighbors)
	assert.True(t, c.ExcludeCharters, "cleaning defaults should be on")
	assert.True(t, c.MaskNegative, "cleaning defaults should be on")
}

func TestSaveLoadRoundTripAndEnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.yaml")
	in := &Global{DataDir: "/srv/tapr", DefaultMetric: "manhattan", DefaultNeighbors: 7, CacheYears: 2}
	require.NoError(t, Save(in, path))
	require.FileExists(t, path)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/tapr", c.DataDir)
	assert.Equal(t, "manhattan", c.DefaultMetric)
	assert.Equal(t, 7, c.DefaultNeighbors)

	t.Setenv("DISTRICTMATCH_DEFAULT_METRIC", "cosine")
	c, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, "cosine", c.DefaultMetric, "env overrides the file")
}
