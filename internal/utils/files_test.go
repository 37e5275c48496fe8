package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.md")
	require.NoError(t, SafeWriteFile(path, []byte("first")))
	require.NoError(t, SafeWriteFile(path, []byte("second")))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(b))
	assert.NoFileExists(t, path+".tmp", "temp file left behind")
}
