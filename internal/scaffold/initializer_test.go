package scaffold

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qflowhq/bandscan/internal/config"
)

// inTempDir runs the test body from a fresh temporary working directory.
func inTempDir(t *testing.T) {
	t.Helper()
	originalDir, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { os.Chdir(originalDir) })
}

func TestInitialize(t *testing.T) {
	t.Run("fresh initialization", func(t *testing.T) {
		inTempDir(t)

		require.NoError(t, Initialize(false))

		info, err := os.Stat("bandscan.yml")
		require.NoError(t, err)
		assert.False(t, info.IsDir())
	})

	t.Run("force removes existing file", func(t *testing.T) {
		inTempDir(t)
		require.NoError(t, os.WriteFile("bandscan.yml", []byte("old content"), 0644))

		require.NoError(t, Initialize(true))

		content, err := os.ReadFile("bandscan.yml")
		require.NoError(t, err)
		assert.NotEqual(t, "old content", string(content))
	})
}

func TestScaffoldedConfigLoads(t *testing.T) {
	inTempDir(t)
	require.NoError(t, Initialize(false))

	// The scaffolded file must pass the same validation as a user-written one.
	cfg, err := config.Load("bandscan.yml")
	require.NoError(t, err)
	assert.Equal(t, "my-material", cfg.Run)
	assert.Equal(t, [3]int{6, 6, 1}, cfg.Search.StartingMesh)
	assert.Equal(t, config.DefaultStartingDistance, *cfg.Search.StartingDistance)
}
