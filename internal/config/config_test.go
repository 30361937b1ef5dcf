package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigHasSaneBudget(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 8000, cfg.Budget.TokenBudget)
	assert.Equal(t, 2500, cfg.Budget.PerSourceTimeoutMs)
	assert.Equal(t, 6000, cfg.Budget.OverallTimeoutMs)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Budget, cfg.Budget)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WICKED_CP_URL", "http://example.invalid:9")
	t.Setenv("WICKED_CP_TOKEN", "secret-token")
	t.Setenv("WICKED_STORAGE_BASE", "/tmp/wicked-test")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "http://example.invalid:9", cfg.ControlPlane.BaseURL)
	assert.Equal(t, "secret-token", cfg.ControlPlane.Token)
	assert.Equal(t, "/tmp/wicked-test", cfg.Storage.BaseDir)
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budget.TokenBudget = 4242
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4242, loaded.Budget.TokenBudget)
}

func TestTimeoutHelpersFallBackOnMalformedDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ControlPlane.RequestTimeout = "not-a-duration"
	assert.Equal(t, 10_000_000_000, int(cfg.RequestTimeout()))
}
