package ihbv

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigValidation(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Nmul = 0
	require.Error(t, bad.Validate())

	bad = cfg
	bad.DyDrop = 1.5
	require.Error(t, bad.Validate())

	bad = cfg
	bad.Tol = 0.
	require.Error(t, bad.Validate())

	bad = cfg
	bad.UHLen = 0
	require.Error(t, bad.Validate())
}

func TestLoadConfigAppliesDefaults(t *testing.T) {
	fp := filepath.Join(t.TempDir(), "cfg.yaml")
	require.NoError(t, os.WriteFile(fp, []byte("warm_up: 365\nrouting: true\nnmul: 4\n"), 0644))
	cfg, err := LoadConfig(fp)
	require.NoError(t, err)
	require.Equal(t, 365, cfg.WarmUp)
	require.True(t, cfg.Routing)
	require.Equal(t, 4, cfg.Nmul)
	require.Equal(t, uhLen, cfg.UHLen) // unset fields keep their defaults
	require.Equal(t, defaultDt, cfg.Dt)
	require.NoError(t, cfg.Validate())
}
