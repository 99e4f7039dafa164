package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/patchfs/fstitch/pkg/config"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, config.DefaultTunables(), cfg)
}

func TestLoadMissingExplicitPathFails(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.hujson"))
	require.ErrorIs(t, err, config.ErrFileNotFound)
}

func TestLoadOverlaysOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.hujson")
	require.NoError(t, os.WriteFile(path, []byte(`{
		// bump NOVERLAP1 only; everything else keeps its default
		"noverlap1": 64,
	}`), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	want := config.DefaultTunables()
	want.NOverlap1 = 64
	require.Equal(t, want, cfg)
}

func TestLoadRejectsInvalidNBDIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.hujson")
	require.NoError(t, os.WriteFile(path, []byte(`{"nbdlevel": 4, "nbdindex": 2}`), 0o644))

	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunables.hujson")
	require.NoError(t, os.WriteFile(path, []byte(`{not valid`), 0o644))

	_, err := config.Load(path)
	require.ErrorIs(t, err, config.ErrInvalid)
}

func TestValidateRejectsZeroOverlap(t *testing.T) {
	cfg := config.DefaultTunables()
	cfg.NOverlap1 = 0

	require.ErrorIs(t, cfg.Validate(), config.ErrInvalid)
}
