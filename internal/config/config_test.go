package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		// A named-but-missing file is an error; loading with no file at
		// all falls back to defaults.
		cfg, err = Load("")
	}
	require.NoError(t, err)

	assert.Equal(t, 4223, cfg.ReactorBox.Port)
	assert.Equal(t, 4223, cfg.PowerBox.Port)
	assert.Equal(t, 200, cfg.Safety.SensorPeriodMs)
	assert.Equal(t, -0.2, cfg.PID.Kp)
	assert.Equal(t, 100000.0, cfg.PID.Ti)
	assert.Equal(t, [3]float64{25, 25, 25}, cfg.Safety.IrWarnC)
}

func TestEnvOverridesBoxEndpoints(t *testing.T) {
	t.Setenv("REACTOR_BOX", "10.0.0.7")
	t.Setenv("REACTOR_BOX_PORT", "4224")
	t.Setenv("POWER_BOX", "10.0.0.8")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.7", cfg.ReactorBox.Host)
	assert.Equal(t, 4224, cfg.ReactorBox.Port)
	assert.Equal(t, "10.0.0.8", cfg.PowerBox.Host)
	assert.Equal(t, 4223, cfg.PowerBox.Port)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
reactor_box:
  host: reactor.lab
power_box:
  host: power.lab
  port: 5000
safety:
  ambient_warn_c: 40
  ambient_abort_c: 60
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "reactor.lab", cfg.ReactorBox.Host)
	assert.Equal(t, 5000, cfg.PowerBox.Port)
	assert.Equal(t, 40.0, cfg.Safety.AmbientWarnC)
	assert.Equal(t, 60.0, cfg.Safety.AmbientAbortC)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1.0, cfg.Safety.ThermocoupleC)
}

func TestWriteDefaultRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefault(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4223, cfg.ReactorBox.Port)
	assert.Equal(t, -0.2, cfg.PID.Kp)

	assert.Error(t, WriteDefault(path), "must refuse to overwrite")
}
