package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alan-christopher/entangle/entangle/backend"
	"github.com/alan-christopher/entangle/entangle/nv"
	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	d := Default()
	require.NoError(t, d.Validate())
	assert.Equal(t, 1024, d.ShotCount)
	assert.Equal(t, 0.9, d.TargetFidelity)
	assert.Equal(t, 0.7, d.BellFidelityThreshold)
	assert.Equal(t, 3, d.MaxHeraldRetries)
	assert.Equal(t, backend.PreferAuto, d.BackendPreference)
	assert.Equal(t, nv.DefaultLink, d.NVLink())
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "entangle.toml", `
shot_count = 2048
backend_preference = "simulator"
submit_timeout = "5s"
seed = 42

[simulator]
max_qubits = 12
readout_error = 0.02

[link]
distance_km = 10.0

[[nodes]]
id = "delft"
t2 = "1.5s"

[[nodes]]
id = "hague"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2048, cfg.ShotCount)
	assert.Equal(t, backend.PreferSimulator, cfg.BackendPreference)
	assert.Equal(t, 5*time.Second, cfg.SubmitTimeout.Std())
	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 12, cfg.Simulator.MaxQubits)
	assert.Equal(t, 10.0, cfg.NVLink().DistanceKM)
	assert.Equal(t, 0.2, cfg.NVLink().AttenuationDBPerKM, "unset link fields keep defaults")
	require.Len(t, cfg.NVNodes(), 2)
	assert.Equal(t, 1500*time.Millisecond, cfg.NVNodes()[0].T2)
	assert.Equal(t, DefaultNodeT2, cfg.NVNodes()[1].T2)
	assert.Equal(t, 0.7, cfg.BellFidelityThreshold)
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "entangle.yaml", `
target_fidelity: 0.95
backend_preference: hardware
hardware:
  addr: 127.0.0.1:7070
  max_qubits: 5
retry_backoff: 250ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.95, cfg.TargetFidelity)
	assert.Equal(t, backend.PreferHardware, cfg.BackendPreference)
	assert.Equal(t, "127.0.0.1:7070", cfg.Hardware.Addr)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBackoff.Std())
}

func TestLoadRejects(t *testing.T) {
	tcs := []struct {
		name, file, body string
	}{
		{"unknown extension", "entangle.ini", "shot_count = 1"},
		{"bad preference", "a.toml", `backend_preference = "cloud"`},
		{"bad duration", "a.toml", `submit_timeout = "soon"`},
		{"zero shots", "a.toml", `shot_count = 0`},
		{"threshold above one", "a.yaml", "bell_fidelity_threshold: 1.2"},
		{"hardware without addr", "a.yaml", "backend_preference: hardware"},
		{"duplicate nodes", "a.toml", "[[nodes]]\nid = \"x\"\n[[nodes]]\nid = \"x\"\n"},
		{"bad visibility", "a.toml", "[link]\nvisibility = 2.0\n"},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.body))
			assert.Error(t, err)
		})
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestApplyFlags(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--shots=64", "--backend=simulator", "--submit-timeout=2s", "--seed=9"}))

	cfg := Default()
	cfg.ShotCount = 500
	cfg.TargetFidelity = 0.8
	require.NoError(t, ApplyFlags(fs, &cfg))
	assert.Equal(t, 64, cfg.ShotCount)
	assert.Equal(t, backend.PreferSimulator, cfg.BackendPreference)
	assert.Equal(t, 2*time.Second, cfg.SubmitTimeout.Std())
	assert.Equal(t, int64(9), cfg.Seed)
	assert.Equal(t, 0.8, cfg.TargetFidelity, "unset flags leave loaded values alone")
}

func TestBackendFlagRejectsUnknown(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(new(nopWriter))
	BindFlags(fs)
	assert.Error(t, fs.Parse([]string{"--backend=cloud"}))
}

type nopWriter struct{}

func (*nopWriter) Write(p []byte) (int, error) { return len(p), nil }
