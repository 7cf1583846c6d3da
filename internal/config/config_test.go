package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestFromLookupDefaults(t *testing.T) {
	env := FromLookup(lookupFrom(nil))
	assert.True(t, env.EmitTelemetry)
	assert.True(t, env.EmitField)
	assert.Equal(t, "artifacts", env.ArtifactRoot)
	assert.Equal(t, "info", env.LogLevel)
	assert.Equal(t, "memory", env.Store)
}

func TestFromLookupOverrides(t *testing.T) {
	env := FromLookup(lookupFrom(map[string]string{
		EnvEmitTelemetry: "0",
		EnvEmitField:     "",
		EnvArtifactRoot:  "/tmp/out",
		EnvStore:         "badger",
		EnvDBPath:        "/tmp/index",
	}))
	assert.False(t, env.EmitTelemetry)
	assert.False(t, env.EmitField)
	assert.Equal(t, "/tmp/out", env.ArtifactRoot)
	assert.Equal(t, "badger", env.Store)
	assert.Equal(t, "/tmp/index", env.DBPath)
}

func TestTruthy(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " on "} {
		assert.True(t, Truthy(v), v)
	}
	for _, v := range []string{"", "0", "false", "off", "2"} {
		assert.False(t, Truthy(v), v)
	}
}

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadRunFileYAML(t *testing.T) {
	path := writeFile(t, "run.yaml", `
pillar: thermo
controller: phase_lock_recycler
controller_params:
  ki: 0.5
seed: 42
config:
  steps: 20
  noise_sigma: 0
frames: false
`)
	rf, err := LoadRunFile(path)
	require.NoError(t, err)
	assert.Equal(t, "thermo", rf.Pillar)
	assert.Equal(t, "phase_lock_recycler", rf.Controller)
	assert.Equal(t, 0.5, rf.ControllerParams["ki"])
	require.NotNil(t, rf.Seed)
	assert.Equal(t, int64(42), *rf.Seed)
	assert.Equal(t, 20.0, rf.Config["steps"])
	require.NotNil(t, rf.Frames)
	assert.False(t, *rf.Frames)
}

func TestLoadRunFileJSON(t *testing.T) {
	path := writeFile(t, "run.json", `{"pillar": "gravity", "controller": "pid", "config": {"H": 16}}`)
	rf, err := LoadRunFile(path)
	require.NoError(t, err)
	assert.Equal(t, "gravity", rf.Pillar)
	assert.Nil(t, rf.Seed)
	assert.Equal(t, 16.0, rf.Config["H"])
}

func TestLoadRunFileErrors(t *testing.T) {
	_, err := LoadRunFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrRunFile)

	_, err = LoadRunFile(writeFile(t, "run.yaml", "controller: pid\n"))
	assert.ErrorIs(t, err, ErrRunFile)
	assert.Contains(t, err.Error(), "Pillar")

	_, err = LoadRunFile(writeFile(t, "run.json", "{"))
	assert.ErrorIs(t, err, ErrRunFile)
}

func TestLoadBatchFile(t *testing.T) {
	path := writeFile(t, "batch.yaml", `
notes: sweep
workers: 2
runs:
  - pillar: gravity
    seed: 1
  - pillar: gravity
    seed: 2
  - pillar: energy
    controller: spgd
`)
	bf, err := LoadBatchFile(path)
	require.NoError(t, err)
	assert.Equal(t, "sweep", bf.Notes)
	assert.Equal(t, 2, bf.Workers)
	require.Len(t, bf.Runs, 3)
	assert.Equal(t, "spgd", bf.Runs[2].Controller)

	single, err := LoadBatchFile(writeFile(t, "one.yaml", "pillar: thermo\n"))
	require.NoError(t, err)
	require.Len(t, single.Runs, 1)
	assert.Equal(t, "thermo", single.Runs[0].Pillar)

	_, err = LoadBatchFile(writeFile(t, "bad.yaml", "runs:\n  - controller: pid\n"))
	assert.ErrorIs(t, err, ErrRunFile)
}
