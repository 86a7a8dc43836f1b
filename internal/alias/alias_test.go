package alias

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileYieldsEmptyRegistry(t *testing.T) {
	reg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.NoError(t, err)

	_, ok := reg.Lookup("anything")
	assert.False(t, ok)
}

func TestLoadPopulatesRegistryAndDefaultsPort(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	body := `[
		{"name": "build", "user": "ci", "host": "build.internal", "port": 2222},
		{"name": "edge", "user": "ops", "host": "edge.internal"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)

	build, ok := reg.Lookup("build")
	require.True(t, ok)
	assert.Equal(t, Entry{Name: "build", User: "ci", Host: "build.internal", Port: 2222}, build)

	edge, ok := reg.Lookup("edge")
	require.True(t, ok)
	assert.Equal(t, 22, edge.Port, "missing port should default to 22")

	_, ok = reg.Lookup("unknown")
	assert.False(t, ok)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultPathHonorsEnvOverride(t *testing.T) {
	t.Setenv("HOSTPILOT_ALIASES", "/custom/aliases.json")
	assert.Equal(t, "/custom/aliases.json", DefaultPath())
}
