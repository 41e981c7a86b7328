package inventory

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleInventory = `
defaults:
  user: ops
  port: 2222
  password: fleetpass
  destinations:
    - 8.8.8.8

targets:
  - host: 10.20.0.1
    label: core
  - host: 10.20.0.2
    user: root
    port: 22
    password: ownpass
    destinations:
      - 1.1.1.1
      - 9.9.9.9
`

func TestParseAppliesDefaults(t *testing.T) {
	targets, err := Parse([]byte(sampleInventory))
	require.NoError(t, err)
	require.Len(t, targets, 2)

	first := targets[0]
	assert.Equal(t, "10.20.0.1", first.Host)
	assert.Equal(t, "ops", first.User)
	assert.Equal(t, 2222, first.Port)
	assert.Equal(t, "fleetpass", first.Password)
	assert.Equal(t, "core", first.Label)
	assert.Equal(t, []string{"8.8.8.8"}, first.Destinations)

	second := targets[1]
	assert.Equal(t, "root", second.User)
	assert.Equal(t, 22, second.Port)
	assert.Equal(t, "ownpass", second.Password)
	assert.Equal(t, []string{"1.1.1.1", "9.9.9.9"}, second.Destinations)
}

func TestParseFallbackDefaults(t *testing.T) {
	targets, err := Parse([]byte("targets:\n  - host: 10.0.0.1\n    destinations: [8.8.8.8]\n"))
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, "root", targets[0].User)
	assert.Equal(t, 22, targets[0].Port)
}

func TestParseRejectsEmptyAndInvalid(t *testing.T) {
	_, err := Parse([]byte("defaults:\n  user: ops\n"))
	assert.Error(t, err, "no targets")

	// Entry without destinations anywhere fails validation
	_, err = Parse([]byte("targets:\n  - host: 10.0.0.1\n"))
	assert.Error(t, err)

	// Entry without a host fails validation
	_, err = Parse([]byte("targets:\n  - user: root\n    destinations: [8.8.8.8]\n"))
	assert.Error(t, err)

	_, err = Parse([]byte(":\tnot yaml"))
	assert.Error(t, err)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleInventory), 0o644))

	targets, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, targets, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
