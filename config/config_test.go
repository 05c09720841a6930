package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadEnvKeepsExistingValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	assert.NoError(t, os.WriteFile(path, []byte("RT_FROM_FILE=file\nRT_PRESET=file\n"), 0o600))

	t.Setenv("ENV_FILE", path)
	t.Setenv("RT_PRESET", "env")
	t.Setenv("RT_FROM_FILE", "")
	os.Unsetenv("RT_FROM_FILE")

	LoadEnv()
	assert.Equal(t, "file", os.Getenv("RT_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("RT_PRESET"))
}

func TestLoadEnvMissingFile(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	assert.NotPanics(t, LoadEnv)
}
