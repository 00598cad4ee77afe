package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solkunai/soltrivia/internal/config"
)

type testConfig struct {
	HTTP struct {
		Port int32
	}

	Chain struct {
		VerifierURL      string
		EntryFeeLamports int64
	}
}

func TestLoad_Layering(t *testing.T) {
	file := writeFile(t, `
http:
  port: 8080
chain:
  verifierurl: https://verifier.example.com
`)

	c := testConfig{}
	c.Chain.EntryFeeLamports = 10_000_000 // struct default, absent from the file

	require.NoError(t, config.Load(file, &c))

	assert.Equal(t, int32(8080), c.HTTP.Port)
	assert.Equal(t, "https://verifier.example.com", c.Chain.VerifierURL)
	assert.Equal(t, int64(10_000_000), c.Chain.EntryFeeLamports)
}

func TestLoad_EnvironmentWins(t *testing.T) {
	file := writeFile(t, `
http:
  port: 8080
`)

	t.Setenv("HTTP_PORT", "9090")

	var c testConfig
	require.NoError(t, config.Load(file, &c))

	assert.Equal(t, int32(9090), c.HTTP.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	var c testConfig
	err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), &c)
	require.Error(t, err)
}

func writeFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}
