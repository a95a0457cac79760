package fserve_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jsfix-ci/fenris/fserve"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 8080
host: 127.0.0.1
production: false
outputDir: build
outputFile: main.js
trustedOrigins:
  - https://admin.example.com
shutdownGrace: 2s
bodyLimit: 1024
render:
  title: Shop
  cachePerUrl: true
bundler:
  dir: web
  command: npx
  args: [webpack, serve]
  output:
    publicPath: /static/
    filename: main.js
`), 0o600))

	cfg, err := fserve.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, "build", cfg.OutputDir)
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.TrustedOrigins)
	assert.Equal(t, 2*time.Second, cfg.ShutdownGrace)
	assert.Equal(t, int64(1024), cfg.BodyLimit)
	assert.Equal(t, map[string]interface{}{"title": "Shop", "cachePerUrl": true}, cfg.RenderExtra)
	require.NotNil(t, cfg.Bundler)
	assert.Equal(t, "npx", cfg.Bundler.Command)
	assert.Equal(t, []string{"webpack", "serve"}, cfg.Bundler.Args)
	assert.Equal(t, "/static/", cfg.Bundler.Output.PublicPath)

	addr, err := cfg.Address()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", addr)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := fserve.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [1, 2"), 0o600))
	_, err = fserve.LoadConfig(path)
	assert.Error(t, err)
}

func TestResolvePort(t *testing.T) {
	t.Setenv("PORT", "")
	port, err := fserve.Config{}.ResolvePort()
	require.NoError(t, err)
	assert.Equal(t, fserve.DefaultPort, port)

	t.Setenv("PORT", "4100")
	port, err = fserve.Config{}.ResolvePort()
	require.NoError(t, err)
	assert.Equal(t, 4100, port)

	port, err = fserve.Config{Port: 5000}.ResolvePort()
	require.NoError(t, err)
	assert.Equal(t, 5000, port, "explicit port wins over $PORT")

	t.Setenv("PORT", "http")
	_, err = fserve.Config{}.ResolvePort()
	assert.Error(t, err)

	t.Setenv("PORT", "70000")
	_, err = fserve.Config{}.Address()
	assert.Error(t, err)
}

func TestEnvironment(t *testing.T) {
	t.Setenv(fserve.EnvironmentVariable, "")
	assert.Equal(t, "default", fserve.EnvironmentFromEnv())
	assert.False(t, fserve.IsProduction())

	t.Setenv("NODE_ENV", "production")
	assert.Equal(t, "production", fserve.EnvironmentFromEnv())
	assert.True(t, fserve.IsProduction())
}

func TestLoadConfigEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 8080\n"), 0o600))

	t.Setenv(fserve.EnvironmentVariable, "production")
	cfg, err := fserve.LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.Production, "NODE_ENV=production selects production")

	t.Setenv(fserve.EnvironmentVariable, "development")
	cfg, err = fserve.LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.Production)

	t.Setenv(fserve.EnvironmentVariable, "production")
	require.NoError(t, os.WriteFile(path, []byte("production: false\n"), 0o600))
	cfg, err = fserve.LoadConfig(path)
	require.NoError(t, err)
	assert.False(t, cfg.Production, "the file wins over the environment")
}
