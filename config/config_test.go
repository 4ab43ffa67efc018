package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	cfg.Upstream.Address = "127.0.0.1:9000"
	require.NoError(t, cfg.Validate())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bpcore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":8081"
upstream:
  kind: fastcgi
  address: "127.0.0.1:9001"
pool:
  max_conns_per_upstream: 32
timeouts:
  connect: 2s
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Listen)
	assert.Equal(t, UpstreamFastCGI, cfg.Upstream.Kind)
	assert.Equal(t, "127.0.0.1:9001", cfg.Upstream.Address)
	assert.Equal(t, 32, cfg.Pool.MaxConnsPerUpstream)
	// Fields the file didn't set keep Default's values.
	assert.Equal(t, 4096, cfg.Pool.SlabChunkSize)
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bpcore.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen = ":8082"

[upstream]
kind = "http"
address = "127.0.0.1:9002"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8082", cfg.Listen)
	assert.Equal(t, UpstreamHTTP, cfg.Upstream.Kind)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bpcore.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsUnknownUpstreamKind(t *testing.T) {
	cfg := Default()
	cfg.Upstream.Kind = "carrier-pigeon"
	cfg.Upstream.Address = "x"
	assert.Error(t, cfg.Validate())
}

func TestValidateRequiresUpstreamAddress(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate())
}

func TestLogReloadReportsChanges(t *testing.T) {
	log := zaptest.NewLogger(t)
	old := Default()
	old.Upstream.Address = "127.0.0.1:9000"
	next := old
	next.Listen = ":9999"

	assert.True(t, LogReload(log, old, next))
	assert.False(t, LogReload(log, old, old))
}
