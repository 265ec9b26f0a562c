package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "engine.yaml", `
server:
  name: "demo"
  version: "1.2.3"
  instructions: "be nice"
  page_size: 10
  default_log_level: "warning"

transport:
  kind: "queue"
  http_addr: "127.0.0.1:8080"
  poll_timeout: "2s"

session:
  backend: "sqlite"
  path: "./data/mcp.db"
  ttl: "1h"
  purge_interval: "30s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Server.Name)
	assert.Equal(t, "1.2.3", cfg.Server.Version)
	assert.Equal(t, "be nice", cfg.Server.Instructions)
	assert.Equal(t, 10, cfg.Server.PageSize)
	assert.Equal(t, "warning", cfg.Server.DefaultLogLevel)
	assert.Equal(t, TransportQueue, cfg.Transport.Kind)
	assert.Equal(t, 2*time.Second, cfg.Transport.PollTimeout)
	assert.Equal(t, BackendSQLite, cfg.Session.Backend)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
	assert.Equal(t, 30*time.Second, cfg.Session.PurgeInterval)
	assert.Equal(t, "json", cfg.Logging.Format)

	// Fields the file leaves out keep their defaults.
	assert.Equal(t, int64(1<<20), cfg.Transport.MaxBodySize)
	assert.Equal(t, "mcp:", cfg.Session.KeyPrefix)
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "engine.toml", `
[server]
name = "demo"

[transport]
kind = "http"
http_addr = ":9090"

[session]
backend = "redis"
redis_addr = "localhost:6379"
redis_db = 2
ttl = "10m"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TransportHTTP, cfg.Transport.Kind)
	assert.Equal(t, ":9090", cfg.Transport.HTTPAddr)
	assert.Equal(t, BackendRedis, cfg.Session.Backend)
	assert.Equal(t, 2, cfg.Session.RedisDB)
	assert.Equal(t, 10*time.Minute, cfg.Session.TTL)
	assert.Equal(t, 5*time.Second, cfg.Transport.PollTimeout)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("MCP_TEST_REDIS_PASSWORD", "s3cret")
	t.Setenv("MCP_TEST_ADDR", "127.0.0.1:7000")

	path := writeConfig(t, "engine.yml", `
transport:
  kind: "sse"
  http_addr: "${MCP_TEST_ADDR}"
session:
  backend: "redis"
  redis_addr: "localhost:6379"
  redis_password: "${MCP_TEST_REDIS_PASSWORD}"
server:
  instructions: "${MCP_TEST_UNSET_VARIABLE}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.Transport.HTTPAddr)
	assert.Equal(t, "s3cret", cfg.Session.RedisPassword)
	assert.Empty(t, cfg.Server.Instructions)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "unsupported extension",
			file:    "engine.json",
			content: `{}`,
			wantErr: "unsupported config format",
		},
		{
			name:    "malformed yaml",
			file:    "engine.yaml",
			content: "server: [",
			wantErr: "parsing config file",
		},
		{
			name:    "bad duration",
			file:    "engine.yaml",
			content: "session:\n  ttl: \"soon\"\n",
			wantErr: "session.ttl",
		},
		{
			name:    "unknown transport",
			file:    "engine.yaml",
			content: "transport:\n  kind: \"websocket\"\n",
			wantErr: "transport.kind",
		},
		{
			name:    "http without address",
			file:    "engine.yaml",
			content: "transport:\n  kind: \"http\"\n",
			wantErr: "transport.http_addr",
		},
		{
			name:    "sqlite without path",
			file:    "engine.toml",
			content: "[session]\nbackend = \"sqlite\"\n",
			wantErr: "session.path",
		},
		{
			name:    "redis without address",
			file:    "engine.toml",
			content: "[session]\nbackend = \"redis\"\n",
			wantErr: "session.redis_addr",
		},
		{
			name:    "unknown mcp log level",
			file:    "engine.yaml",
			content: "server:\n  default_log_level: \"verbose\"\n",
			wantErr: "server.default_log_level",
		},
		{
			name:    "unknown log format",
			file:    "engine.yaml",
			content: "logging:\n  format: \"xml\"\n",
			wantErr: "logging.format",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.file, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
