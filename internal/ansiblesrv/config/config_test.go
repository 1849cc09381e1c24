package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadConfigDefaults(t *testing.T) {
	cp, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, 10, cp.SigningTaskLimiter)
	assert.Equal(t, 10, cp.Sync.Workers)
	assert.Equal(t, 60*time.Second, cp.Sync.ConnectTimeout.Duration)
	assert.Equal(t, 600*time.Second, cp.Sync.ReadTimeout.Duration)
	assert.Equal(t, "/api", cp.APIPrefix())
	assert.Same(t, cp, Config())
}

func TestLoadConfigFile(t *testing.T) {
	p := writeConfig(t, `
server_port = "8080"
api_hostname = "https://galaxy.local"
url_namespace = "/pulp/api/"
signing_task_limiter = 3

[database]
type = "memory"

[storage]
type = "memory"

[sync]
workers = 4
deadline = "30m"
`)
	cp, err := LoadConfig(p)
	require.NoError(t, err)
	assert.Equal(t, "8080", cp.ServerPort)
	assert.Equal(t, 3, cp.SigningTaskLimiter)
	assert.Equal(t, "/pulp/api", cp.APIPrefix())
	assert.Equal(t, DatabaseTypeMemory, cp.Database.Type)
	assert.Equal(t, 4, cp.Sync.Workers)
	assert.Equal(t, 30*time.Minute, cp.Sync.Deadline.Duration)
	// unset keys keep their defaults
	assert.Equal(t, 5, int(cp.Sync.RetryAttempts))
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero signing limiter", "signing_task_limiter = 0\n"},
		{"bad storage type", "[storage]\ntype = \"ftp\"\n"},
		{"bad duration", "[sync]\ndeadline = \"soon\"\n"},
		{"zero workers", "[sync]\nworkers = 0\n"},
		{"s3 without bucket", "[storage]\ntype = \"s3\"\n"},
		{"bad api hostname", "api_hostname = \"not a url\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestDSN(t *testing.T) {
	d := Defaults().Database
	assert.Equal(t, "host=localhost port=5432 user=pulp password= dbname=pulp_ansible sslmode=disable", d.DSN())
}
