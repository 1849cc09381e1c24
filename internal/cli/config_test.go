package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name    string
		config  string
		wantErr bool
	}{
		{
			name: "valid config",
			config: `version: "1"
server: "localhost:24817"
url_namespace: api`,
		},
		{
			name: "with domain",
			config: `version: "1"
server: "https://pulp.example.com:443/"
domain: eu`,
		},
		{
			name:    "missing server",
			config:  `version: "1"`,
			wantErr: true,
		},
		{
			name:    "missing port",
			config:  `server: "example.com"`,
			wantErr: true,
		},
		{
			name: "invalid domain",
			config: `server: "example.com:80"
domain: "a/b"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile := filepath.Join(tmpDir, "config.yaml")
			require.NoError(t, os.WriteFile(configFile, []byte(tt.config), 0644))

			err := LoadConfig(configFile)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, GetConfig().GetServerURL())
		})
	}
}

func TestConfigPaths(t *testing.T) {
	cfg := &Config{Server: "localhost:24817", URLNamespace: "/api/"}
	assert.Equal(t, "http://localhost:24817", cfg.GetServerURL())
	assert.Equal(t, "/api/pulp/api/v3", cfg.ManagementPath())
	assert.Equal(t, "/api/pulp_ansible/galaxy/dev/api", cfg.GalaxyPath("/dev/"))

	cfg.Domain = "eu"
	assert.Equal(t, "/api/pulp/eu/api/v3", cfg.ManagementPath())
	assert.Equal(t, "/api/eu/pulp_ansible/galaxy/dev/api", cfg.GalaxyPath("dev"))

	cfg.URLNamespace = ""
	cfg.Domain = "default"
	assert.Equal(t, "/pulp/api/v3", cfg.ManagementPath())
}

func TestWriteConfig(t *testing.T) {
	file := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{Version: "1", Server: "http://localhost:24817", URLNamespace: "api", Domain: "eu"}
	require.NoError(t, cfg.WriteConfig(file))
	require.NoError(t, LoadConfig(file))
	assert.Equal(t, cfg, GetConfig())
	assert.Error(t, cfg.WriteConfig(""))
}
