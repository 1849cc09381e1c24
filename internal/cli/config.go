package cli

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the default name of the config file
const DefaultConfigFile = "config.yaml"

// Config holds the connection details of the pulp-ansible CLI.
type Config struct {
	// Version of the configuration file format
	Version string `yaml:"version"`
	// Server is the scheme, host and port of the server.
	Server string `yaml:"server"`
	// URLNamespace is the path every API of the server is mounted under.
	URLNamespace string `yaml:"url_namespace"`
	// Domain scopes management requests. Empty selects the default domain.
	Domain string `yaml:"domain,omitempty"`
}

var config *Config

// GetDefaultConfigPath returns the default path for the config file
// It uses the OS-specific config directory (e.g., ~/.config/pulp-ansible on Linux)
func GetDefaultConfigPath() (string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(configDir, "pulp-ansible", DefaultConfigFile), nil
}

// LoadConfig loads the configuration from the specified file
// If no file is specified, it uses the default config location
func LoadConfig(file string) error {
	if file == "" {
		var err error
		file, err = GetDefaultConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get default config path: %w", err)
		}
	}

	yamlStr, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("unable to read config file: %w", err)
	}

	var c Config
	if err = yaml.Unmarshal(yamlStr, &c); err != nil {
		return fmt.Errorf("unable to parse config file: %w", err)
	}
	c.Server = MorphServer(c.Server)
	if err := c.ValidateConfig(); err != nil {
		return err
	}

	config = &c
	return nil
}

// GetConfig returns the current configuration
func GetConfig() *Config {
	return config
}

// WriteConfig writes the current configuration to the specified file
func (cfg *Config) WriteConfig(file string) error {
	if file == "" {
		return errors.New("file path cannot be empty")
	}

	err := os.MkdirAll(filepath.Dir(file), os.ModePerm)
	if err != nil {
		return fmt.Errorf("unable to create config directory: %w", err)
	}

	yamlStr, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("unable to generate configuration: %w", err)
	}

	err = os.WriteFile(file, yamlStr, os.FileMode(0644))
	if err != nil {
		return fmt.Errorf("unable to write config file: %w", err)
	}

	return nil
}

// ValidateConfig checks for required fields and proper formatting.
func (cfg *Config) ValidateConfig() error {
	if cfg.Server == "" {
		return errors.New("server is required")
	}
	u, err := url.Parse(cfg.Server)
	if err != nil || u.Host == "" {
		return fmt.Errorf("server %q is not a valid url", cfg.Server)
	}
	if u.Port() == "" {
		return errors.New("server must include port number")
	}
	if strings.ContainsAny(cfg.Domain, "/ ") {
		return fmt.Errorf("invalid domain %q", cfg.Domain)
	}
	return nil
}

// Print prints the current configuration in a human-readable format
func (cfg *Config) Print(w io.Writer) {
	fmt.Fprintf(w, "Server: %s\n", cfg.Server)
	fmt.Fprintf(w, "API root: %s/\n", cfg.APIRoot())
	fmt.Fprintf(w, "Domain: %s\n", cfg.domain())
}

// MorphServer ensures the server URL is properly formatted
// Adds http:// prefix if missing and removes trailing slashes
func MorphServer(server string) string {
	if server == "" {
		return server
	}
	server = strings.TrimRight(server, "/")
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	return server
}

// GetServerURL returns the properly formatted server URL
func (cfg *Config) GetServerURL() string {
	return MorphServer(cfg.Server)
}

// APIRoot is the url namespace with a leading and no trailing slash.
func (cfg *Config) APIRoot() string {
	ns := strings.Trim(cfg.URLNamespace, "/")
	if ns == "" {
		return ""
	}
	return "/" + ns
}

func (cfg *Config) domain() string {
	if cfg.Domain == "" {
		return catcommon.DefaultDomainName
	}
	return cfg.Domain
}

// ManagementPath is the root of the management API of the configured domain.
func (cfg *Config) ManagementPath() string {
	root := cfg.APIRoot() + "/pulp"
	if d := cfg.domain(); d != catcommon.DefaultDomainName {
		root += "/" + d
	}
	return root + "/api/v3"
}

// GalaxyPath is the galaxy API root of the distribution at basePath.
func (cfg *Config) GalaxyPath(basePath string) string {
	root := cfg.APIRoot()
	if d := cfg.domain(); d != catcommon.DefaultDomainName {
		root += "/" + d
	}
	return root + "/pulp_ansible/galaxy/" + strings.Trim(basePath, "/") + "/api"
}
