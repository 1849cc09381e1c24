package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DatabaseTypePostgresql = "postgresql"
	DatabaseTypeMemory     = "memory"

	StorageTypeFilesystem = "filesystem"
	StorageTypeS3         = "s3"
	StorageTypeMemory     = "memory"
)

// Duration decodes TOML strings such as "60s" or "24h".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type DatabaseConfig struct {
	Type     string `toml:"type" validate:"oneof=postgresql memory"`
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"omitempty,min=1,max=65535"`
	DBName   string `toml:"dbname"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	SSLMode  string `toml:"sslmode"`
	// MaxConns bounds the pool; sync workers share it with request handlers.
	MaxConns         int      `toml:"max_conns" validate:"min=1"`
	StatementTimeout Duration `toml:"statement_timeout"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type S3Config struct {
	Bucket          string `toml:"bucket"`
	Region          string `toml:"region"`
	Endpoint        string `toml:"endpoint"`
	AccessKeyID     string `toml:"access_key_id"`
	SecretAccessKey string `toml:"secret_access_key"`
	UsePathStyle    bool   `toml:"use_path_style"`
	Prefix          string `toml:"prefix"`
}

type StorageConfig struct {
	Type string   `toml:"type" validate:"oneof=filesystem s3 memory"`
	Root string   `toml:"root"`
	S3   S3Config `toml:"s3"`
}

type SyncConfig struct {
	Workers            int      `toml:"workers" validate:"min=1"`
	MaxConnsPerHost    int      `toml:"max_conns_per_host" validate:"min=1"`
	ConnectTimeout     Duration `toml:"connect_timeout"`
	ReadTimeout        Duration `toml:"read_timeout"`
	Deadline           Duration `toml:"deadline"`
	RetryAttempts      uint     `toml:"retry_attempts" validate:"min=1"`
	RetryBaseDelay     Duration `toml:"retry_base_delay"`
	RetryMaxDelay      Duration `toml:"retry_max_delay"`
	ConcurrentTasks    int      `toml:"concurrent_tasks" validate:"min=1"`
	UserAgent          string   `toml:"user_agent"`
	InsecureSkipVerify bool     `toml:"insecure_skip_verify"`
}

type OrphanConfig struct {
	Grace    Duration `toml:"grace"`
	Interval Duration `toml:"interval"`
}

type ConfigParam struct {
	ServerPort string `toml:"server_port" validate:"required"`
	HandleCORS bool   `toml:"handle_cors"`
	LogLevel   string `toml:"log_level"`

	APIHostname             string `toml:"api_hostname" validate:"omitempty,url"`
	ContentHostname         string `toml:"content_hostname" validate:"omitempty,url"`
	SigningTaskLimiter      int    `toml:"signing_task_limiter" validate:"min=1"`
	CertsDir                string `toml:"certs_dir"`
	DefaultDistributionPath string `toml:"default_distribution_path"`
	URLNamespace            string `toml:"url_namespace"`

	Database DatabaseConfig `toml:"database"`
	Storage  StorageConfig  `toml:"storage"`
	Sync     SyncConfig     `toml:"sync"`
	Orphans  OrphanConfig   `toml:"orphans"`
}

// APIPrefix is the mount point of the galaxy API, always with a leading
// and no trailing slash.
func (c *ConfigParam) APIPrefix() string {
	ns := strings.Trim(c.URLNamespace, "/")
	if ns == "" {
		return ""
	}
	return "/" + ns
}

func defaults() ConfigParam {
	return ConfigParam{
		ServerPort:         "24817",
		HandleCORS:         false,
		LogLevel:           "info",
		APIHostname:        "http://localhost:24817",
		ContentHostname:    "http://localhost:24817",
		SigningTaskLimiter: 10,
		URLNamespace:       "/api",
		Database: DatabaseConfig{
			Type:             DatabaseTypePostgresql,
			Host:             "localhost",
			Port:             5432,
			DBName:           "pulp_ansible",
			User:             "pulp",
			SSLMode:          "disable",
			MaxConns:         20,
			StatementTimeout: Duration{30 * time.Second},
		},
		Storage: StorageConfig{
			Type: StorageTypeFilesystem,
			Root: "/var/lib/pulp/media",
		},
		Sync: SyncConfig{
			Workers:         10,
			MaxConnsPerHost: 10,
			ConnectTimeout:  Duration{60 * time.Second},
			ReadTimeout:     Duration{600 * time.Second},
			Deadline:        Duration{6 * time.Hour},
			RetryAttempts:   5,
			RetryBaseDelay:  Duration{time.Second},
			RetryMaxDelay:   Duration{60 * time.Second},
			ConcurrentTasks: 4,
			UserAgent:       "pulp-ansible",
		},
		Orphans: OrphanConfig{
			Grace:    Duration{24 * time.Hour},
			Interval: Duration{time.Hour},
		},
	}
}

var cfg *ConfigParam

// Config returns the configuration loaded by the last successful LoadConfig.
func Config() *ConfigParam {
	return cfg
}

// LoadConfig reads filename over the defaults and validates the result. An
// empty filename yields the defaults.
func LoadConfig(filename string) (*ConfigParam, error) {
	cp := defaults()
	if filename != "" {
		content, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %v", err)
		}
		if _, err := toml.Decode(string(content), &cp); err != nil {
			return nil, fmt.Errorf("error parsing config file: %v", err)
		}
	}
	if err := Validate(&cp); err != nil {
		return nil, err
	}
	cfg = &cp
	return cfg, nil
}

// Defaults returns a fresh copy of the default configuration.
func Defaults() *ConfigParam {
	cp := defaults()
	return &cp
}

func Validate(cp *ConfigParam) error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(cp); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cp.Storage.Type == StorageTypeFilesystem && cp.Storage.Root == "" {
		return fmt.Errorf("invalid configuration: storage.root is required for filesystem storage")
	}
	if cp.Storage.Type == StorageTypeS3 && cp.Storage.S3.Bucket == "" {
		return fmt.Errorf("invalid configuration: storage.s3.bucket is required for s3 storage")
	}
	return nil
}
