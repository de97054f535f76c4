package config

import (
	"time"

	pkgconfig "github.com/kartikbazzad/bunbase/collab/pkg/config"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

// EnvPrefix is the prefix for environment overrides, e.g. COLLAB_SERVER_PORT.
const EnvPrefix = "COLLAB_"

// Config holds the collab server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	AI       AIConfig       `mapstructure:"ai"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Log      logger.Config  `mapstructure:"log"`
}

// ServerConfig configures the HTTP/websocket listener.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	CORSOrigin      string        `mapstructure:"corsorigin"`
	ShutdownTimeout time.Duration `mapstructure:"shutdowntimeout"`
	SendBuffer      int           `mapstructure:"sendbuffer"`
	BacklogSize     int           `mapstructure:"backlogsize"`
	AppendTimeout   time.Duration `mapstructure:"appendtimeout"`
}

// DatabaseConfig configures the workspace store. Driver is "postgres" or "memory".
type DatabaseConfig struct {
	Driver         string `mapstructure:"driver"`
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	MigrationsPath string `mapstructure:"migrationspath"`
}

// AuthConfig configures bearer token signing and verification.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwtsecret"`
	TokenTTL  time.Duration `mapstructure:"tokenttl"`
	Issuer    string        `mapstructure:"issuer"`
}

// AIConfig configures the generative collaborator.
type AIConfig struct {
	APIKey      string        `mapstructure:"apikey"`
	Model       string        `mapstructure:"model"`
	Temperature float32       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Workers     int           `mapstructure:"workers"`
}

// RunnerConfig configures the execution sandbox.
type RunnerConfig struct {
	WorkDir        string        `mapstructure:"workdir"`
	InstallCommand []string      `mapstructure:"installcommand"`
	StartCommand   []string      `mapstructure:"startcommand"`
	PreviewHost    string        `mapstructure:"previewhost"`
	ReadyTimeout   time.Duration `mapstructure:"readytimeout"`
	ProbeInterval  time.Duration `mapstructure:"probeinterval"`
}

// StorageConfig configures object storage for tree snapshots. An empty
// endpoint disables snapshots.
type StorageConfig struct {
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"accesskeyid"`
	SecretAccessKey string        `mapstructure:"secretaccesskey"`
	UseSSL          bool          `mapstructure:"usessl"`
	Bucket          string        `mapstructure:"bucket"`
	URLExpiry       time.Duration `mapstructure:"urlexpiry"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            3000,
			CORSOrigin:      "*",
			ShutdownTimeout: 10 * time.Second,
			SendBuffer:      256,
			BacklogSize:     50,
			AppendTimeout:   5 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:         "postgres",
			Host:           "localhost",
			Port:           5432,
			User:           "collab",
			Name:           "collab",
			MigrationsPath: "./internal/database/migrations",
		},
		Auth: AuthConfig{
			JWTSecret: "default-key",
			TokenTTL:  24 * time.Hour,
			Issuer:    "collab",
		},
		AI: AIConfig{
			Model:       "gemini-2.0-flash",
			Temperature: 0.4,
			Timeout:     90 * time.Second,
			Workers:     16,
		},
		Runner: RunnerConfig{
			InstallCommand: []string{"npm", "install"},
			StartCommand:   []string{"npm", "start"},
			PreviewHost:    "localhost",
			ReadyTimeout:   2 * time.Minute,
			ProbeInterval:  250 * time.Millisecond,
		},
		Storage: StorageConfig{
			Bucket:    "collab-snapshots",
			URLExpiry: time.Hour,
		},
		Log: logger.Config{
			Level:  "INFO",
			Format: "json",
		},
	}
}

// Load returns Default overlaid with the config file (if any) and
// COLLAB_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := pkgconfig.LoadFile(path, EnvPrefix, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
