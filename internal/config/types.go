package config

import (
	"path/filepath"
	"time"
)

// Config represents the complete nfgate configuration.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Storage StorageConfig `yaml:"storage"`
	State   StateConfig   `yaml:"state"`
	Engine  EngineConfig  `yaml:"engine"`
	API     APIConfig     `yaml:"api,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	// ReconcileInterval controls the background sweep of RUNNING jobs.
	// Zero disables the sweep; job state then only changes on status polls.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
}

// StorageConfig defines where workflow and workspace data lives on disk.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// WorkflowsDir is the root of all workflow spaces.
func (s StorageConfig) WorkflowsDir() string {
	return filepath.Join(s.DataDir, "workflows")
}

// WorkspacesDir is the root of the data workspaces jobs run against.
func (s StorageConfig) WorkspacesDir() string {
	return filepath.Join(s.DataDir, "workspaces")
}

// StateConfig defines job record storage settings.
type StateConfig struct {
	Path string `yaml:"path"`
}

// EngineConfig describes the external workflow engine.
type EngineConfig struct {
	// Binary is the engine executable, resolved via $PATH unless absolute.
	Binary string `yaml:"binary"`
	// MetsName is the metadata file name used when a workspace does not declare one.
	MetsName     string        `yaml:"mets_name"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool          `yaml:"enabled"`
	Listen  string        `yaml:"listen"`
	BaseURL string        `yaml:"base_url"`
	Auth    APIAuthConfig `yaml:"auth"`
}

// APIAuthConfig defines API authentication settings.
type APIAuthConfig struct {
	// APIKey is the legacy single bearer token (admin/full access).
	// Prefer Tokens for scoped access.
	APIKey string     `yaml:"api_key"`
	Tokens []APIToken `yaml:"tokens,omitempty"`
}

// APIToken defines a bearer token and its scopes.
type APIToken struct {
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// ChecksumManifest is the on-disk format of a config directory's .checksums file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:              "nfgate",
			LogLevel:          "info",
			LogFormat:         "json",
			ReconcileInterval: 30 * time.Second,
		},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		State: StateConfig{
			Path: "./data/state.db",
		},
		Engine: EngineConfig{
			Binary:       "nextflow",
			MetsName:     "mets.xml",
			ProbeTimeout: 10 * time.Second,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8000",
			BaseURL: "http://localhost:8000",
		},
	}
}
