package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/nfgate/internal/auth"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file or a directory holding config.yaml.
func Load(configPath string) (*Config, error) {
	absPath, err := resolveConfigFile(configPath)
	if err != nil {
		return nil, err
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolateEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	applyConfigDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $NFGATE_CONFIG, ~/.config/nfgate/config.yaml, /etc/nfgate/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("NFGATE_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		userConfig := filepath.Join(homeDir, ".config", "nfgate", "config.yaml")
		if _, err := os.Stat(userConfig); err == nil {
			return userConfig, nil
		}
	}

	systemConfig := "/etc/nfgate/config.yaml"
	if _, err := os.Stat(systemConfig); err == nil {
		return systemConfig, nil
	}

	localConfig := "./config.yaml"
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	return "", fmt.Errorf("no config found (checked: $NFGATE_CONFIG, ~/.config/nfgate/config.yaml, /etc/nfgate/config.yaml, ./config.yaml)")
}

func resolveConfigFile(configPath string) (string, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return "", fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return "", fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}
	return absPath, nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = defaults.Storage.DataDir
	}
	if cfg.State.Path == "" {
		cfg.State.Path = filepath.Join(cfg.Storage.DataDir, "state.db")
	}

	if cfg.Engine.Binary == "" {
		cfg.Engine.Binary = defaults.Engine.Binary
	}
	if cfg.Engine.MetsName == "" {
		cfg.Engine.MetsName = defaults.Engine.MetsName
	}
	if cfg.Engine.ProbeTimeout == 0 {
		cfg.Engine.ProbeTimeout = defaults.Engine.ProbeTimeout
	}

	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = "http://" + cfg.API.Listen
	}
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}
	if cfg.Service.ReconcileInterval < 0 {
		return fmt.Errorf("service.reconcile_interval must not be negative")
	}

	if err := checkUnresolved("storage.data_dir", cfg.Storage.DataDir); err != nil {
		return err
	}
	if err := checkUnresolved("state.path", cfg.State.Path); err != nil {
		return err
	}

	if cfg.Engine.ProbeTimeout < 0 {
		return fmt.Errorf("engine.probe_timeout must not be negative")
	}
	if filepath.Base(cfg.Engine.MetsName) != cfg.Engine.MetsName {
		return fmt.Errorf("engine.mets_name must be a bare file name (got %q)", cfg.Engine.MetsName)
	}

	if cfg.API.Enabled {
		if _, err := url.Parse(cfg.API.BaseURL); err != nil {
			return fmt.Errorf("api.base_url: %w", err)
		}
		if err := checkUnresolved("api.auth.api_key", cfg.API.Auth.APIKey); err != nil {
			return err
		}
		for i, tok := range cfg.API.Auth.Tokens {
			if tok.Token == "" {
				return fmt.Errorf("api.auth.tokens[%d].token is required", i)
			}
			if err := checkUnresolved(fmt.Sprintf("api.auth.tokens[%d].token", i), tok.Token); err != nil {
				return err
			}
			if len(tok.Scopes) == 0 {
				return fmt.Errorf("api.auth.tokens[%d].scopes must be non-empty", i)
			}
			for _, scope := range tok.Scopes {
				if !auth.KnownScope(scope) {
					return fmt.Errorf("api.auth.tokens[%d]: unknown scope %q", i, scope)
				}
			}
		}
	}

	return nil
}

func checkUnresolved(field, value string) error {
	if !envVarPattern.MatchString(value) {
		return nil
	}
	matches := envVarPattern.FindStringSubmatch(value)
	if len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", field, matches[1])
	}
	return fmt.Errorf("%s: unresolved environment variable", field)
}
