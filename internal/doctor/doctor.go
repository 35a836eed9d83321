// Package doctor checks an nfgate installation: configuration, data
// directories and the workflow engine binary.
package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/mattjoyce/nfgate/internal/auth"
	"github.com/mattjoyce/nfgate/internal/config"
)

// Result holds the outcome of a validation run.
type Result struct {
	Valid         bool    `json:"valid"`
	EngineVersion string  `json:"engine_version,omitempty"`
	Errors        []Issue `json:"errors,omitempty"`
	Warnings      []Issue `json:"warnings,omitempty"`
}

// Issue describes a single validation error or warning.
type Issue struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
}

// VersionProber reports the engine version.
type VersionProber interface {
	DetectVersion(ctx context.Context) (string, error)
}

// Doctor validates a loaded config against the host it runs on.
type Doctor struct {
	cfg    *config.Config
	prober VersionProber
}

// New creates a Doctor. prober may be nil to skip the engine check.
func New(cfg *config.Config, prober VersionProber) *Doctor {
	return &Doctor{cfg: cfg, prober: prober}
}

// Validate runs all checks and returns a result.
func (d *Doctor) Validate(ctx context.Context) *Result {
	r := &Result{Valid: true}

	d.validateServiceConfig(r)
	d.validateStorage(r)
	d.validateAPIConfig(r)
	d.validateTokenScopes(r)
	d.checkEngine(ctx, r)
	d.warnMissingEnvVars(r)
	d.warnDeprecatedSyntax(r)
	d.warnSuspiciousInterval(r)

	r.Valid = len(r.Errors) == 0
	return r
}

func (d *Doctor) addError(r *Result, category, field, msg string) {
	r.Errors = append(r.Errors, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) addWarning(r *Result, category, field, msg string) {
	r.Warnings = append(r.Warnings, Issue{Category: category, Field: field, Message: msg})
}

func (d *Doctor) validateServiceConfig(r *Result) {
	if d.cfg.State.Path == "" {
		d.addError(r, "service", "state.path", "state.path is required")
	}
	if d.cfg.Service.ReconcileInterval < 0 {
		d.addError(r, "service", "service.reconcile_interval", "reconcile_interval must not be negative")
	}
	if d.cfg.Engine.Binary == "" {
		d.addError(r, "engine", "engine.binary", "engine.binary is required")
	}
}

// validateStorage checks that the data directory exists (or can be created)
// and is writable, and that the workspaces root is present.
func (d *Doctor) validateStorage(r *Result) {
	dataDir := d.cfg.Storage.DataDir
	if dataDir == "" {
		d.addError(r, "storage", "storage.data_dir", "storage.data_dir is required")
		return
	}

	info, err := os.Stat(dataDir)
	switch {
	case errors.Is(err, os.ErrNotExist):
		d.addWarning(r, "storage", "storage.data_dir",
			fmt.Sprintf("data directory %s does not exist; it will be created on start", dataDir))
		return
	case err != nil:
		d.addError(r, "storage", "storage.data_dir", fmt.Sprintf("stat data directory: %v", err))
		return
	case !info.IsDir():
		d.addError(r, "storage", "storage.data_dir", fmt.Sprintf("%s is not a directory", dataDir))
		return
	}

	if err := probeWritable(dataDir); err != nil {
		d.addError(r, "storage", "storage.data_dir", fmt.Sprintf("data directory not writable: %v", err))
	}

	if _, err := os.Stat(d.cfg.Storage.WorkspacesDir()); errors.Is(err, os.ErrNotExist) {
		d.addWarning(r, "storage", "storage.data_dir",
			fmt.Sprintf("workspaces directory %s is missing; every job start will fail until it exists", d.cfg.Storage.WorkspacesDir()))
	}
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

func (d *Doctor) validateAPIConfig(r *Result) {
	if !d.cfg.API.Enabled {
		return
	}
	if d.cfg.API.Listen == "" {
		d.addError(r, "api", "api.listen", "api.listen is required when API is enabled")
	} else if _, _, err := net.SplitHostPort(d.cfg.API.Listen); err != nil {
		d.addError(r, "api", "api.listen", fmt.Sprintf("invalid listen address %q: %v", d.cfg.API.Listen, err))
	}
	if d.cfg.API.Auth.APIKey == "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "api", "api.auth",
			"no api_key or tokens configured; the API accepts unauthenticated requests")
	}
}

func (d *Doctor) validateTokenScopes(r *Result) {
	for i, tok := range d.cfg.API.Auth.Tokens {
		field := fmt.Sprintf("api.auth.tokens[%d].scopes", i)
		if len(tok.Scopes) == 0 {
			d.addError(r, "tokens", field, "token has no scopes")
			continue
		}
		for _, s := range tok.Scopes {
			if !auth.KnownScope(s) {
				d.addError(r, "tokens", field, fmt.Sprintf("unknown scope %q", s))
			}
		}
	}
}

// checkEngine probes the engine binary. Without it no job can start.
func (d *Doctor) checkEngine(ctx context.Context, r *Result) {
	if d.prober == nil || d.cfg.Engine.Binary == "" {
		return
	}
	version, err := d.prober.DetectVersion(ctx)
	if err != nil {
		d.addError(r, "engine", "engine.binary",
			fmt.Sprintf("engine %q unavailable: %v", d.cfg.Engine.Binary, err))
		return
	}
	r.EngineVersion = version
}

var envVarRe = regexp.MustCompile(`\$\{([A-Z_][A-Z0-9_]*)\}`)

// warnMissingEnvVars warns about ${VAR} references where VAR is not set.
func (d *Doctor) warnMissingEnvVars(r *Result) {
	fields := map[string]string{
		"storage.data_dir":  d.cfg.Storage.DataDir,
		"state.path":        d.cfg.State.Path,
		"engine.binary":     d.cfg.Engine.Binary,
		"api.auth.api_key":  d.cfg.API.Auth.APIKey,
		"api.base_url":      d.cfg.API.BaseURL,
		"service.log_level": d.cfg.Service.LogLevel,
	}
	for i, tok := range d.cfg.API.Auth.Tokens {
		fields[fmt.Sprintf("api.auth.tokens[%d].token", i)] = tok.Token
		if tok.Token == "" {
			d.addWarning(r, "env_vars", fmt.Sprintf("api.auth.tokens[%d].token", i),
				"token value is empty (possibly unresolved environment variable)")
		}
	}

	for field, value := range fields {
		for _, m := range envVarRe.FindAllStringSubmatch(value, -1) {
			if os.Getenv(m[1]) == "" {
				d.addWarning(r, "env_vars", field, fmt.Sprintf("environment variable ${%s} not set", m[1]))
			}
		}
	}
}

func (d *Doctor) warnDeprecatedSyntax(r *Result) {
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) > 0 {
		d.addWarning(r, "deprecated", "api.auth",
			"both api_key and tokens configured; prefer tokens array only")
	}
	if d.cfg.API.Auth.APIKey != "" && len(d.cfg.API.Auth.Tokens) == 0 {
		d.addWarning(r, "deprecated", "api.auth.api_key",
			"legacy api_key grants full access; migrate to tokens array with scopes")
	}
}

// warnSuspiciousInterval flags reconcile intervals that would hammer the disk
// or leave jobs RUNNING for a long time between polls.
func (d *Doctor) warnSuspiciousInterval(r *Result) {
	iv := d.cfg.Service.ReconcileInterval
	switch {
	case iv == 0:
		d.addWarning(r, "reconcile", "service.reconcile_interval",
			"background reconcile disabled; job state only changes when polled")
	case iv > 0 && iv < time.Second:
		d.addWarning(r, "reconcile", "service.reconcile_interval",
			fmt.Sprintf("reconcile interval %s is very short (< 1s)", iv))
	case iv > 24*time.Hour:
		d.addWarning(r, "reconcile", "service.reconcile_interval",
			fmt.Sprintf("reconcile interval %s is longer than a day", iv))
	}
}

// FormatHuman returns a human-readable validation report.
func FormatHuman(r *Result) string {
	var b strings.Builder

	if r.EngineVersion != "" {
		fmt.Fprintf(&b, "Engine version %s\n", r.EngineVersion)
	}

	if r.Valid && len(r.Warnings) == 0 {
		b.WriteString("Configuration valid.\n")
		return b.String()
	}

	if r.Valid && len(r.Warnings) > 0 {
		b.WriteString("Configuration valid")
		fmt.Fprintf(&b, " (%d warning(s))\n", len(r.Warnings))
	}

	if !r.Valid {
		fmt.Fprintf(&b, "Configuration invalid (%d error(s), %d warning(s))\n", len(r.Errors), len(r.Warnings))
	}

	for _, e := range r.Errors {
		if e.Field != "" {
			fmt.Fprintf(&b, "  ERROR [%s] %s: %s\n", e.Category, e.Field, e.Message)
		} else {
			fmt.Fprintf(&b, "  ERROR [%s] %s\n", e.Category, e.Message)
		}
	}
	for _, w := range r.Warnings {
		if w.Field != "" {
			fmt.Fprintf(&b, "  WARN  [%s] %s: %s\n", w.Category, w.Field, w.Message)
		} else {
			fmt.Fprintf(&b, "  WARN  [%s] %s\n", w.Category, w.Message)
		}
	}

	return b.String()
}

// FormatJSON returns the result as indented JSON.
func FormatJSON(r *Result) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
