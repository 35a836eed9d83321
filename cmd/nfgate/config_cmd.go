package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/nfgate/internal/auth"
	"github.com/mattjoyce/nfgate/internal/config"
	"github.com/mattjoyce/nfgate/internal/doctor"
	"github.com/mattjoyce/nfgate/internal/tui/tokenmgr"
)

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate config lock [--config PATH]")
			fmt.Println("Record the BLAKE3 hash of the config file in .checksums next to it.")
			fmt.Println("Later loads refuse a config whose hash no longer matches.")
			return 0
		}
		return runConfigLock(actionArgs)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate config show [--config PATH]")
			fmt.Println("Print the effective configuration (defaults applied, env vars expanded).")
			return 0
		}
		return runConfigShow(actionArgs)
	case "token":
		if hasHelpFlag(actionArgs) {
			printConfigTokenHelp()
			return 0
		}
		return runConfigToken(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: nfgate config <action>")
	fmt.Fprintln(w, "Actions: check, lock, show, token")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: nfgate config check [--config PATH] [--strict] [--format human|json] [--json]")
	fmt.Println("Validate configuration, storage layout and engine availability.")
	fmt.Println("Exit codes: 0 valid, 1 errors, 2 warnings with --strict.")
}

func printConfigTokenHelp() {
	fmt.Println("Usage: nfgate config token [--scopes CSV]")
	fmt.Println("Generate a bearer token and print the api.auth.tokens entry to paste into config.")
	fmt.Println("Without --scopes an interactive picker is shown.")
	fmt.Printf("Scopes: %s\n", strings.Join(scopeNames(), ", "))
}

func runConfigCheck(args []string) int {
	var configPath string
	var strict, jsonOut bool
	var format string

	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration")
	fs.BoolVar(&strict, "strict", false, "Treat warnings as errors")
	fs.StringVar(&format, "format", "human", "Output format (human, json)")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if jsonOut {
		format = "json"
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	result := doctor.New(cfg, newProber(cfg)).Validate(ctx)

	switch format {
	case "json":
		out, err := doctor.FormatJSON(result)
		if err != nil {
			fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
			return 1
		}
		fmt.Println(out)
	default:
		fmt.Print(doctor.FormatHuman(result))
	}

	if !result.Valid {
		return 1
	}
	if strict && len(result.Warnings) > 0 {
		return 2
	}
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("lock", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	target := *configPath
	if target == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
			return 1
		}
		target = discovered
	}

	checksumPath, err := config.Lock(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Lock failed: %v\n", err)
		return 1
	}
	fmt.Printf("Wrote %s\n", checksumPath)
	return 0
}

func runConfigShow(args []string) int {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config load error: %v\n", err)
		return 1
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "YAML format error: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

type tokenSnippet struct {
	API struct {
		Auth struct {
			Tokens []config.APIToken `yaml:"tokens"`
		} `yaml:"auth"`
	} `yaml:"api"`
}

func runConfigToken(args []string) int {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	scopesArg := fs.String("scopes", "", "Comma-separated scopes")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var scopes []string
	if strings.TrimSpace(*scopesArg) != "" {
		scopes = parseCSVScopes(*scopesArg)
	} else {
		if !isTerminal(os.Stdout) {
			fmt.Fprintln(os.Stderr, "No terminal for the scope picker; pass --scopes")
			return 1
		}
		picked, ok := pickScopes()
		if !ok {
			fmt.Fprintln(os.Stderr, "Cancelled")
			return 1
		}
		scopes = picked
	}

	if len(scopes) == 0 {
		fmt.Fprintln(os.Stderr, "At least one scope is required")
		return 1
	}
	for _, s := range scopes {
		if !auth.KnownScope(s) {
			fmt.Fprintf(os.Stderr, "Unknown scope %q (known: %s)\n", s, strings.Join(scopeNames(), ", "))
			return 1
		}
	}

	token, err := generateSecureToken(32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to generate token: %v\n", err)
		return 1
	}

	var snippet tokenSnippet
	snippet.API.Auth.Tokens = []config.APIToken{{Token: token, Scopes: scopes}}
	out, err := yaml.Marshal(snippet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "YAML format error: %v\n", err)
		return 1
	}
	fmt.Print(string(out))
	return 0
}

func pickScopes() ([]string, bool) {
	final, err := tea.NewProgram(tokenmgr.New()).Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return nil, false
	}
	m, ok := final.(tokenmgr.Model)
	if !ok || m.Cancelled() {
		return nil, false
	}
	return m.SelectedScopes(), true
}

func scopeNames() []string {
	names := make([]string, 0, len(tokenmgr.Scopes))
	for _, s := range tokenmgr.Scopes {
		names = append(names, s.Scope)
	}
	return names
}

func generateSecureToken(bytesLen int) (string, error) {
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func parseCSVScopes(in string) []string {
	parts := strings.Split(in, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}
