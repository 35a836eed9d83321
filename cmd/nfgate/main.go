package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	if cmd == "--version" {
		return runVersion(args)
	}

	switch cmd {
	// --- NOUNS ---
	case "workflow":
		return runWorkflowNoun(args)
	case "job":
		return runJobNoun(args)
	case "engine":
		return runEngineNoun(args)
	case "config":
		return runConfigNoun(args)

	// --- ROOT ACTIONS ---
	case "start":
		if hasHelpFlag(args) {
			printStartHelp()
			return 0
		}
		return runStart(args)
	case "status":
		if hasHelpFlag(args) {
			printStatusHelp()
			return 0
		}
		return runStatus(args)
	case "doctor":
		if hasHelpFlag(args) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(args)
	case "version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: nfgate version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("nfgate %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}

	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	resolvedBuildTime := strings.TrimSpace(buildDate)
	if resolvedBuildTime == "" || resolvedBuildTime == "unknown" {
		resolvedBuildTime = strings.TrimSpace(readBuildSetting("vcs.time"))
	}
	if normalized, ok := normalizeBuildTimeUTC(resolvedBuildTime); ok {
		info.BuildTime = normalized
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`nfgate - Workflow job gateway for the Nextflow engine

Usage:
  nfgate <noun> <action> [flags]

Core Resources (Nouns):
  workflow  Stored workflow definitions
  job       Executions of a workflow against a workspace
  engine    The external workflow engine
  config    Configuration validation and integrity

Service Commands:
  start             Start the HTTP API and reconciler in foreground
  status            Show config, database, lock and engine health
  doctor            Alias for 'config check'

Workflow Commands:
  workflow list              List stored workflows
  workflow upload <file>     Store a new workflow definition
  workflow update <id> <f>   Replace a workflow definition
  workflow show <id>         Show a workflow and its digest

Job Commands:
  job start <wf> <ws>        Launch a workflow against a workspace
  job status <wf> <job>      Poll a job (moves it to STOPPED when finished)
  job list <wf>              List jobs of a workflow
  job watch <wf> [job]       Live TUI over the HTTP API
  job inspect <wf> <job>     Show exec dir artifacts and engine log tails

Engine Commands:
  engine version             Probe the installed engine

Config Commands:
  config check      Validate configuration, directories and engine
  config lock       Record config checksums
  config show       Print the resolved configuration
  config token      Generate a scoped API token

General:
  --version         Show version information
  version           Show version information
  help              Show this help message

Use 'nfgate <noun> help' for resource-specific flags.
`)
}

func isTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

// splitFlagsAndPositionals lets flags follow positional arguments, as in
// 'nfgate job status wf-1 job-1 --json'.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positionals = append(positionals, arg)
			continue
		}

		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			i++
			flags = append(flags, args[i])
		}
	}

	return flags, positionals
}

func printStartHelp() {
	fmt.Println("Usage: nfgate start [--config PATH]")
	fmt.Println("Start the HTTP API (when api.enabled) and the background reconciler.")
}

func printStatusHelp() {
	fmt.Println("Usage: nfgate status [--config PATH] [--json]")
	fmt.Println("Show config, database readiness, PID lock state and engine version.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All required checks passed")
	fmt.Println("  1  One or more checks failed")
}
