package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/mattjoyce/nfgate/internal/config"
	"github.com/mattjoyce/nfgate/internal/engine"
	"github.com/mattjoyce/nfgate/internal/log"
	"github.com/mattjoyce/nfgate/internal/workflowspace"
)

func runWorkflowNoun(args []string) int {
	if len(args) < 1 {
		printWorkflowNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printWorkflowNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate workflow list [--config PATH] [--json]")
			return 0
		}
		return runWorkflowList(actionArgs)
	case "upload":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate workflow upload <file> [--id ID] [--config PATH] [--json]")
			fmt.Println("Store a new workflow definition. Without --id a fresh id is generated.")
			return 0
		}
		return runWorkflowUpload(actionArgs, false)
	case "update":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate workflow update <id> <file> [--config PATH] [--json]")
			fmt.Println("Replace a workflow definition. A missing id is created.")
			return 0
		}
		return runWorkflowUpload(actionArgs, true)
	case "show":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate workflow show <id> [--config PATH] [--json]")
			return 0
		}
		return runWorkflowShow(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown workflow action: %s\n", action)
		return 1
	}
}

func printWorkflowNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: nfgate workflow <action>")
	fmt.Fprintln(w, "Actions: list, upload, update, show")
}

var localValueFlags = map[string]bool{"--config": true, "-config": true, "--id": true, "-id": true}

type workflowView struct {
	ID         string `json:"workflow_id"`
	Definition string `json:"definition"`
	Path       string `json:"path,omitempty"`
	Digest     string `json:"digest,omitempty"`
}

func toWorkflowView(sp workflowspace.Space) workflowView {
	return workflowView{ID: sp.ID, Definition: sp.DefinitionName, Path: sp.DefinitionPath, Digest: sp.Digest}
}

func runWorkflowList(args []string) int {
	fs := flag.NewFlagSet("workflow list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	rt, code := openLocalRuntime(*configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	ctx := context.Background()
	spaces, err := rt.manager.ListWorkflows(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		views := make([]workflowView, 0, len(spaces))
		for _, sp := range spaces {
			views = append(views, toWorkflowView(sp))
		}
		return printJSON(views)
	}

	rows := make([][]string, 0, len(spaces))
	for _, sp := range spaces {
		jobs, err := rt.jobs.ListByWorkflow(ctx, sp.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "List jobs of %s failed: %v\n", sp.ID, err)
			return 1
		}
		rows = append(rows, []string{sp.ID, sp.DefinitionName, strconv.Itoa(len(jobs))})
	}
	fmt.Println(renderTable([]string{"Workflow", "Definition", "Jobs"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	return 0
}

func runWorkflowUpload(args []string, replace bool) int {
	name := "workflow upload"
	if replace {
		name = "workflow update"
	}
	flags, positionals := splitFlagsAndPositionals(args, localValueFlags)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	id := fs.String("id", "", "Workflow id (generated when empty)")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	var file string
	switch {
	case replace && len(positionals) == 2:
		*id, file = positionals[0], positionals[1]
	case !replace && len(positionals) == 1:
		file = positionals[0]
	default:
		if replace {
			fmt.Fprintln(os.Stderr, "Usage: nfgate workflow update <id> <file> [--config PATH]")
		} else {
			fmt.Fprintln(os.Stderr, "Usage: nfgate workflow upload <file> [--id ID] [--config PATH]")
		}
		return 1
	}

	f, err := os.Open(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Open definition: %v\n", err)
		return 1
	}
	defer f.Close()

	rt, code := openLocalRuntime(*configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	ctx := context.Background()
	var sp workflowspace.Space
	if replace {
		sp, err = rt.manager.UpdateWorkflow(ctx, filepath.Base(file), f, *id)
	} else {
		sp, err = rt.manager.CreateWorkflow(ctx, filepath.Base(file), f, *id)
	}
	if err != nil {
		if errors.Is(err, workflowspace.ErrAlreadyExists) {
			fmt.Fprintf(os.Stderr, "Workflow %q already exists; use 'nfgate workflow update'\n", *id)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Store failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(toWorkflowView(sp))
	}
	fmt.Printf("Stored workflow %s (%s)\n", sp.ID, sp.DefinitionName)
	fmt.Printf("digest: %s\n", sp.Digest)
	return 0
}

func runWorkflowShow(args []string) int {
	flags, positionals := splitFlagsAndPositionals(args, localValueFlags)
	fs := flag.NewFlagSet("workflow show", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positionals) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: nfgate workflow show <id> [--config PATH] [--json]")
		return 1
	}

	rt, code := openLocalRuntime(*configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	sp, err := rt.manager.GetWorkflow(context.Background(), positionals[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Show failed: %v\n", err)
		return 1
	}

	if *jsonOut {
		return printJSON(toWorkflowView(sp))
	}
	fmt.Printf("Workflow    : %s\n", sp.ID)
	fmt.Printf("Definition  : %s\n", sp.DefinitionName)
	fmt.Printf("Path        : %s\n", sp.DefinitionPath)
	fmt.Printf("Digest      : %s\n", sp.Digest)
	return 0
}

// --- engine ---

func runEngineNoun(args []string) int {
	if len(args) < 1 {
		printEngineNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printEngineNounHelp(os.Stdout)
		return 0
	}

	switch args[0] {
	case "version":
		if hasHelpFlag(args[1:]) {
			fmt.Println("Usage: nfgate engine version [--config PATH] [--json]")
			fmt.Println("Run '<engine> -v' and print the detected version. Exit 1 when unavailable.")
			return 0
		}
		return runEngineVersion(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown engine action: %s\n", args[0])
		return 1
	}
}

func printEngineNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: nfgate engine <action>")
	fmt.Fprintln(w, "Actions: version")
}

func newProber(cfg *config.Config) *engine.Prober {
	return engine.NewProber(cfg.Engine.Binary, cfg.Engine.ProbeTimeout)
}

func runEngineVersion(args []string) int {
	fs := flag.NewFlagSet("engine version", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	v, err := newProber(cfg).DetectVersion(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Engine %q unavailable: %v\n", cfg.Engine.Binary, err)
		return 1
	}

	if *jsonOut {
		return printJSON(map[string]string{"engine": cfg.Engine.Binary, "version": v})
	}
	fmt.Printf("%s %s\n", cfg.Engine.Binary, v)
	return 0
}

// --- helpers ---

// openLocalRuntime loads config and wires the service graph for a one-shot
// command. It returns a nil runtime and the exit code on failure.
func openLocalRuntime(configPath string) (*runtime, int) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, 1
	}
	log.SetupTo(os.Stderr, cfg.Service.LogLevel, "text")

	rt, err := openRuntime(context.Background(), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open data directory: %v\n", err)
		return nil, 1
	}
	return rt, 0
}

func printJSON(v any) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "JSON format error: %v\n", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}
