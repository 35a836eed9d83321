package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/nfgate/internal/inspect"
	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/tui/watch"
)

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate job start <workflow_id> <workspace_id> [--config PATH] [--json]")
			fmt.Println("Launch the engine for a workflow against a workspace. Returns once the engine is spawned.")
			return 0
		}
		return runJobStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate job status <workflow_id> <job_id> [--config PATH] [--json]")
			fmt.Println("Poll a job. A RUNNING job whose report exists is moved to STOPPED.")
			return 0
		}
		return runJobStatus(actionArgs)
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate job list <workflow_id> [--config PATH] [--json]")
			return 0
		}
		return runJobList(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printJobWatchHelp()
			return 0
		}
		return runJobWatch(actionArgs)
	case "inspect":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: nfgate job inspect <workflow_id> <job_id> [--config PATH] [--json]")
			fmt.Println("Show the job record, exec dir artifacts and the tail of the engine logs.")
			return 0
		}
		return runJobInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: nfgate job <action>")
	fmt.Fprintln(w, "Actions: start, status, list, watch, inspect")
}

func printJobWatchHelp() {
	fmt.Println("Usage: nfgate job watch <workflow_id> [job_id] [flags]")
	fmt.Println()
	fmt.Println("Live TUI over the HTTP API. Without job_id every job of the workflow is shown.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL      nfgate API URL (default: http://localhost:8000)")
	fmt.Println("  --api-key KEY      API Bearer Token (or NFGATE_API_KEY env var)")
	fmt.Println("  --interval DUR     Poll interval (default: 2s)")
	fmt.Println("  --exit             Quit once every watched job is STOPPED")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C          Quit")
	fmt.Println("  ↑/↓, k/j           Navigate jobs")
}

type jobView struct {
	JobID       string     `json:"job_id"`
	WorkflowID  string     `json:"workflow_id"`
	WorkspaceID string     `json:"workspace_id"`
	State       string     `json:"state"`
	Description string     `json:"description"`
	CreatedAt   time.Time  `json:"created_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
}

func toJobView(rec *jobstore.Record) jobView {
	return jobView{
		JobID:       rec.ID,
		WorkflowID:  rec.WorkflowID,
		WorkspaceID: rec.WorkspaceID,
		State:       string(rec.State),
		Description: rec.Description,
		CreatedAt:   rec.CreatedAt,
		StoppedAt:   rec.StoppedAt,
	}
}

func parseJobArgs(name string, args []string, want int, usage string) (configPath string, jsonOut bool, positionals []string, ok bool) {
	flags, positionals := splitFlagsAndPositionals(args, localValueFlags)
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "Path to configuration file or directory")
	fs.BoolVar(&jsonOut, "json", false, "Output in JSON")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return "", false, nil, false
	}
	if len(positionals) != want {
		fmt.Fprintln(os.Stderr, usage)
		return "", false, nil, false
	}
	return configPath, jsonOut, positionals, true
}

func runJobStart(args []string) int {
	configPath, jsonOut, pos, ok := parseJobArgs("job start", args, 2,
		"Usage: nfgate job start <workflow_id> <workspace_id> [--config PATH] [--json]")
	if !ok {
		return 1
	}

	rt, code := openLocalRuntime(configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	rec, err := rt.manager.StartJob(context.Background(), pos[0], pos[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Start failed: %v\n", err)
		return 1
	}

	if jsonOut {
		return printJSON(toJobView(rec))
	}
	fmt.Printf("Started job %s (%s)\n", rec.ID, rec.State)
	return 0
}

func runJobStatus(args []string) int {
	configPath, jsonOut, pos, ok := parseJobArgs("job status", args, 2,
		"Usage: nfgate job status <workflow_id> <job_id> [--config PATH] [--json]")
	if !ok {
		return 1
	}

	rt, code := openLocalRuntime(configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	rec, err := rt.manager.GetJobStatus(context.Background(), pos[0], pos[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		return 1
	}

	if jsonOut {
		return printJSON(toJobView(rec))
	}
	fmt.Printf("Job ID      : %s\n", rec.ID)
	fmt.Printf("Workflow    : %s\n", rec.WorkflowID)
	fmt.Printf("Workspace   : %s\n", rec.WorkspaceID)
	fmt.Printf("State       : %s\n", rec.State)
	fmt.Printf("Created     : %s\n", rec.CreatedAt.Format(time.RFC3339))
	if rec.StoppedAt != nil {
		fmt.Printf("Stopped     : %s\n", rec.StoppedAt.Format(time.RFC3339))
	}
	return 0
}

func runJobList(args []string) int {
	configPath, jsonOut, pos, ok := parseJobArgs("job list", args, 1,
		"Usage: nfgate job list <workflow_id> [--config PATH] [--json]")
	if !ok {
		return 1
	}

	rt, code := openLocalRuntime(configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	recs, err := rt.manager.ListJobs(context.Background(), pos[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		return 1
	}

	if jsonOut {
		views := make([]jobView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, toJobView(rec))
		}
		return printJSON(views)
	}

	rows := make([][]string, 0, len(recs))
	for _, rec := range recs {
		stopped := "-"
		if rec.StoppedAt != nil {
			stopped = rec.StoppedAt.Format(time.RFC3339)
		}
		rows = append(rows, []string{rec.ID, rec.WorkspaceID, string(rec.State), rec.CreatedAt.Format(time.RFC3339), stopped})
	}
	fmt.Println(renderTable([]string{"Job", "Workspace", "State", "Created", "Stopped"}, rows, nil))
	return 0
}

func runJobInspect(args []string) int {
	configPath, jsonOut, pos, ok := parseJobArgs("job inspect", args, 2,
		"Usage: nfgate job inspect <workflow_id> <job_id> [--config PATH] [--json]")
	if !ok {
		return 1
	}

	rt, code := openLocalRuntime(configPath)
	if rt == nil {
		return code
	}
	defer rt.Close()

	in := inspect.New(rt.jobs, rt.spaces)
	var (
		report string
		err    error
	)
	if jsonOut {
		report, err = in.BuildJSONReport(context.Background(), pos[0], pos[1])
		report += "\n"
	} else {
		report, err = in.BuildReport(context.Background(), pos[0], pos[1])
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}

	fmt.Print(report)
	return 0
}

func runJobWatch(args []string) int {
	flags, pos := splitFlagsAndPositionals(args, map[string]bool{
		"--api-url": true, "-api-url": true, "--api-key": true, "-api-key": true,
		"--interval": true, "-interval": true,
	})
	fs := flag.NewFlagSet("job watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8000", "nfgate API URL")
	apiKey := fs.String("api-key", os.Getenv("NFGATE_API_KEY"), "API Bearer Token")
	interval := fs.Duration("interval", 2*time.Second, "Poll interval")
	exitOnStop := fs.Bool("exit", false, "Quit once every watched job is STOPPED")
	if err := fs.Parse(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(pos) < 1 || len(pos) > 2 {
		fmt.Fprintln(os.Stderr, "Usage: nfgate job watch <workflow_id> [job_id] [--api-url URL] [--api-key KEY]")
		return 1
	}

	opts := watch.Options{
		APIURL:     *apiURL,
		APIKey:     *apiKey,
		WorkflowID: pos[0],
		Interval:   *interval,
		ExitOnStop: *exitOnStop,
	}
	if len(pos) == 2 {
		opts.JobID = pos[1]
	}
	if !isTerminal(os.Stdout) {
		fmt.Fprintln(os.Stderr, "job watch needs a terminal; use 'nfgate job status' for scripted polling")
		return 1
	}

	p := tea.NewProgram(watch.New(opts))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
