package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattjoyce/nfgate/internal/completion"
	"github.com/mattjoyce/nfgate/internal/config"
	"github.com/mattjoyce/nfgate/internal/engine"
	"github.com/mattjoyce/nfgate/internal/events"
	"github.com/mattjoyce/nfgate/internal/execspace"
	"github.com/mattjoyce/nfgate/internal/jobstore"
	"github.com/mattjoyce/nfgate/internal/orchestrator"
	"github.com/mattjoyce/nfgate/internal/storage"
	"github.com/mattjoyce/nfgate/internal/workflowspace"
	"github.com/mattjoyce/nfgate/internal/workspace"
)

const eventBufferSize = 256

// runtime is the wired service graph shared by 'start' and the local
// workflow/job commands.
type runtime struct {
	cfg       *config.Config
	db        *sql.DB
	jobs      *jobstore.Store
	workflows *workflowspace.Store
	spaces    *execspace.Allocator
	prober    *engine.Prober
	events    *events.Hub
	manager   *orchestrator.Manager
}

func openRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	workflowsDir := cfg.Storage.WorkflowsDir()
	workspacesDir := cfg.Storage.WorkspacesDir()
	for _, dir := range []string{workflowsDir, workspacesDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return nil, err
	}

	rt := &runtime{cfg: cfg, db: db, jobs: jobstore.New(db)}
	fail := func(err error) (*runtime, error) {
		_ = db.Close()
		return nil, err
	}

	if rt.workflows, err = workflowspace.NewStore(workflowsDir); err != nil {
		return fail(err)
	}
	if rt.spaces, err = execspace.NewAllocator(workflowsDir); err != nil {
		return fail(err)
	}
	resolver, err := workspace.NewFSResolver(workspacesDir, cfg.Engine.MetsName)
	if err != nil {
		return fail(err)
	}
	rt.prober = newProber(cfg)
	rt.events = events.NewHub(eventBufferSize)

	rt.manager, err = orchestrator.New(orchestrator.Deps{
		EngineBinary: cfg.Engine.Binary,
		Workflows:    rt.workflows,
		Workspaces:   resolver,
		Spaces:       rt.spaces,
		Launcher:     engine.NewLauncher(),
		Prober:       rt.prober,
		Detector:     completion.NewDetector(rt.spaces),
		Jobs:         rt.jobs,
		Events:       rt.events,
	})
	if err != nil {
		return fail(err)
	}
	return rt, nil
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := config.DiscoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func getPIDLockPath(cfg *config.Config) string {
	dbPath := cfg.State.Path
	dbBase := filepath.Base(dbPath)
	nameWithoutExt := dbBase[:len(dbBase)-len(filepath.Ext(dbBase))]
	return filepath.Join(filepath.Dir(dbPath), nameWithoutExt+".pid")
}
