package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mattjoyce/nfgate/internal/api"
	"github.com/mattjoyce/nfgate/internal/auth"
	"github.com/mattjoyce/nfgate/internal/lock"
	"github.com/mattjoyce/nfgate/internal/log"
	"github.com/mattjoyce/nfgate/internal/reconciler"
	"github.com/mattjoyce/nfgate/internal/storage"
)

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolvedPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("nfgate starting", "version", version, "config", resolvedPath)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		logger.Error("failed to open runtime", "error", err)
		return 1
	}
	defer rt.Close()
	logger.Info("database opened", "path", cfg.State.Path)

	if n, err := rt.workflows.PruneStaging(ctx, reconciler.StagingMaxAge); err != nil {
		logger.Warn("failed to prune upload staging", "error", err)
	} else if n > 0 {
		logger.Info("pruned upload staging", "removed", n)
	}

	if v, err := rt.prober.DetectVersion(ctx); err != nil {
		logger.Warn("engine unavailable; job starts will fail until it is installed", "binary", cfg.Engine.Binary, "error", err)
	} else {
		logger.Info("engine detected", "binary", cfg.Engine.Binary, "version", v)
	}

	g, gctx := errgroup.WithContext(ctx)

	rec := reconciler.New(cfg.Service.ReconcileInterval, rt.jobs, rt.manager, rt.workflows, log.Get())
	g.Go(func() error {
		if err := rec.Start(gctx); err != nil {
			return fmt.Errorf("reconciler: %w", err)
		}
		<-gctx.Done()
		rec.Stop()
		return nil
	})

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.API.Auth.Tokens))
		for _, t := range cfg.API.Auth.Tokens {
			tokens = append(tokens, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
		}
		apiServer := api.New(api.Config{
			Listen:  cfg.API.Listen,
			BaseURL: cfg.API.BaseURL,
			APIKey:  cfg.API.Auth.APIKey,
			Tokens:  tokens,
		}, rt.manager, rt.events, log.WithComponent("api"))
		g.Go(func() error {
			if err := apiServer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("api: %w", err)
			}
			return nil
		})
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("nfgate running (press Ctrl+C to stop)")

	if err := g.Wait(); err != nil {
		logger.Error("component failed", "error", err)
		return 1
	}

	logger.Info("nfgate stopped")
	return 0
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Config  string        `json:"config,omitempty"`
	Checks  []statusCheck `json:"checks"`
}

func runStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, resolved, err := loadConfig(*configPath)
	report.Config = resolved
	if err != nil {
		add("config", false, err.Error())
		return emitStatus(report, *jsonOut)
	}
	add("config", true, "loaded")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if db, err := storage.OpenSQLite(ctx, cfg.State.Path); err != nil {
		add("database", false, err.Error())
	} else {
		_ = db.Close()
		add("database", true, cfg.State.Path)
	}

	pidPath := getPIDLockPath(cfg)
	if l, err := lock.AcquirePIDLock(pidPath); err != nil {
		if errors.Is(err, lock.ErrLocked) {
			add("service", true, err.Error())
		} else {
			add("service", false, err.Error())
		}
	} else {
		_ = l.Release()
		_ = os.Remove(pidPath)
		add("service", true, "not running")
	}

	if v, err := newProber(cfg).DetectVersion(ctx); err != nil {
		add("engine", false, err.Error())
	} else {
		add("engine", true, v)
	}

	return emitStatus(report, *jsonOut)
}

func emitStatus(report statusReport, jsonOut bool) int {
	if jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		rows := make([][]string, 0, len(report.Checks))
		for _, c := range report.Checks {
			state := "OK"
			if !c.OK {
				state = "FAIL"
			}
			rows = append(rows, []string{c.Name, state, c.Detail})
		}
		fmt.Println(renderTable([]string{"Check", "State", "Detail"}, rows, nil))
	}
	if !report.Healthy {
		return 1
	}
	return 0
}
