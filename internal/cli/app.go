package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pablasso/autobuild/internal/config"
	"github.com/pablasso/autobuild/internal/executor"
	"github.com/pablasso/autobuild/internal/logging"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/specs"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/tasks"
	"github.com/pablasso/autobuild/internal/worktree"
)

// app is everything a command needs for the selected project.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	logFile  *os.File
	registry *project.Registry
	project  project.Project
	svc      *tasks.Service
}

// workingDir returns the --project directory or the current directory.
func workingDir() (string, error) {
	dir := projectFlag
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return abs, nil
}

func loadConfig(dir string) (*config.Config, error) {
	return config.Load(dir, flagConfig())
}

// flagConfig is the command-line layer of the configuration.
func flagConfig() *config.Config {
	return &config.Config{Verbose: verboseFlag}
}

func newRegistry(cfg *config.Config) *project.Registry {
	return project.NewRegistry(cfg.ProjectsFile, cfg.AutoBuildDir)
}

// openApp resolves the project containing the working directory and wires
// the task service for it.
func openApp(hooks tasks.Hooks) (*app, error) {
	dir, err := workingDir()
	if err != nil {
		return nil, err
	}
	cfg, err := loadConfig(dir)
	if err != nil {
		return nil, err
	}
	registry := newRegistry(cfg)
	p, err := registry.FindByPath(dir)
	if errors.Is(err, task.ErrProjectNotFound) {
		return nil, fmt.Errorf("%s is not an autobuild project. Run 'autobuild init' first", dir)
	}
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, registry: registry, project: p}
	a.logger, a.logFile = openLogger(cfg, p)

	a.svc = tasks.NewService(tasks.Deps{
		Projects:  registry,
		Scanner:   specs.NewScanner(specs.Options{TTL: cfg.CacheTTL, Logger: a.logger}),
		Worktrees: a.worktrees,
		Runner: func(p project.Project) executor.AgentRunner {
			return executor.NewClaudeRunner(executor.ClaudeOptions{
				Command:  cfg.Agent.Command,
				Args:     cfg.Agent.Args,
				SpecsDir: specs.Dir(p.Path, p.AutoBuildPath),
				Logger:   a.logger,
			})
		},
		Preflight: executor.NewPreflight(cfg.Agent.Command),
		Hooks:     hooks,
		Logger:    a.logger,
	})
	return a, nil
}

// openLogger logs to the project log file, and to stderr with --verbose.
func openLogger(cfg *config.Config, p project.Project) (*log.Logger, *os.File) {
	var sinks []io.Writer
	f, err := logging.OpenFile(p.Path, p.AutoBuildPath)
	if err == nil {
		sinks = append(sinks, f)
	}
	if cfg.Verbose {
		sinks = append(sinks, os.Stderr)
	}
	if len(sinks) == 0 {
		return logging.Discard(), nil
	}
	return logging.New(io.MultiWriter(sinks...), logging.Options{
		Verbose:         cfg.Verbose,
		ReportTimestamp: true,
	}), f
}

func (a *app) worktrees(p project.Project) *worktree.Manager {
	return worktree.NewManager(worktree.Options{
		ProjectDir:    p.Path,
		AutoBuildDir:  p.AutoBuildPath,
		MainBranch:    p.Settings.MainBranch,
		DefaultBranch: a.cfg.DefaultBranch,
		SymlinkDirs:   a.cfg.Worktree.SymlinkDirs,
		GitTimeout:    a.cfg.GitTimeout,
		Logger:        a.logger,
	})
}

func (a *app) Close() {
	if a.logFile != nil {
		a.logFile.Close()
	}
}

// commandContext returns the command's context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
