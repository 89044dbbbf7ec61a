// Package config loads autobuild configuration.
// Values are resolved from (highest to lowest priority):
// 1. Command-line flags
// 2. Environment variables (AUTOBUILD_*)
// 3. Project config (<project>/<auto_build_dir>/config.yaml)
// 4. Home config (~/.autobuild/config.yaml)
// 5. Defaults
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all autobuild configuration.
type Config struct {
	// AutoBuildDir is the per-project state directory (default: .auto-build).
	AutoBuildDir string `yaml:"auto_build_dir" json:"auto_build_dir"`

	// CacheTTL is how long a task scan is served from memory.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// GitTimeout bounds every git invocation.
	GitTimeout time.Duration `yaml:"git_timeout" json:"git_timeout"`

	// DefaultBranch is the base branch used when neither the caller nor the
	// project names one.
	DefaultBranch string `yaml:"default_branch" json:"default_branch"`

	// ProjectsFile is the project registry location.
	ProjectsFile string `yaml:"projects_file" json:"projects_file"`

	Verbose bool `yaml:"verbose" json:"verbose"`

	Agent    AgentConfig    `yaml:"agent" json:"agent"`
	Worktree WorktreeConfig `yaml:"worktree" json:"worktree"`
}

// AgentConfig selects the coding agent CLI.
type AgentConfig struct {
	// Command is the agent executable. Default: "claude".
	Command string `yaml:"command" json:"command"`
	// Args are extra arguments placed before the prompt.
	Args []string `yaml:"args" json:"args"`
}

// WorktreeConfig holds worktree settings.
type WorktreeConfig struct {
	// SymlinkDirs are dependency directories linked from the project root
	// into every new worktree.
	SymlinkDirs []string `yaml:"symlink_dirs" json:"symlink_dirs"`
}

// Default config values.
const (
	DefaultAutoBuildDir = ".auto-build"
	DefaultCacheTTL     = 3 * time.Second
	DefaultGitTimeout   = 30 * time.Second
	DefaultAgentCommand = "claude"
	configFileName      = "config.yaml"
	homeDirName         = ".autobuild"
)

// Environment variables read by Load.
const (
	EnvAutoBuildDir  = "AUTOBUILD_DIR"
	EnvCacheTTL      = "AUTOBUILD_CACHE_TTL"
	EnvGitTimeout    = "AUTOBUILD_GIT_TIMEOUT"
	EnvDefaultBranch = "AUTOBUILD_DEFAULT_BRANCH"
	EnvAgentCommand  = "AUTOBUILD_AGENT_COMMAND"
	EnvProjectsFile  = "AUTOBUILD_PROJECTS_FILE"
	EnvVerbose       = "AUTOBUILD_VERBOSE"
	EnvConfig        = "AUTOBUILD_CONFIG"
)

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		AutoBuildDir: DefaultAutoBuildDir,
		CacheTTL:     DefaultCacheTTL,
		GitTimeout:   DefaultGitTimeout,
		ProjectsFile: defaultProjectsFile(),
		Agent: AgentConfig{
			Command: DefaultAgentCommand,
		},
		Worktree: WorktreeConfig{
			SymlinkDirs: []string{"node_modules", ".venv", "vendor"},
		},
	}
}

func defaultProjectsFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(homeDirName, "projects.json")
	}
	return filepath.Join(home, homeDirName, "projects.json")
}

// Load resolves configuration for a project. projectDir may be empty when no
// project is selected. flags holds command-line overrides and may be nil.
func Load(projectDir string, flags *Config) (*Config, error) {
	layers, err := loadLayers(projectDir, flags)
	if err != nil {
		return nil, err
	}
	cfg := Default()
	for _, l := range layers {
		merge(cfg, l.cfg)
	}
	return cfg, nil
}

// Source represents where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceHome    Source = "~/.autobuild/config.yaml"
	SourceProject Source = "project config.yaml"
	SourceEnv     Source = "environment"
	SourceFlag    Source = "flag"
)

type layer struct {
	source Source
	cfg    *Config
}

// loadLayers returns the non-default layers in ascending priority.
func loadLayers(projectDir string, flags *Config) ([]layer, error) {
	var layers []layer

	home, err := loadFromPath(homeConfigPath())
	if err != nil {
		return nil, err
	}
	if home != nil {
		layers = append(layers, layer{SourceHome, home})
	}

	env, err := fromEnv()
	if err != nil {
		return nil, err
	}

	// The project config lives inside the state directory, so its location
	// depends on the layers that can rename that directory.
	dir := DefaultAutoBuildDir
	for _, c := range []*Config{home, env, flags} {
		if c != nil && c.AutoBuildDir != "" {
			dir = c.AutoBuildDir
		}
	}
	project, err := loadFromPath(projectConfigPath(projectDir, dir))
	if err != nil {
		return nil, err
	}
	if project != nil {
		layers = append(layers, layer{SourceProject, project})
	}

	layers = append(layers, layer{SourceEnv, env})
	if flags != nil {
		layers = append(layers, layer{SourceFlag, flags})
	}
	return layers, nil
}

// homeConfigPath returns the home config path.
func homeConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, homeDirName, configFileName)
}

// projectConfigPath returns the project config path.
func projectConfigPath(projectDir, autoBuildDir string) string {
	if override := strings.TrimSpace(os.Getenv(EnvConfig)); override != "" {
		return override
	}
	if projectDir == "" {
		return ""
	}
	return ProjectConfigPath(projectDir, autoBuildDir)
}

// ProjectConfigPath returns where a project's config file lives.
func ProjectConfigPath(projectDir, autoBuildDir string) string {
	return filepath.Join(projectDir, autoBuildDir, configFileName)
}

// loadFromPath loads config from a YAML file. A missing file is not an error.
func loadFromPath(path string) (*Config, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// fromEnv builds a config layer from AUTOBUILD_* variables.
func fromEnv() (*Config, error) {
	cfg := &Config{
		AutoBuildDir:  os.Getenv(EnvAutoBuildDir),
		DefaultBranch: os.Getenv(EnvDefaultBranch),
		ProjectsFile:  os.Getenv(EnvProjectsFile),
		Agent:         AgentConfig{Command: os.Getenv(EnvAgentCommand)},
	}
	if v := os.Getenv(EnvVerbose); v == "true" || v == "1" {
		cfg.Verbose = true
	}

	var err error
	if cfg.CacheTTL, err = envDuration(EnvCacheTTL); err != nil {
		return nil, err
	}
	if cfg.GitTimeout, err = envDuration(EnvGitTimeout); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// mergeStr overwrites dst with src when src is non-empty.
func mergeStr(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

// mergeDuration overwrites dst with src when src is positive.
func mergeDuration(dst *time.Duration, src time.Duration) {
	if src > 0 {
		*dst = src
	}
}

// merge merges src into dst, with src values taking precedence.
func merge(dst, src *Config) {
	if src == nil {
		return
	}
	mergeStr(&dst.AutoBuildDir, src.AutoBuildDir)
	mergeDuration(&dst.CacheTTL, src.CacheTTL)
	mergeDuration(&dst.GitTimeout, src.GitTimeout)
	mergeStr(&dst.DefaultBranch, src.DefaultBranch)
	mergeStr(&dst.ProjectsFile, src.ProjectsFile)
	if src.Verbose {
		dst.Verbose = true
	}
	mergeStr(&dst.Agent.Command, src.Agent.Command)
	if len(src.Agent.Args) > 0 {
		dst.Agent.Args = append([]string(nil), src.Agent.Args...)
	}
	if src.Worktree.SymlinkDirs != nil {
		dst.Worktree.SymlinkDirs = append([]string(nil), src.Worktree.SymlinkDirs...)
	}
}

// Resolved is one configuration value and the layer that set it.
type Resolved struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Source Source `json:"source"`
}

var fields = []struct {
	key string
	get func(*Config) string
}{
	{"auto_build_dir", func(c *Config) string { return c.AutoBuildDir }},
	{"cache_ttl", func(c *Config) string { return durationString(c.CacheTTL) }},
	{"git_timeout", func(c *Config) string { return durationString(c.GitTimeout) }},
	{"default_branch", func(c *Config) string { return c.DefaultBranch }},
	{"projects_file", func(c *Config) string { return c.ProjectsFile }},
	{"verbose", func(c *Config) string {
		if c.Verbose {
			return "true"
		}
		return ""
	}},
	{"agent.command", func(c *Config) string { return c.Agent.Command }},
	{"agent.args", func(c *Config) string { return strings.Join(c.Agent.Args, " ") }},
	{"worktree.symlink_dirs", func(c *Config) string {
		if c.Worktree.SymlinkDirs == nil {
			return ""
		}
		return "[" + strings.Join(c.Worktree.SymlinkDirs, ", ") + "]"
	}},
}

func durationString(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

// Resolve returns every configuration value with its source, in a fixed order.
func Resolve(projectDir string, flags *Config) ([]Resolved, error) {
	layers, err := loadLayers(projectDir, flags)
	if err != nil {
		return nil, err
	}

	defaults := Default()
	out := make([]Resolved, 0, len(fields))
	for _, f := range fields {
		r := Resolved{Key: f.key, Value: f.get(defaults), Source: SourceDefault}
		for _, l := range layers {
			if v := f.get(l.cfg); v != "" {
				r.Value = v
				r.Source = l.source
			}
		}
		if f.key == "verbose" && r.Value == "" {
			r.Value = "false"
		}
		out = append(out, r)
	}
	return out, nil
}
