package worktree

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pablasso/autobuild/internal/util"
)

// Config is the persisted record of one worktree.
type Config struct {
	Name         string    `json:"name"`
	WorktreePath string    `json:"worktreePath"`
	BranchName   string    `json:"branchName"`
	BaseBranch   string    `json:"baseBranch"`
	HasGitBranch bool      `json:"hasGitBranch"`
	TaskID       string    `json:"taskId,omitempty"`
	TerminalID   string    `json:"terminalId,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`

	Kind Kind `json:"-"`
}

// Older releases kept the config inside the worktree itself.
const (
	legacyConfigDir  = ".auto-build-worktree"
	legacyConfigFile = "config.json"
	metaDirName      = ".meta"
)

// metaStore persists Config records under worktrees/.meta/<kind>/<name>.json.
type metaStore struct {
	dir string
}

func (s *metaStore) path(kind Kind, name string) string {
	return filepath.Join(s.dir, kind.dirName(), name+".json")
}

// save atomically writes cfg.
func (s *metaStore) save(cfg *Config) error {
	if err := util.WriteJSONAtomic(s.path(cfg.Kind, cfg.Name), cfg); err != nil {
		return fmt.Errorf("failed to save worktree metadata: %w", err)
	}
	return nil
}

// load reads a record. A missing record returns os.ErrNotExist.
func (s *metaStore) load(kind Kind, name string) (*Config, error) {
	return readConfig(s.path(kind, name), kind)
}

// list returns every record of a kind. Unreadable records are skipped.
func (s *metaStore) list(kind Kind) ([]*Config, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, kind.dirName(), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob worktree metadata: %w", err)
	}

	var configs []*Config
	for _, match := range matches {
		cfg, err := readConfig(match, kind)
		if err != nil {
			continue
		}
		if cfg.Name == "" {
			cfg.Name = strings.TrimSuffix(filepath.Base(match), ".json")
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

// delete removes a record. Deleting a missing record is not an error.
func (s *metaStore) delete(kind Kind, name string) error {
	err := os.Remove(s.path(kind, name))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (s *metaStore) exists(kind Kind, name string) bool {
	_, err := os.Stat(s.path(kind, name))
	return err == nil
}

func legacyConfigPath(worktreePath string) string {
	return filepath.Join(worktreePath, legacyConfigDir, legacyConfigFile)
}

func readConfig(path string, kind Kind) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse worktree config %s: %w", path, err)
	}
	cfg.Kind = kind
	return &cfg, nil
}
