package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/util"
)

// ErrCorrupted is wrapped by LoadResult.Err when the plan file is not valid JSON.
var ErrCorrupted = errors.New("plan file is corrupted")

// ErrMissing is returned by operations that require an existing plan file.
var ErrMissing = errors.New("plan file does not exist")

// LoadResult is the outcome of reading a plan file. Exactly one of Plan,
// Err or Missing is set.
type LoadResult struct {
	Plan    *Plan
	Err     error
	Missing bool
}

// OK reports whether the plan was read and parsed.
func (r LoadResult) OK() bool {
	return r.Plan != nil
}

// Corrupted reports whether the file exists but could not be parsed.
func (r LoadResult) Corrupted() bool {
	return errors.Is(r.Err, ErrCorrupted)
}

// Load reads and parses the plan file at path.
func Load(path string) LoadResult {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LoadResult{Missing: true}
		}
		return LoadResult{Err: fmt.Errorf("failed to read %s: %w", FileName, err)}
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return LoadResult{Err: fmt.Errorf("%w: file is empty", ErrCorrupted)}
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return LoadResult{Err: fmt.Errorf("%w: %v", ErrCorrupted, err)}
	}
	return LoadResult{Plan: &p}
}

// Save atomically writes p to path.
func Save(path string, p *Plan) error {
	if err := util.WriteJSONAtomic(path, p); err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// load is Load for callers that need a plan to exist.
func load(path string) (*Plan, error) {
	res := Load(path)
	switch {
	case res.Missing:
		return nil, fmt.Errorf("%w: %s", ErrMissing, path)
	case res.Err != nil:
		return nil, res.Err
	}
	return res.Plan, nil
}

// PersistStatus writes status to the plan at path. The file is rewritten
// only when the stored status differs; changed reports whether it was.
func PersistStatus(path string, status task.Status, now time.Time) (changed bool, err error) {
	p, err := load(path)
	if err != nil {
		return false, err
	}
	if p.Status == string(status) {
		return false, nil
	}
	p.Status = string(status)
	p.Touch(now)
	if err := Save(path, p); err != nil {
		return false, err
	}
	return true, nil
}

// CreateIfMissing writes an empty plan for a new task unless one exists.
// An existing file, even a corrupted one, is left alone.
func CreateIfMissing(path, feature, description, status string, now time.Time) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("failed to stat plan: %w", err)
	}
	if err := Save(path, New(feature, description, status, now)); err != nil {
		return false, err
	}
	return true, nil
}
