package task

import "time"

// Subtask is the read-only view of a plan subtask carried on a Task.
type Subtask struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

// Task is the in-memory projection of a spec directory. It is rebuilt by the
// scanner on every cache miss and must not be mutated by callers.
type Task struct {
	SpecID       string       `json:"specId"`
	ProjectID    string       `json:"projectId"`
	Title        string       `json:"title"`
	Description  string       `json:"description"`
	Status       Status       `json:"status"`
	ReviewReason ReviewReason `json:"reviewReason,omitempty"`
	Subtasks     []Subtask    `json:"subtasks"`
	Location     Location     `json:"location"`
	SpecPath     string       `json:"specPath"`
	SourceType   string       `json:"sourceType,omitempty"`
	Archived     bool         `json:"archived,omitempty"`
	Corrupted    bool         `json:"corrupted,omitempty"`
	Diverged     bool         `json:"diverged,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	c := t
	if t.Subtasks != nil {
		c.Subtasks = make([]Subtask, len(t.Subtasks))
		copy(c.Subtasks, t.Subtasks)
	}
	return c
}

// SubtaskCounts tallies subtasks by status.
type SubtaskCounts struct {
	Total      int
	Completed  int
	InProgress int
	Failed     int
	Pending    int
}

// AllCompleted reports whether there is at least one subtask and all are completed.
func (c SubtaskCounts) AllCompleted() bool {
	return c.Total > 0 && c.Completed == c.Total
}
