package plan

import (
	"encoding/json"
	"time"

	"github.com/pablasso/autobuild/internal/task"
)

// FileName is the plan file inside every spec directory.
const FileName = "implementation_plan.json"

// PlanStatusReview marks a plan that is waiting for the user to approve it
// before coding starts.
const PlanStatusReview = "review"

// SubtaskStatus is the persisted state of a single subtask.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
)

// Resettable reports whether a subtask may be returned to pending without
// losing finished work.
func (s SubtaskStatus) Resettable() bool {
	return s == SubtaskInProgress || s == SubtaskFailed
}

// Subtask is one unit of work inside a phase.
type Subtask struct {
	ID           FlexID        `json:"id"`
	Description  string        `json:"description"`
	Status       SubtaskStatus `json:"status"`
	ActualOutput string        `json:"actual_output,omitempty"`
	StartedAt    Timestamp     `json:"started_at,omitzero"`
	CompletedAt  Timestamp     `json:"completed_at,omitzero"`

	Extra map[string]json.RawMessage `json:"-"`
}

var subtaskKeys = keySet("id", "description", "status", "actual_output", "started_at", "completed_at")

// Reset returns the subtask to pending and clears its execution fields.
func (s *Subtask) Reset() {
	s.Status = SubtaskPending
	s.ActualOutput = ""
	s.StartedAt = Timestamp{}
	s.CompletedAt = Timestamp{}
}

func (s *Subtask) UnmarshalJSON(b []byte) error {
	type alias Subtask
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	extra, err := splitExtra(b, subtaskKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	*s = Subtask(a)
	return nil
}

func (s Subtask) MarshalJSON() ([]byte, error) {
	type alias Subtask
	out, err := json.Marshal(alias(s))
	if err != nil {
		return nil, err
	}
	return appendExtra(out, s.Extra, subtaskKeys)
}

// Phase groups subtasks. Older plans name the list "chunks"; the key that
// was read is the key that gets written back.
type Phase struct {
	ID       FlexID    `json:"id,omitempty"`
	Name     string    `json:"name,omitempty"`
	Subtasks []Subtask `json:"subtasks"`

	Extra  map[string]json.RawMessage `json:"-"`
	chunks bool
}

var phaseKeys = keySet("id", "name", "subtasks", "chunks")

func (p *Phase) UnmarshalJSON(b []byte) error {
	type alias Phase
	var w struct {
		alias
		Chunks []Subtask `json:"chunks"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	extra, err := splitExtra(b, phaseKeys)
	if err != nil {
		return err
	}
	*p = Phase(w.alias)
	p.Extra = extra
	if p.Subtasks == nil && w.Chunks != nil {
		p.Subtasks = w.Chunks
		p.chunks = true
	}
	return nil
}

func (p Phase) MarshalJSON() ([]byte, error) {
	subtasks := p.Subtasks
	if subtasks == nil {
		subtasks = []Subtask{}
	}

	var out []byte
	var err error
	if p.chunks {
		out, err = json.Marshal(struct {
			ID     FlexID    `json:"id,omitempty"`
			Name   string    `json:"name,omitempty"`
			Chunks []Subtask `json:"chunks"`
		}{p.ID, p.Name, subtasks})
	} else {
		type alias Phase
		a := alias(p)
		a.Subtasks = subtasks
		out, err = json.Marshal(a)
	}
	if err != nil {
		return nil, err
	}
	return appendExtra(out, p.Extra, phaseKeys)
}

// QASignoff is the block the QA reviewer writes when it finishes.
type QASignoff struct {
	Status    string    `json:"status"`
	Timestamp Timestamp `json:"timestamp,omitzero"`

	Extra map[string]json.RawMessage `json:"-"`
}

var signoffKeys = keySet("status", "timestamp")

func (q *QASignoff) UnmarshalJSON(b []byte) error {
	type alias QASignoff
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	extra, err := splitExtra(b, signoffKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	*q = QASignoff(a)
	return nil
}

func (q QASignoff) MarshalJSON() ([]byte, error) {
	type alias QASignoff
	out, err := json.Marshal(alias(q))
	if err != nil {
		return nil, err
	}
	return appendExtra(out, q.Extra, signoffKeys)
}

// RecoveryNote records the last time a stuck task was repaired.
type RecoveryNote struct {
	ID             string    `json:"id"`
	RecoveredAt    Timestamp `json:"recoveredAt,omitzero"`
	PreviousStatus string    `json:"previousStatus"`
	ResetSubtasks  []string  `json:"resetSubtasks,omitempty"`
	Reason         string    `json:"reason,omitempty"`
}

// Plan is the persisted implementation_plan.json document.
type Plan struct {
	Feature             string        `json:"feature"`
	Description         string        `json:"description,omitempty"`
	Status              string        `json:"status"`
	PlanStatus          string        `json:"planStatus,omitempty"`
	ExecutionPhase      string        `json:"executionPhase,omitempty"`
	Phases              []Phase       `json:"phases"`
	QASignoff           *QASignoff    `json:"qa_signoff,omitempty"`
	StagedInMainProject bool          `json:"stagedInMainProject,omitempty"`
	StagedAt            Timestamp     `json:"stagedAt,omitzero"`
	RecoveryNote        *RecoveryNote `json:"recoveryNote,omitempty"`
	CreatedAt           Timestamp     `json:"created_at,omitzero"`
	UpdatedAt           Timestamp     `json:"updated_at,omitzero"`

	Extra map[string]json.RawMessage `json:"-"`
}

var planKeys = keySet("feature", "description", "status", "planStatus", "executionPhase", "phases",
	"qa_signoff", "stagedInMainProject", "stagedAt", "recoveryNote", "created_at", "updated_at")

// New returns a plan with no phases yet.
func New(feature, description, status string, now time.Time) *Plan {
	return &Plan{
		Feature:     feature,
		Description: description,
		Status:      status,
		Phases:      []Phase{},
		CreatedAt:   NewTimestamp(now),
		UpdatedAt:   NewTimestamp(now),
	}
}

func (p *Plan) UnmarshalJSON(b []byte) error {
	type alias Plan
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	extra, err := splitExtra(b, planKeys)
	if err != nil {
		return err
	}
	a.Extra = extra
	*p = Plan(a)
	return nil
}

func (p Plan) MarshalJSON() ([]byte, error) {
	type alias Plan
	a := alias(p)
	if a.Phases == nil {
		a.Phases = []Phase{}
	}
	out, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return appendExtra(out, p.Extra, planKeys)
}

// Touch sets updated_at.
func (p *Plan) Touch(now time.Time) {
	p.UpdatedAt = NewTimestamp(now)
}

// EachSubtask calls fn for every subtask in phase order. fn may modify the subtask.
func (p *Plan) EachSubtask(fn func(*Subtask)) {
	for i := range p.Phases {
		for j := range p.Phases[i].Subtasks {
			fn(&p.Phases[i].Subtasks[j])
		}
	}
}

// Counts tallies subtasks by status. Unknown statuses count as pending.
func (p *Plan) Counts() task.SubtaskCounts {
	var c task.SubtaskCounts
	p.EachSubtask(func(s *Subtask) {
		c.Total++
		switch s.Status {
		case SubtaskCompleted:
			c.Completed++
		case SubtaskInProgress:
			c.InProgress++
		case SubtaskFailed:
			c.Failed++
		default:
			c.Pending++
		}
	})
	return c
}

// Views flattens subtasks into the read-only form carried on a Task.
func (p *Plan) Views() []task.Subtask {
	views := []task.Subtask{}
	p.EachSubtask(func(s *Subtask) {
		views = append(views, task.Subtask{
			ID:          string(s.ID),
			Description: s.Description,
			Status:      string(s.Status),
		})
	})
	return views
}
