// Package phase validates execution phase transitions reported by the agent
// and projects phases onto user-facing task statuses.
package phase

import (
	"fmt"

	"github.com/pablasso/autobuild/internal/task"
)

// ExecutionPhase is the fine-grained stage reported by the agent process.
type ExecutionPhase string

const (
	Idle     ExecutionPhase = "idle"
	Planning ExecutionPhase = "planning"
	Coding   ExecutionPhase = "coding"
	QAReview ExecutionPhase = "qa_review"
	QAFixing ExecutionPhase = "qa_fixing"
	Complete ExecutionPhase = "complete"
	Failed   ExecutionPhase = "failed"
)

// All returns every phase in order.
func All() []ExecutionPhase {
	return []ExecutionPhase{Idle, Planning, Coding, QAReview, QAFixing, Complete, Failed}
}

// Parse converts a raw phase string. Unknown values return false.
func Parse(raw string) (ExecutionPhase, bool) {
	p := ExecutionPhase(raw)
	_, ok := ranks[p]
	return p, ok
}

func (p ExecutionPhase) String() string { return string(p) }

// ranks defines the partial order. Phases sharing a rank are siblings:
// qa_review and qa_fixing alternate freely, complete and failed are both ends.
var ranks = map[ExecutionPhase]int{
	Idle:     0,
	Planning: 1,
	Coding:   2,
	QAReview: 3,
	QAFixing: 3,
	Complete: 4,
	Failed:   4,
}

// prerequisites lists the phases that must be completed before entering a phase.
var prerequisites = map[ExecutionPhase][]ExecutionPhase{
	Idle:     nil,
	Planning: nil,
	Coding:   {Planning},
	QAReview: {Planning, Coding},
	QAFixing: {Planning, Coding},
	Complete: {Planning, Coding},
	Failed:   nil,
}

// statusTable is the fixed phase to status projection. Idle has no status.
var statusTable = map[ExecutionPhase]task.Status{
	Idle:     "",
	Planning: task.StatusInProgress,
	Coding:   task.StatusInProgress,
	QAReview: task.StatusAIReview,
	QAFixing: task.StatusAIReview,
	Complete: task.StatusHumanReview,
	Failed:   task.StatusHumanReview,
}

func init() {
	for _, p := range All() {
		if _, ok := ranks[p]; !ok {
			panic(fmt.Sprintf("phase: %q missing from rank table", p))
		}
		if _, ok := prerequisites[p]; !ok {
			panic(fmt.Sprintf("phase: %q missing from prerequisite table", p))
		}
		s, ok := statusTable[p]
		if !ok {
			panic(fmt.Sprintf("phase: %q missing from status table", p))
		}
		if s != "" && !s.IsValid() {
			panic(fmt.Sprintf("phase: %q maps to unknown status %q", p, s))
		}
	}
}

// Rank returns the position of p in the partial order, or -1 if unknown.
func Rank(p ExecutionPhase) int {
	r, ok := ranks[p]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal reports whether no transition may leave p.
func IsTerminal(p ExecutionPhase) bool {
	return p == Complete || p == Failed
}

// IsActive reports whether p implies a running agent process.
func IsActive(p ExecutionPhase) bool {
	return p == Planning || p == Coding || p == QAReview || p == QAFixing
}

// WouldRegress reports whether moving from current to next goes backwards.
func WouldRegress(current, next ExecutionPhase) bool {
	return Rank(next) < Rank(current)
}

// Prerequisites returns the phases that must be completed before p.
func Prerequisites(p ExecutionPhase) []ExecutionPhase {
	pre := prerequisites[p]
	out := make([]ExecutionPhase, len(pre))
	copy(out, pre)
	return out
}

// StatusFor returns the task status a phase projects to. Idle and unknown
// phases report false.
func StatusFor(p ExecutionPhase) (task.Status, bool) {
	s, ok := statusTable[p]
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
