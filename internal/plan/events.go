package plan

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// EventLogFileName is the per-spec append-only event log.
const EventLogFileName = "events.jsonl"

// Event types written to a spec's event log.
const (
	EventTaskCreated        = "task_created"
	EventStatusChanged      = "status_changed"
	EventPhaseChanged       = "phase_changed"
	EventTransitionRejected = "transition_rejected"
	EventTaskStarted        = "task_started"
	EventTaskStopped        = "task_stopped"
	EventTaskRecovered      = "task_recovered"
	EventWorktreeRemoved    = "worktree_removed"
)

// Event is one line of the event log.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventLog appends lifecycle events to a JSON Lines file in the spec directory.
type EventLog struct {
	path string
	now  func() time.Time
}

// NewEventLog returns the event log for the given spec directory.
func NewEventLog(specDir string) *EventLog {
	return &EventLog{
		path: filepath.Join(specDir, EventLogFileName),
		now:  time.Now,
	}
}

// Log appends an event.
func (l *EventLog) Log(event string, data map[string]any) error {
	entry := Event{
		Timestamp: l.now(),
		Event:     event,
		Data:      data,
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	line = append(line, '\n')

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(line)
	return err
}

// StatusChanged logs a status change.
func (l *EventLog) StatusChanged(from, to, reason string) error {
	return l.Log(EventStatusChanged, map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
	})
}

// PhaseChanged logs an accepted phase event.
func (l *EventLog) PhaseChanged(from, to, message string) error {
	return l.Log(EventPhaseChanged, map[string]any{
		"from":    from,
		"to":      to,
		"message": message,
	})
}

// TransitionRejected logs a phase event that was dropped.
func (l *EventLog) TransitionRejected(from, to, reason, detail string) error {
	return l.Log(EventTransitionRejected, map[string]any{
		"from":   from,
		"to":     to,
		"reason": reason,
		"detail": detail,
	})
}

// TaskRecovered logs a recovery.
func (l *EventLog) TaskRecovered(previous, status string, reset []string) error {
	return l.Log(EventTaskRecovered, map[string]any{
		"previous_status": previous,
		"status":          status,
		"reset_subtasks":  reset,
	})
}

// ReadEvents returns every parseable event in the log, oldest first.
// Malformed lines are skipped. A missing log yields no events.
func ReadEvents(specDir string) ([]Event, error) {
	f, err := os.Open(filepath.Join(specDir, EventLogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var e Event
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			continue
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, nil
}
