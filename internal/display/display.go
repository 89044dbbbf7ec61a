// Package display renders terminal output: a live status line for a running
// task and lipgloss-styled tables for tasks, worktrees and configuration.
package display

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/task"
)

const (
	refreshInterval = time.Second
	maxTitle        = 40
	clearSeq        = "\r\033[K"
)

// State is what the status line shows for the followed task.
type State struct {
	SpecID    string
	Title     string
	Phase     phase.ExecutionPhase
	Completed int
	Total     int
	Status    task.Status
	StartTime time.Time
}

// Display draws one status line for a task whose agent runs in the
// foreground. Messages printed with PrintAbove scroll above it.
type Display struct {
	mu      sync.Mutex
	w       io.Writer
	now     func() time.Time
	state   State
	drawn   string
	running bool
	stop    chan struct{}
	exited  chan struct{}
}

// New creates a Display writing to w.
func New(w io.Writer) *Display {
	return &Display{w: w, now: time.Now}
}

// Start begins redrawing the line every second. Calling it twice is a no-op.
func (d *Display) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.running = true
	d.state.StartTime = d.now()
	d.stop = make(chan struct{})
	d.exited = make(chan struct{})
	go d.loop(d.stop, d.exited)
}

// Stop ends the redraw loop and erases the line. It returns after the loop
// goroutine has exited.
func (d *Display) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, exited := d.stop, d.exited
	d.mu.Unlock()

	close(stop)
	<-exited

	d.mu.Lock()
	d.clear()
	d.mu.Unlock()
}

func (d *Display) loop(stop <-chan struct{}, exited chan<- struct{}) {
	defer close(exited)
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	d.redraw()
	for {
		select {
		case <-ticker.C:
			d.redraw()
		case <-stop:
			return
		}
	}
}

func (d *Display) update(fn func(*State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(&d.state)
}

// UpdateTask sets the task being followed.
func (d *Display) UpdateTask(specID, title string) {
	d.update(func(s *State) { s.SpecID, s.Title = specID, title })
}

// UpdatePhase records the agent's current phase.
func (d *Display) UpdatePhase(p phase.ExecutionPhase) {
	d.update(func(s *State) { s.Phase = p })
}

// UpdateProgress records subtask progress.
func (d *Display) UpdateProgress(completed, total int) {
	d.update(func(s *State) { s.Completed, s.Total = completed, total })
}

// UpdateStatus records the task status.
func (d *Display) UpdateStatus(status task.Status) {
	d.update(func(s *State) { s.Status = status })
}

// PrintAbove prints a message and redraws the status line below it.
func (d *Display) PrintAbove(format string, args ...any) {
	d.mu.Lock()
	d.clear()
	fmt.Fprintf(d.w, format+"\n", args...)
	d.mu.Unlock()
	d.redraw()
}

// redraw rewrites the line only when its text changed, to avoid flicker.
func (d *Display) redraw() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var elapsed time.Duration
	if !d.state.StartTime.IsZero() {
		elapsed = d.now().Sub(d.state.StartTime)
	}
	line := formatLine(d.state, elapsed)
	if line == d.drawn {
		return
	}
	d.drawn = line
	fmt.Fprint(d.w, clearSeq+line)
}

// clear erases the line. Callers hold mu.
func (d *Display) clear() {
	fmt.Fprint(d.w, clearSeq)
	d.drawn = ""
}

func formatLine(s State, elapsed time.Duration) string {
	if s.SpecID == "" {
		return ""
	}
	current := s.Phase
	if current == "" {
		current = phase.Idle
	}
	status := s.Status
	if status == "" {
		status = task.StatusInProgress
	}
	return fmt.Sprintf("%s │ %s │ %s │ %d/%d subtasks │ %s │ %s",
		s.SpecID,
		truncate(s.Title, maxTitle),
		current,
		s.Completed, s.Total,
		formatDuration(elapsed),
		StatusStyle(status).Render(string(status)))
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// formatDuration renders mm:ss, or hh:mm:ss past the hour.
func formatDuration(d time.Duration) string {
	secs := int(d.Round(time.Second) / time.Second)
	if secs >= 3600 {
		return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
