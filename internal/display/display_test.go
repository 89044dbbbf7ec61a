package display

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pablasso/autobuild/internal/phase"
	"github.com/pablasso/autobuild/internal/task"
)

// syncBuffer lets the redraw goroutine and the test share a buffer.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		want     string
	}{
		{0, "00:00"},
		{45 * time.Second, "00:45"},
		{5*time.Minute + 30*time.Second, "05:30"},
		{59*time.Minute + 59*time.Second, "59:59"},
		{time.Hour, "01:00:00"},
		{12*time.Hour + 5*time.Minute + 3*time.Second, "12:05:03"},
		{5*time.Minute + 30*time.Second + 500*time.Millisecond, "05:31"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.duration); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
		}
	}
}

func TestFormatLine(t *testing.T) {
	tests := []struct {
		name    string
		state   State
		elapsed time.Duration
		want    string
	}{
		{
			name: "coding with progress",
			state: State{
				SpecID:    "001-login",
				Title:     "Implement login",
				Phase:     phase.Coding,
				Completed: 1,
				Total:     5,
				Status:    task.StatusInProgress,
			},
			elapsed: 90 * time.Second,
			want:    "001-login │ Implement login │ coding │ 1/5 subtasks │ 01:30 │ in_progress",
		},
		{
			name:  "nothing followed yet",
			state: State{},
			want:  "",
		},
		{
			name:    "defaults before the first phase",
			state:   State{SpecID: "002-x", Title: "X"},
			elapsed: 5 * time.Second,
			want:    "002-x │ X │ idle │ 0/0 subtasks │ 00:05 │ in_progress",
		},
		{
			name: "qa review past the hour",
			state: State{
				SpecID:    "003-tests",
				Title:     "Write tests",
				Phase:     phase.QAReview,
				Completed: 8,
				Total:     8,
				Status:    task.StatusAIReview,
			},
			elapsed: time.Hour + 15*time.Minute + 30*time.Second,
			want:    "003-tests │ Write tests │ qa_review │ 8/8 subtasks │ 01:15:30 │ ai_review",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatLine(tt.state, tt.elapsed); got != tt.want {
				t.Errorf("formatLine() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFormatLine_TruncatesTitle(t *testing.T) {
	long := strings.Repeat("a", maxTitle+1)
	line := formatLine(State{SpecID: "001-a", Title: long}, 0)
	want := "001-a │ " + strings.Repeat("a", maxTitle-3) + "... │"
	if !strings.HasPrefix(line, want) {
		t.Errorf("got %q, want prefix %q", line, want)
	}

	exact := strings.Repeat("b", maxTitle)
	if line := formatLine(State{SpecID: "001-a", Title: exact}, 0); !strings.Contains(line, exact+" │") {
		t.Errorf("title of exactly %d runes should be kept: %q", maxTitle, line)
	}
}

func TestUpdates(t *testing.T) {
	d := New(&bytes.Buffer{})
	d.UpdateTask("001-auth", "Implement user auth")
	d.UpdatePhase(phase.Planning)
	d.UpdateProgress(2, 6)
	d.UpdateStatus(task.StatusAIReview)

	want := State{
		SpecID:    "001-auth",
		Title:     "Implement user auth",
		Phase:     phase.Planning,
		Completed: 2,
		Total:     6,
		Status:    task.StatusAIReview,
	}
	if d.state != want {
		t.Errorf("state = %+v, want %+v", d.state, want)
	}
}

func TestRedraw_SkipsUnchangedLine(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.UpdateTask("001-a", "A")
	d.redraw()
	d.redraw()
	if n := strings.Count(buf.String(), "001-a │ A"); n != 1 {
		t.Errorf("line drawn %d times, want 1", n)
	}

	d.UpdatePhase(phase.Coding)
	d.redraw()
	if !strings.Contains(buf.String(), "│ coding │") {
		t.Errorf("phase change not drawn: %q", buf.String())
	}
}

func TestPrintAbove(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf)
	d.UpdateTask("001-a", "A")
	d.redraw()
	d.PrintAbove("phase %s", "coding")

	out := buf.String()
	if !strings.Contains(out, "phase coding\n") {
		t.Errorf("message missing from %q", out)
	}
	if strings.Count(out, "001-a │ A") != 2 {
		t.Errorf("status line should be redrawn below the message: %q", out)
	}
}

func TestStartStop(t *testing.T) {
	buf := &syncBuffer{}
	d := New(buf)
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return start }
	d.UpdateTask("001-a", "A")

	d.Stop() // before Start

	d.Start()
	d.Start()
	if d.state.StartTime != start {
		t.Errorf("StartTime = %v, want %v", d.state.StartTime, start)
	}
	d.Stop()
	d.Stop()

	d.mu.Lock()
	running := d.running
	d.mu.Unlock()
	if running {
		t.Error("should not be running after Stop()")
	}
	if !strings.Contains(buf.String(), "001-a │ A │ idle │ 0/0 subtasks │ 00:00") {
		t.Errorf("first frame not drawn: %q", buf.String())
	}
	if !strings.HasSuffix(buf.String(), clearSeq) {
		t.Errorf("Stop should erase the line: %q", buf.String())
	}

	// A stopped display can be started again.
	d.Start()
	d.Stop()
}
