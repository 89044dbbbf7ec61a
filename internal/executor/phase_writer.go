package executor

import (
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/pablasso/autobuild/internal/phase"
)

// PhaseMarker prefixes the lines the agent prints to report a phase change.
const PhaseMarker = "__EXEC_PHASE__:"

// PhaseEvent is the JSON payload of a phase marker line.
type PhaseEvent struct {
	Phase   string `json:"phase"`
	Message string `json:"message,omitempty"`
}

// phaseWriter copies agent output to the log and reports phase markers.
// Partial lines are buffered until their newline arrives.
type phaseWriter struct {
	underlying io.Writer
	onPhase    func(p phase.ExecutionPhase, message string)

	mu      sync.Mutex
	lineBuf strings.Builder
}

func (w *phaseWriter) Write(p []byte) (int, error) {
	n, err := w.underlying.Write(p)

	w.mu.Lock()
	defer w.mu.Unlock()

	w.lineBuf.Write(p)
	content := w.lineBuf.String()
	for {
		idx := strings.IndexByte(content, '\n')
		if idx == -1 {
			break
		}
		w.handleLine(content[:idx])
		content = content[idx+1:]
	}
	w.lineBuf.Reset()
	w.lineBuf.WriteString(content)
	return n, err
}

// Flush handles a trailing line without a newline.
func (w *phaseWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lineBuf.Len() > 0 {
		w.handleLine(w.lineBuf.String())
		w.lineBuf.Reset()
	}
}

func (w *phaseWriter) handleLine(line string) {
	ev, ok := ParsePhaseLine(line)
	if !ok || w.onPhase == nil {
		return
	}
	// Unknown phases are agent noise, not transitions.
	if p, known := phase.Parse(ev.Phase); known {
		w.onPhase(p, ev.Message)
	}
}

// ParsePhaseLine extracts a phase marker from one line of agent output.
// The marker may appear after other text on the line.
func ParsePhaseLine(line string) (PhaseEvent, bool) {
	idx := strings.Index(line, PhaseMarker)
	if idx == -1 {
		return PhaseEvent{}, false
	}
	payload := strings.TrimSpace(line[idx+len(PhaseMarker):])
	var ev PhaseEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Phase == "" {
		return PhaseEvent{}, false
	}
	return ev, true
}
