package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/pablasso/autobuild/internal/config"
	"github.com/pablasso/autobuild/internal/plan"
	"github.com/pablasso/autobuild/internal/project"
	"github.com/pablasso/autobuild/internal/task"
	"github.com/pablasso/autobuild/internal/worktree"
)

var (
	primaryColor   = lipgloss.Color("#5FAFAF") // Teal accent
	secondaryColor = lipgloss.Color("#666666") // Gray for secondary text
	successColor   = lipgloss.Color("#87AF87") // Muted sage for success
	warningColor   = lipgloss.Color("#D7AF5F") // Amber for attention
	errorColor     = lipgloss.Color("#AF5F5F") // Muted terracotta for errors

	// TitleStyle for headers
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)

	// SubtleStyle for hints and secondary columns
	SubtleStyle = lipgloss.NewStyle().Foreground(secondaryColor)

	// SuccessStyle for success messages
	SuccessStyle = lipgloss.NewStyle().Foreground(successColor)

	// WarningStyle for messages that need the user's attention
	WarningStyle = lipgloss.NewStyle().Foreground(warningColor)

	// ErrorStyle for error messages
	ErrorStyle = lipgloss.NewStyle().Foreground(errorColor)

	// BoxStyle frames a detail view
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(secondaryColor).
			Padding(0, 1)
)

var statusStyles = map[task.Status]lipgloss.Style{
	task.StatusBacklog:     SubtleStyle,
	task.StatusInProgress:  lipgloss.NewStyle().Foreground(primaryColor),
	task.StatusAIReview:    lipgloss.NewStyle().Foreground(primaryColor),
	task.StatusHumanReview: WarningStyle,
	task.StatusDone:        SuccessStyle,
	task.StatusPRCreated:   SuccessStyle,
	task.StatusError:       ErrorStyle,
}

// StatusStyle returns the style a status is rendered with.
func StatusStyle(s task.Status) lipgloss.Style {
	if style, ok := statusStyles[s]; ok {
		return style
	}
	return lipgloss.NewStyle()
}

// cell pads s to width so columns line up.
func cell(s string, width int) string {
	return lipgloss.NewStyle().Width(width).Render(truncate(s, width-1))
}

// Board renders tasks grouped by status in board order. Empty columns are
// skipped.
func Board(tasks []task.Task) string {
	if len(tasks) == 0 {
		return SubtleStyle.Render("No tasks.")
	}

	grouped := make(map[task.Status][]task.Task)
	for _, t := range tasks {
		grouped[t.Status] = append(grouped[t.Status], t)
	}

	var b strings.Builder
	for _, status := range task.ValidStatuses() {
		column := grouped[status]
		if len(column) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		header := fmt.Sprintf("%s (%d)", status, len(column))
		b.WriteString(StatusStyle(status).Bold(true).Render(header))
		b.WriteString("\n")
		for _, t := range column {
			b.WriteString("  ")
			b.WriteString(taskRow(t))
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func taskRow(t task.Task) string {
	var notes []string
	if t.ReviewReason != task.ReasonNone {
		notes = append(notes, string(t.ReviewReason))
	}
	if t.Location == task.LocationWorktree {
		notes = append(notes, "worktree")
	}
	if t.Archived {
		notes = append(notes, "archived")
	}
	if t.Diverged {
		notes = append(notes, "diverged")
	}

	row := cell(t.SpecID, 32) + cell(t.Title, 40) + cell(Progress(t.Subtasks), 8)
	if len(notes) > 0 {
		row += SubtleStyle.Render("[" + strings.Join(notes, ", ") + "]")
	}
	if t.Corrupted {
		row = ErrorStyle.Render(row)
	}
	return strings.TrimRight(row, " ")
}

// Progress renders completed/total subtasks, or "-" before planning.
func Progress(subtasks []task.Subtask) string {
	if len(subtasks) == 0 {
		return "-"
	}
	return fmt.Sprintf("%d/%d", Completed(subtasks), len(subtasks))
}

// Completed counts finished subtasks.
func Completed(subtasks []task.Subtask) int {
	done := 0
	for _, s := range subtasks {
		if s.Status == string(plan.SubtaskCompleted) {
			done++
		}
	}
	return done
}

// TaskDetail renders one task with its subtasks.
func TaskDetail(t task.Task) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render(t.Title))
	b.WriteString("\n")
	if t.Description != "" && !t.Corrupted {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	status := StatusStyle(t.Status).Render(string(t.Status))
	if t.ReviewReason != task.ReasonNone {
		status += SubtleStyle.Render(" (" + string(t.ReviewReason) + ")")
	}
	fields := [][2]string{
		{"Spec", t.SpecID},
		{"Status", status},
		{"Location", string(t.Location)},
		{"Path", t.SpecPath},
		{"Source", t.SourceType},
		{"Updated", formatTime(t.UpdatedAt)},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		b.WriteString(SubtleStyle.Render(cell(f[0], 10)))
		b.WriteString(f[1])
		b.WriteString("\n")
	}
	if t.Corrupted {
		b.WriteString(ErrorStyle.Render(t.Description))
		b.WriteString("\n")
	}
	if t.Diverged {
		b.WriteString(WarningStyle.Render("Plan copies disagree; showing the worktree copy."))
		b.WriteString("\n")
	}

	if len(t.Subtasks) > 0 {
		b.WriteString("\n")
		b.WriteString(TitleStyle.Render("Subtasks " + Progress(t.Subtasks)))
		b.WriteString("\n")
		for _, s := range t.Subtasks {
			fmt.Fprintf(&b, "  %s %s %s\n", subtaskMark(s.Status), cell(s.ID, 6), s.Description)
		}
	}
	return BoxStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func subtaskMark(status string) string {
	switch plan.SubtaskStatus(status) {
	case plan.SubtaskCompleted:
		return SuccessStyle.Render("✓")
	case plan.SubtaskInProgress:
		return WarningStyle.Render("●")
	case plan.SubtaskFailed:
		return ErrorStyle.Render("✗")
	default:
		return SubtleStyle.Render("○")
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

// Worktrees renders worktree records as a table.
func Worktrees(configs []worktree.Config) string {
	if len(configs) == 0 {
		return SubtleStyle.Render("No worktrees.")
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(cell("NAME", 28) + cell("KIND", 10) + cell("BRANCH", 36) + "BASE"))
	b.WriteString("\n")
	for _, c := range configs {
		branch := c.BranchName
		if branch == "" {
			branch = SubtleStyle.Render("(detached)")
		}
		b.WriteString(cell(c.Name, 28) + cell(string(c.Kind), 10) + cell(branch, 36) + c.BaseBranch)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Projects renders the project registry.
func Projects(projects []project.Project) string {
	if len(projects) == 0 {
		return SubtleStyle.Render("No projects registered. Run 'autobuild init' in a repository.")
	}
	var b strings.Builder
	b.WriteString(TitleStyle.Render(cell("ID", 38) + cell("NAME", 20) + "PATH"))
	b.WriteString("\n")
	for _, p := range projects {
		line := cell(p.ID, 38) + cell(p.Name, 20) + p.Path
		if p.Settings.MainBranch != "" {
			line += SubtleStyle.Render(" (" + p.Settings.MainBranch + ")")
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Config renders resolved configuration values with their sources.
func Config(values []config.Resolved) string {
	var b strings.Builder
	for _, v := range values {
		value := v.Value
		if value == "" {
			value = SubtleStyle.Render("(unset)")
		}
		b.WriteString(cell(v.Key, 24) + cell(value, 40) + SubtleStyle.Render(string(v.Source)))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Events renders the last limit entries of an event log, oldest first.
func Events(events []plan.Event, limit int) string {
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	var b strings.Builder
	for _, e := range events {
		b.WriteString(SubtleStyle.Render(cell(formatTime(e.Timestamp), 18)))
		b.WriteString(cell(e.Event, 22))
		b.WriteString(eventSummary(e))
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func eventSummary(e plan.Event) string {
	str := func(key string) string {
		v, _ := e.Data[key].(string)
		return v
	}
	switch e.Event {
	case plan.EventStatusChanged, plan.EventPhaseChanged, plan.EventTaskRecovered:
		from, to := str("from"), str("to")
		if e.Event == plan.EventTaskRecovered {
			from, to = str("previous_status"), str("status")
		}
		return from + " → " + to
	case plan.EventTransitionRejected:
		return str("from") + " → " + str("to") + " (" + str("reason") + ")"
	case plan.EventWorktreeRemoved:
		return str("path")
	}
	return ""
}
