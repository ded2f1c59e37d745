// Package organisms assembles the visit screen sections.
package organisms

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/dohr-michael/taskgate/clients/tui/components"
	"github.com/dohr-michael/taskgate/clients/tui/molecules"
	"github.com/dohr-michael/taskgate/internal/events"
)

// TaskRow is the rendered state of one selected task.
type TaskRow struct {
	events.TaskSummary
	State     string
	Remaining int
	Paused    bool
	Eligible  bool
}

// TaskListStyles configures the row borders.
type TaskListStyles struct {
	Border       lipgloss.Style
	ActiveBorder lipgloss.Style
	Muted        lipgloss.Style
}

// TaskList renders the ordered task rows.
type TaskList struct {
	rows   []TaskRow
	index  map[string]int
	width  int
	styles TaskListStyles
}

func NewTaskList(styles TaskListStyles) TaskList {
	return TaskList{index: map[string]int{}, styles: styles, width: 80}
}

// SetTasks replaces the rows with a fresh selection; all start locked.
func (l *TaskList) SetTasks(tasks []events.TaskSummary) {
	l.rows = make([]TaskRow, len(tasks))
	l.index = make(map[string]int, len(tasks))
	for i, t := range tasks {
		l.rows[i] = TaskRow{TaskSummary: t, State: "locked", Remaining: t.DurationSeconds}
		l.index[t.ID] = i
	}
}

func (l *TaskList) row(id string) *TaskRow {
	i, ok := l.index[id]
	if !ok {
		return nil
	}
	return &l.rows[i]
}

func (l *TaskList) SetEligible(id string) {
	if r := l.row(id); r != nil {
		r.Eligible = true
	}
}

func (l *TaskList) SetState(id, state string, remaining int) {
	if r := l.row(id); r != nil {
		r.State = state
		r.Remaining = remaining
		r.Paused = state == "paused"
		if state != "locked" {
			r.Eligible = false
		}
	}
}

func (l *TaskList) SetTick(id string, remaining int, paused bool) {
	if r := l.row(id); r != nil {
		r.Remaining = remaining
		r.Paused = paused
	}
}

// Eligible returns the task that may be started now.
func (l *TaskList) Eligible() (string, bool) {
	for _, r := range l.rows {
		if r.Eligible && r.State == "locked" {
			return r.ID, true
		}
	}
	return "", false
}

func (l *TaskList) Rows() []TaskRow { return l.rows }

func (l *TaskList) SetWidth(w int) { l.width = w }

// View renders every row; spinnerView animates the running one.
func (l TaskList) View(spinnerView string) string {
	if len(l.rows) == 0 {
		return l.styles.Muted.Render("Selecting tasks...")
	}

	inner := l.width - 4
	if inner < 20 {
		inner = 20
	}

	blocks := make([]string, 0, len(l.rows))
	for _, r := range l.rows {
		var b strings.Builder
		b.WriteString(molecules.TaskHeader(r.Step, r.Title, r.State, r.Eligible, spinnerView))
		if desc := components.RenderMarkdown(r.Description, inner); desc != "" {
			b.WriteString("\n")
			b.WriteString(desc)
		}
		switch {
		case r.State == "active" || r.State == "paused":
			b.WriteString("\n")
			b.WriteString(molecules.Countdown(r.Remaining, r.Paused))
		case r.Eligible:
			b.WriteString("\n")
			b.WriteString(l.styles.Muted.Render("enter: " + r.ActionLabel))
		}

		style := l.styles.Border
		if r.State == "active" || r.State == "paused" || r.Eligible {
			style = l.styles.ActiveBorder
		}
		blocks = append(blocks, style.Width(inner).Render(b.String()))
	}
	return lipgloss.JoinVertical(lipgloss.Left, blocks...)
}
