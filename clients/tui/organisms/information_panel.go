package organisms

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// InformationPanel displays the status bar with visit, focus, progress and tamper state.
type InformationPanel struct {
	visitID    string
	focused    bool
	completed  int
	total      int
	violations int
	status     string
	width      int
	style      lipgloss.Style
}

// NewInformationPanel creates a new status bar panel.
func NewInformationPanel(style lipgloss.Style) InformationPanel {
	return InformationPanel{
		style:   style,
		focused: true,
	}
}

// Setters

func (p *InformationPanel) SetVisit(id string)          { p.visitID = id }
func (p *InformationPanel) SetFocused(focused bool)     { p.focused = focused }
func (p *InformationPanel) SetProgress(done, total int) { p.completed, p.total = done, total }
func (p *InformationPanel) SetViolations(n int)         { p.violations = n }
func (p *InformationPanel) SetStatus(s string)          { p.status = s }
func (p *InformationPanel) SetWidth(w int)              { p.width = w }

// Getters

func (p *InformationPanel) VisitID() string { return p.visitID }
func (p *InformationPanel) Focused() bool   { return p.focused }
func (p *InformationPanel) Violations() int { return p.violations }

// View renders the status bar.
func (p InformationPanel) View() string {
	focus := "focused"
	if !p.focused {
		focus = "unfocused"
	}

	violationStr := ""
	if p.violations > 0 {
		violationStr = fmt.Sprintf(" | violations:%d", p.violations)
	}

	statusStr := ""
	if p.status != "" {
		statusStr = " | " + p.status
	}

	bar := fmt.Sprintf(" %s | %d/%d | %s%s%s ", p.visitID, p.completed, p.total, focus, violationStr, statusStr)
	return p.style.Width(p.width).Render(bar)
}
