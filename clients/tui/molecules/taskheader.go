// Package molecules combines atoms into task-level pieces.
package molecules

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/dohr-michael/taskgate/clients/tui/atoms"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	checkStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#065F46", Dark: "#7EE2B8"})
	pauseStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#F59E0B"})
	lockedStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#9CA3AF"})
	readyStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#0070F3", Dark: "#79C0FF"})
)

// TaskHeader renders the first line of a task row:
//
//	"✓ Step 1: title [completed]" | "⠋ Step 2: title [active]" | "▶ Step 3: title [ready]"
func TaskHeader(step int, title, state string, eligible bool, spinnerView string) string {
	label := titleStyle.Render(fmt.Sprintf("Step %d: %s", step, title))
	switch state {
	case "completed":
		return fmt.Sprintf("%s %s %s", checkStyle.Render("✓"), label, atoms.Badge(state, checkStyle))
	case "active":
		return fmt.Sprintf("%s %s %s", spinnerView, label, atoms.Badge(state, readyStyle))
	case "paused":
		return fmt.Sprintf("%s %s %s", pauseStyle.Render("‖"), label, atoms.Badge(state, pauseStyle))
	default:
		if eligible {
			return fmt.Sprintf("%s %s %s", readyStyle.Render("▶"), label, atoms.Badge("ready", readyStyle))
		}
		return fmt.Sprintf("%s %s %s", lockedStyle.Render("•"), lockedStyle.Render(fmt.Sprintf("Step %d: %s", step, title)), atoms.Badge("locked", lockedStyle))
	}
}

// Countdown renders the timer line under a running task.
func Countdown(remaining int, paused bool) string {
	if paused {
		return pauseStyle.Render("Paused - focus this window to continue")
	}
	return readyStyle.Render(fmt.Sprintf("%ds remaining", remaining))
}
