package atoms

import "github.com/charmbracelet/lipgloss"

// Badge renders a short bracketed state label, e.g. "[active]".
func Badge(text string, style lipgloss.Style) string {
	return style.Render("[" + text + "]")
}
