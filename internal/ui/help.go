package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// HelpOverlay shows keyboard shortcuts in a modal
type HelpOverlay struct {
	visible bool
	width   int
	height  int
}

// NewHelpOverlay creates a new help overlay
func NewHelpOverlay() *HelpOverlay {
	return &HelpOverlay{}
}

// Show makes the help overlay visible
func (h *HelpOverlay) Show() { h.visible = true }

// Hide hides the help overlay
func (h *HelpOverlay) Hide() { h.visible = false }

// IsVisible returns whether the help overlay is visible
func (h *HelpOverlay) IsVisible() bool { return h.visible }

// SetSize sets the dimensions for centering
func (h *HelpOverlay) SetSize(width, height int) {
	h.width = width
	h.height = height
}

// Update closes the overlay on any key.
func (h *HelpOverlay) Update(msg tea.Msg) (*HelpOverlay, tea.Cmd) {
	if _, ok := msg.(tea.KeyMsg); ok && h.visible {
		h.Hide()
	}
	return h, nil
}

var helpSections = []struct {
	title string
	items [][2]string // [key, description]
}{
	{
		title: "COMMANDS",
		items: [][2]string{
			{"Enter", "Run the command"},
			{"Ctrl+C", "Interrupt the running command"},
			{"Up / Down", "Previous / next command"},
			{"Ctrl+R", "Search history"},
		},
	},
	{
		title: "VIEW",
		items: [][2]string{
			{"PgUp / PgDn", "Scroll blocks"},
			{"Shift+Up/Down", "Scroll one line"},
			{"Ctrl+L", "Clear the screen"},
			{"Ctrl+Y", "Copy the last output"},
		},
	},
	{
		title: "OTHER",
		items: [][2]string{
			{"Ctrl+D", "Quit (empty input)"},
			{"F1", "This help"},
		},
	},
}

// View renders the help overlay
func (h *HelpOverlay) View() string {
	if !h.visible {
		return ""
	}
	themeMu.RLock()
	defer themeMu.RUnlock()

	dialogWidth := 44
	if h.width > 0 && h.width < dialogWidth+4 {
		dialogWidth = max(24, h.width-4)
	}
	keyStyle := lipgloss.NewStyle().Foreground(colors.Purple).Width(16)
	descStyle := lipgloss.NewStyle().Foreground(colors.Text)
	sectionStyle := lipgloss.NewStyle().Foreground(colors.Cyan).Bold(true)

	var b strings.Builder
	b.WriteString(lipgloss.NewStyle().Bold(true).Foreground(colors.Accent).Render("MosaicTerm"))
	for _, s := range helpSections {
		b.WriteString("\n\n")
		b.WriteString(sectionStyle.Render(s.title))
		for _, it := range s.items {
			b.WriteString("\n")
			b.WriteString(keyStyle.Render(it[0]) + descStyle.Render(it[1]))
		}
	}
	b.WriteString("\n\n")
	b.WriteString(DimStyle.Render("press any key to close"))

	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colors.Border).
		Padding(1, 2).
		Width(dialogWidth).
		Render(b.String())
}
