package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConfirmType indicates what action is being confirmed
type ConfirmType int

const (
	// ConfirmQuitRunning asks before leaving while a command still runs.
	ConfirmQuitRunning ConfirmType = iota
	// ConfirmQuitRecovering asks before leaving while an interrupt is pending.
	ConfirmQuitRecovering
)

// ConfirmDialog is a y/n prompt for actions that lose work.
type ConfirmDialog struct {
	visible     bool
	confirmType ConfirmType
	target      string // command line, for display
	width       int
	height      int

	// answer is set once the user decides; read it with Result.
	answered bool
	accepted bool
}

func NewConfirmDialog() *ConfirmDialog {
	return &ConfirmDialog{}
}

// ShowQuitRunning asks whether to quit while command is running.
func (c *ConfirmDialog) ShowQuitRunning(command string) {
	c.show(ConfirmQuitRunning, command)
}

// ShowQuitRecovering asks whether to quit while an interrupted command
// has not yet returned control to the shell.
func (c *ConfirmDialog) ShowQuitRecovering(command string) {
	c.show(ConfirmQuitRecovering, command)
}

func (c *ConfirmDialog) show(t ConfirmType, target string) {
	c.visible = true
	c.confirmType = t
	c.target = target
	c.answered = false
	c.accepted = false
}

// Hide hides the dialog without answering.
func (c *ConfirmDialog) Hide() {
	c.visible = false
	c.target = ""
}

func (c *ConfirmDialog) IsVisible() bool {
	return c.visible
}

func (c *ConfirmDialog) Type() ConfirmType {
	return c.confirmType
}

// Result reports the answer to the last prompt exactly once.
func (c *ConfirmDialog) Result() (accepted, ok bool) {
	if !c.answered {
		return false, false
	}
	c.answered = false
	return c.accepted, true
}

// SetSize updates dialog dimensions
func (c *ConfirmDialog) SetSize(width, height int) {
	c.width = width
	c.height = height
}

// Update handles y/n/enter/esc. Other keys are ignored.
func (c *ConfirmDialog) Update(msg tea.KeyMsg) (*ConfirmDialog, tea.Cmd) {
	if !c.visible {
		return c, nil
	}
	switch msg.String() {
	case "y", "Y", "enter":
		c.answered, c.accepted = true, true
		c.Hide()
	case "n", "N", "esc", "ctrl+c":
		c.answered, c.accepted = true, false
		c.Hide()
	}
	return c, nil
}

// View renders the confirmation dialog
func (c *ConfirmDialog) View() string {
	if !c.visible {
		return ""
	}
	themeMu.RLock()
	defer themeMu.RUnlock()

	var title, warning, details, yes string
	switch c.confirmType {
	case ConfirmQuitRunning:
		title = "⚠  Command still running"
		warning = fmt.Sprintf("Quitting will kill:\n\n  %s", c.target)
		details = "• The shell and its children are terminated\n• Output not yet shown is lost"
		yes = "y Quit"
	case ConfirmQuitRecovering:
		title = "⚠  Interrupt pending"
		warning = fmt.Sprintf("The shell has not recovered from:\n\n  %s", c.target)
		details = "• Quitting terminates the shell now\n• The block keeps its partial output"
		yes = "y Quit"
	}

	button := func(label string, bg lipgloss.Color) string {
		return lipgloss.NewStyle().
			Foreground(colors.Bg).
			Background(bg).
			Padding(0, 2).
			Bold(true).
			Render(label)
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Center,
		button(yes, colors.Red), "  ",
		button("n Cancel", colors.Accent), "  ",
		lipgloss.NewStyle().Foreground(colors.TextDim).Render("(Esc to cancel)"))

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Bold(true).Foreground(colors.Red).MarginBottom(1).Render(title),
		lipgloss.NewStyle().Foreground(colors.Yellow).MarginBottom(1).Render(warning),
		lipgloss.NewStyle().Foreground(colors.TextDim).MarginBottom(1).Render(details),
		"",
		buttons,
	)

	dialogWidth := 50
	if c.width > 0 && c.width < dialogWidth+10 {
		dialogWidth = max(20, c.width-10)
	}
	dialogBox := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colors.Red).
		Padding(1, 2).
		Width(dialogWidth).
		Render(content)

	if c.width <= 0 || c.height <= 0 {
		return dialogBox
	}
	padLeft := max(0, (c.width-lipgloss.Width(dialogBox))/2)
	padTop := max(0, (c.height-lipgloss.Height(dialogBox))/2)

	var b strings.Builder
	b.WriteString(strings.Repeat("\n", padTop))
	for _, line := range strings.Split(dialogBox, "\n") {
		b.WriteString(strings.Repeat(" ", padLeft))
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}
