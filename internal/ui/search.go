package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/mosaicterm/mosaicterm/internal/history"
)

const maxSearchResults = 10

// Search is the reverse history search overlay (ctrl+r).
type Search struct {
	input    textinput.Model
	entries  []history.Entry
	results  []history.Match
	cursor   int
	width    int
	visible  bool
	accepted string
}

// NewSearch creates a hidden search overlay.
func NewSearch() *Search {
	ti := textinput.New()
	ti.Placeholder = "Search history..."
	ti.Prompt = "(reverse-i-search) "
	ti.CharLimit = 200
	ti.Width = 50
	return &Search{input: ti}
}

// SetEntries sets the commands to search, newest first.
func (s *Search) SetEntries(entries []history.Entry) {
	s.entries = history.Unique(entries)
	s.updateResults()
}

// SetWidth sets the overlay width.
func (s *Search) SetWidth(width int) {
	s.width = width
	if width > 24 {
		s.input.Width = width - 24
	}
}

// Show opens the overlay with an empty query.
func (s *Search) Show() {
	s.visible = true
	s.accepted = ""
	s.input.SetValue("")
	s.input.Focus()
	s.updateResults()
}

// Hide closes the overlay.
func (s *Search) Hide() {
	s.visible = false
	s.input.Blur()
}

// IsVisible returns whether the overlay is open.
func (s *Search) IsVisible() bool {
	return s.visible
}

// Accepted returns the command chosen with enter, once.
func (s *Search) Accepted() (string, bool) {
	if s.accepted == "" {
		return "", false
	}
	cmd := s.accepted
	s.accepted = ""
	return cmd, true
}

// Selected returns the highlighted match.
func (s *Search) Selected() (history.Match, bool) {
	if len(s.results) == 0 {
		return history.Match{}, false
	}
	if s.cursor >= len(s.results) {
		s.cursor = len(s.results) - 1
	}
	return s.results[s.cursor], true
}

// Update handles messages while the overlay is open.
func (s *Search) Update(msg tea.Msg) (*Search, tea.Cmd) {
	if !s.visible {
		return s, nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc", "ctrl+g":
			s.Hide()
			return s, nil

		case "enter", "tab":
			if m, ok := s.Selected(); ok {
				s.accepted = m.Command
			}
			s.Hide()
			return s, nil

		case "up", "ctrl+p":
			if s.cursor > 0 {
				s.cursor--
			}
			return s, nil

		case "down", "ctrl+n", "ctrl+r":
			if s.cursor < len(s.results)-1 {
				s.cursor++
			}
			return s, nil
		}
	}

	var cmd tea.Cmd
	prev := s.input.Value()
	s.input, cmd = s.input.Update(msg)
	if s.input.Value() != prev {
		s.updateResults()
	}
	return s, cmd
}

func (s *Search) updateResults() {
	s.results = history.Filter(s.entries, strings.TrimSpace(s.input.Value()), maxSearchResults)
	s.cursor = 0
}

// View renders the overlay.
func (s *Search) View() string {
	if !s.visible {
		return ""
	}
	themeMu.RLock()
	defer themeMu.RUnlock()

	inner := s.width - 4
	if inner < 20 {
		inner = 20
	}

	var b strings.Builder
	b.WriteString(s.input.View())
	if len(s.results) == 0 {
		b.WriteString("\n")
		b.WriteString(DimStyle.Render("no matches"))
	}
	for i, m := range s.results {
		b.WriteString("\n")
		line := highlight(runewidth.Truncate(m.Command, inner-2, "…"), m.MatchedIndexes)
		if i == s.cursor {
			b.WriteString(SearchSelStyle.Render(runewidth.Truncate(m.Command, inner-2, "…")))
			continue
		}
		b.WriteString(SearchItemStyle.Render(line))
	}
	return SearchBoxStyle.Width(inner).Render(b.String())
}

// highlight styles the bytes at idx, which must be rune starts.
func highlight(s string, idx []int) string {
	if len(idx) == 0 {
		return s
	}
	marked := make(map[int]bool, len(idx))
	for _, i := range idx {
		marked[i] = true
	}
	var b strings.Builder
	for i, r := range s {
		if marked[i] {
			b.WriteString(SearchMatchStyle.Render(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
