package ui

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/mosaicterm/mosaicterm/internal/block"
	"github.com/mosaicterm/mosaicterm/internal/vt"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark  Theme = "dark"
	ThemeLight Theme = "light"
)

// currentTheme holds the active theme (set at init)
var currentTheme Theme = ThemeDark

type palette struct {
	Bg, Surface, Border, Text, TextDim  lipgloss.Color
	Accent, Purple, Cyan, Green, Yellow lipgloss.Color
	Orange, Red                         lipgloss.Color
}

// Dark Theme - Tokyo Night
var darkColors = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Purple:  lipgloss.Color("#bb9af7"),
	Cyan:    lipgloss.Color("#7dcfff"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Orange:  lipgloss.Color("#ff9e64"),
	Red:     lipgloss.Color("#f7768e"),
}

// Light Theme - Tokyo Night Light variant
var lightColors = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Purple:  lipgloss.Color("#7847bd"),
	Cyan:    lipgloss.Color("#166775"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Orange:  lipgloss.Color("#965027"),
	Red:     lipgloss.Color("#8c4351"),
}

// Active color variables (set by InitTheme)
var colors palette

// themeMu protects global color/style variables during live theme switches.
var themeMu sync.RWMutex

// InitTheme sets the active color palette based on theme name.
// Anything other than "light" selects the dark palette.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()
	if theme == string(ThemeLight) {
		currentTheme = ThemeLight
		colors = lightColors
	} else {
		currentTheme = ThemeDark
		colors = darkColors
	}
	initStyles()
}

// GetCurrentTheme returns the active theme
func GetCurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func init() {
	InitTheme("dark")
}

// Block header and chrome styles
var (
	HeaderStyle      lipgloss.Style
	CommandStyle     lipgloss.Style
	DirStyle         lipgloss.Style
	DimStyle         lipgloss.Style
	RunningStyle     lipgloss.Style
	SuccessStyle     lipgloss.Style
	ErrorStyle       lipgloss.Style
	TimedOutStyle    lipgloss.Style
	WarningStyle     lipgloss.Style
	TruncatedStyle   lipgloss.Style
	SeparatorStyle   lipgloss.Style
	PromptStyle      lipgloss.Style
	StatusBarStyle   lipgloss.Style
	MenuKeyStyle     lipgloss.Style
	MenuDescStyle    lipgloss.Style
	SearchBoxStyle   lipgloss.Style
	SearchItemStyle  lipgloss.Style
	SearchSelStyle   lipgloss.Style
	SearchMatchStyle lipgloss.Style
)

func initStyles() {
	HeaderStyle = lipgloss.NewStyle().Foreground(colors.Text)
	CommandStyle = lipgloss.NewStyle().Foreground(colors.Accent).Bold(true)
	DirStyle = lipgloss.NewStyle().Foreground(colors.Purple)
	DimStyle = lipgloss.NewStyle().Foreground(colors.TextDim)
	RunningStyle = lipgloss.NewStyle().Foreground(colors.Yellow)
	SuccessStyle = lipgloss.NewStyle().Foreground(colors.Green)
	ErrorStyle = lipgloss.NewStyle().Foreground(colors.Red).Bold(true)
	TimedOutStyle = lipgloss.NewStyle().Foreground(colors.Orange)
	WarningStyle = lipgloss.NewStyle().Foreground(colors.Orange).Bold(true)
	TruncatedStyle = lipgloss.NewStyle().Foreground(colors.TextDim).Italic(true)
	SeparatorStyle = lipgloss.NewStyle().Foreground(colors.Border)
	PromptStyle = lipgloss.NewStyle().Foreground(colors.Cyan).Bold(true)
	StatusBarStyle = lipgloss.NewStyle().Foreground(colors.TextDim).Background(colors.Surface)
	MenuKeyStyle = lipgloss.NewStyle().Foreground(colors.Accent).Bold(true)
	MenuDescStyle = lipgloss.NewStyle().Foreground(colors.TextDim)
	SearchBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colors.Accent).
		Padding(0, 1)
	SearchItemStyle = lipgloss.NewStyle().Padding(0, 1)
	SearchSelStyle = lipgloss.NewStyle().
		Padding(0, 1).
		Background(colors.Accent).
		Foreground(colors.Bg)
	SearchMatchStyle = lipgloss.NewStyle().Foreground(colors.Yellow).Bold(true)

	spanCacheMu.Lock()
	spanCache = make(map[block.Style]lipgloss.Style)
	spanCacheMu.Unlock()
}

// Span styles are cached; output lines reuse a handful of renditions.
var (
	spanCache   = make(map[block.Style]lipgloss.Style)
	spanCacheMu sync.Mutex
)

// SpanStyle converts a span rendition into a lipgloss style.
func SpanStyle(s block.Style) lipgloss.Style {
	spanCacheMu.Lock()
	defer spanCacheMu.Unlock()
	if st, ok := spanCache[s]; ok {
		return st
	}
	st := lipgloss.NewStyle()
	if !s.Fg.IsDefault() {
		st = st.Foreground(TerminalColor(s.Fg))
	}
	if !s.Bg.IsDefault() {
		st = st.Background(TerminalColor(s.Bg))
	}
	if s.Bold {
		st = st.Bold(true)
	}
	if s.Italic {
		st = st.Italic(true)
	}
	if s.Underline {
		st = st.Underline(true)
	}
	spanCache[s] = st
	return st
}

// TerminalColor maps a parsed SGR color onto lipgloss. Palette indexes stay
// indexes so the user's terminal palette applies.
func TerminalColor(c vt.Color) lipgloss.TerminalColor {
	switch c.Kind {
	case vt.ColorIndexed:
		return lipgloss.Color(strconv.Itoa(int(c.Index)))
	case vt.ColorRGB:
		return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B))
	default:
		return lipgloss.NoColor{}
	}
}
