package block

import "github.com/mosaicterm/mosaicterm/internal/vt"

// Style is the rendition shared by all characters of a StyledSpan.
type Style struct {
	Fg        vt.Color `json:"fg"`
	Bg        vt.Color `json:"bg"`
	Bold      bool     `json:"bold,omitempty"`
	Italic    bool     `json:"italic,omitempty"`
	Underline bool     `json:"underline,omitempty"`
}

// IsZero reports whether s is the default rendition.
func (s Style) IsZero() bool {
	return s == Style{}
}

// Apply returns the style after a style-changing event. Events that do not
// affect rendition return s unchanged.
func (s Style) Apply(ev vt.Event) Style {
	switch ev.Kind {
	case vt.EventSetForeground:
		s.Fg = ev.Color
	case vt.EventSetBackground:
		s.Bg = ev.Color
	case vt.EventResetAttributes:
		s = Style{}
	case vt.EventSetAttribute:
		switch ev.Attr {
		case vt.AttrBold:
			s.Bold = ev.On
		case vt.AttrItalic:
			s.Italic = ev.On
		case vt.AttrUnderline:
			s.Underline = ev.On
		}
	}
	return s
}

// StyledSpan is a run of text sharing one style.
type StyledSpan struct {
	Text  string `json:"text"`
	Style Style  `json:"style"`
}
