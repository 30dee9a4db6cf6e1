package vt

import "fmt"

// EventKind identifies the type of a parser Event.
type EventKind uint8

const (
	EventPrint EventKind = iota
	EventLineBreak
	EventCarriageReturn
	EventBackspace
	EventSetForeground
	EventSetBackground
	EventSetAttribute
	EventResetAttributes
	EventEnterAlternateScreen
	EventExitAlternateScreen
	EventCursorHint
	EventShellMark
)

var eventKindNames = [...]string{
	EventPrint:                "Print",
	EventLineBreak:            "LineBreak",
	EventCarriageReturn:       "CarriageReturn",
	EventBackspace:            "Backspace",
	EventSetForeground:        "SetForeground",
	EventSetBackground:        "SetBackground",
	EventSetAttribute:         "SetAttribute",
	EventResetAttributes:      "ResetAttributes",
	EventEnterAlternateScreen: "EnterAlternateScreen",
	EventExitAlternateScreen:  "ExitAlternateScreen",
	EventCursorHint:           "CursorHint",
	EventShellMark:            "ShellMark",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", k)
}

// Attribute is a text rendition flag toggled by SGR.
type Attribute uint8

const (
	AttrBold Attribute = 1 << iota
	AttrItalic
	AttrUnderline
)

func (a Attribute) String() string {
	switch a {
	case AttrBold:
		return "bold"
	case AttrItalic:
		return "italic"
	case AttrUnderline:
		return "underline"
	default:
		return fmt.Sprintf("Attribute(%d)", uint8(a))
	}
}

// MarkKind identifies a shell-integration mark carried by an OSC sequence.
type MarkKind uint8

const (
	MarkPromptStart      MarkKind = iota // OSC 133;A
	MarkCommandStart                     // OSC 133;B
	MarkCommandExecuted                  // OSC 133;C
	MarkCommandFinished                  // OSC 133;D[;exit]
	MarkWorkingDirectory                 // OSC 7;file://host/path
	MarkFence                            // OSC 133;F;token
)

// Mark is the payload of an EventShellMark.
type Mark struct {
	Kind        MarkKind
	ExitCode    int
	HasExitCode bool
	// Value holds the working directory for MarkWorkingDirectory and the
	// token for MarkFence.
	Value string
}

// Event is one unit of parser output. Only the fields relevant to Kind are set,
// which keeps events comparable with ==.
type Event struct {
	Kind  EventKind
	Rune  rune
	Color Color
	Attr  Attribute
	On    bool
	Mark  Mark
}

// Constructors for the events the parser emits, mostly useful in tests.
func Print(r rune) Event          { return Event{Kind: EventPrint, Rune: r} }
func LineBreak() Event            { return Event{Kind: EventLineBreak} }
func CarriageReturn() Event       { return Event{Kind: EventCarriageReturn} }
func Backspace() Event            { return Event{Kind: EventBackspace} }
func SetForeground(c Color) Event { return Event{Kind: EventSetForeground, Color: c} }
func SetBackground(c Color) Event { return Event{Kind: EventSetBackground, Color: c} }
func ResetAttributes() Event      { return Event{Kind: EventResetAttributes} }
func EnterAlternateScreen() Event { return Event{Kind: EventEnterAlternateScreen} }
func ExitAlternateScreen() Event  { return Event{Kind: EventExitAlternateScreen} }
func CursorHint() Event           { return Event{Kind: EventCursorHint} }
func ShellMark(m Mark) Event      { return Event{Kind: EventShellMark, Mark: m} }
func SetAttribute(a Attribute, on bool) Event {
	return Event{Kind: EventSetAttribute, Attr: a, On: on}
}

func (e Event) String() string {
	switch e.Kind {
	case EventPrint:
		return fmt.Sprintf("Print(%q)", e.Rune)
	case EventSetForeground, EventSetBackground:
		return fmt.Sprintf("%s(%s)", e.Kind, e.Color)
	case EventSetAttribute:
		return fmt.Sprintf("SetAttribute{%s=%t}", e.Attr, e.On)
	case EventShellMark:
		return fmt.Sprintf("ShellMark{%d exit=%d/%t %q}", e.Mark.Kind, e.Mark.ExitCode, e.Mark.HasExitCode, e.Mark.Value)
	default:
		return e.Kind.String()
	}
}
