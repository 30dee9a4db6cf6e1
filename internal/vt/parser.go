// Package vt converts the raw byte stream of a shell into typed terminal events.
//
// The parser is a byte-driven state machine. It never fails: malformed or
// unsupported sequences are consumed without producing visible output, and
// state carries across Feed calls so escape sequences and UTF-8 characters may
// be split at any byte boundary.
package vt

import (
	"unicode/utf8"
)

// State is the parser's position within the escape-sequence grammar.
type State uint8

const (
	StateGround State = iota
	StateEscape
	StateEscapeIntermediate
	StateCsiParam
	StateOscString
	StateStringEscape
	StateIgnored
)

func (s State) String() string {
	switch s {
	case StateGround:
		return "ground"
	case StateEscape:
		return "escape"
	case StateEscapeIntermediate:
		return "escape-intermediate"
	case StateCsiParam:
		return "csi-param"
	case StateOscString:
		return "osc-string"
	case StateStringEscape:
		return "string-escape"
	case StateIgnored:
		return "ignored"
	default:
		return "unknown"
	}
}

// ignoreKind selects how the Ignored state finds the end of the discarded sequence.
type ignoreKind uint8

const (
	ignoreCSI    ignoreKind = iota // ends at a CSI final byte
	ignoreString                   // ends at BEL or ST (DCS, SOS, PM, APC, oversized OSC)
)

const (
	maxCSIParamBytes     = 64
	maxCSIIntermediates  = 2
	maxOSCBytes          = 4096
	replacementCharacter = utf8.RuneError
)

const (
	bel = 0x07
	bs  = 0x08
	ht  = 0x09
	lf  = 0x0a
	vtb = 0x0b
	ff  = 0x0c
	cr  = 0x0d
	can = 0x18
	sub = 0x1a
	esc = 0x1b
	del = 0x7f
)

// Parser is an incremental escape-sequence parser. It is not safe for
// concurrent use; each terminal session owns one.
type Parser struct {
	state  State
	ignore ignoreKind

	// CSI collection
	private byte
	params  []byte
	inter   []byte

	// OSC collection; stringOSC records whether StateStringEscape was entered
	// from an OSC (dispatch on ST) or from an ignored string.
	osc       []byte
	stringOSC bool

	// pending UTF-8 sequence
	utf8Buf  [utf8.UTFMax]byte
	utf8Len  int
	utf8Need int

	out []Event
}

// NewParser returns a parser in the ground state.
func NewParser() *Parser {
	return &Parser{
		params: make([]byte, 0, maxCSIParamBytes),
		osc:    make([]byte, 0, 256),
	}
}

// State returns the current state.
func (p *Parser) State() State {
	return p.state
}

// Reset drops any partial sequence and returns to the ground state.
func (p *Parser) Reset() {
	p.state = StateGround
	p.clearSequence()
	p.utf8Len, p.utf8Need = 0, 0
	p.out = p.out[:0]
}

// Feed consumes the next chunk of bytes and returns the events it completed.
// The returned slice is owned by the caller.
func (p *Parser) Feed(data []byte) []Event {
	p.out = p.out[:0]
	for _, b := range data {
		p.step(b)
	}
	if len(p.out) == 0 {
		return nil
	}
	events := make([]Event, len(p.out))
	copy(events, p.out)
	return events
}

func (p *Parser) emit(e Event) {
	p.out = append(p.out, e)
}

func (p *Parser) clearSequence() {
	p.private = 0
	p.params = p.params[:0]
	p.inter = p.inter[:0]
	p.osc = p.osc[:0]
	p.stringOSC = false
}

// step is the single transition function.
func (p *Parser) step(b byte) {
	switch p.state {
	case StateGround:
		p.ground(b)
	case StateEscape:
		p.escape(b)
	case StateEscapeIntermediate:
		p.escapeIntermediate(b)
	case StateCsiParam:
		p.csiParam(b)
	case StateOscString:
		p.oscString(b)
	case StateStringEscape:
		p.stringEscape(b)
	case StateIgnored:
		p.ignored(b)
	}
}

func (p *Parser) enter(s State) {
	p.state = s
	if s == StateEscape {
		p.clearSequence()
	}
}

func (p *Parser) ground(b byte) {
	if p.utf8Need > 0 {
		if p.continueUTF8(b) {
			return
		}
		// Invalid continuation: the pending sequence becomes U+FFFD and b is
		// processed on its own.
		p.emit(Print(replacementCharacter))
		p.utf8Len, p.utf8Need = 0, 0
	}

	switch {
	case b == esc:
		p.enter(StateEscape)
	case b == lf, b == vtb, b == ff:
		p.emit(LineBreak())
	case b == cr:
		p.emit(CarriageReturn())
	case b == bs:
		p.emit(Backspace())
	case b == ht:
		p.emit(Print('\t'))
	case b < 0x20 || b == del:
		// remaining C0 controls (BEL, NUL, CAN, SUB, ...) have no block-mode effect
	case b < 0x80:
		p.emit(Print(rune(b)))
	default:
		p.startUTF8(b)
	}
}

// startUTF8 begins a multi-byte sequence or emits U+FFFD for an invalid lead byte.
func (p *Parser) startUTF8(b byte) {
	var need int
	switch {
	case b >= 0xc2 && b <= 0xdf:
		need = 1
	case b >= 0xe0 && b <= 0xef:
		need = 2
	case b >= 0xf0 && b <= 0xf4:
		need = 3
	default:
		p.emit(Print(replacementCharacter))
		return
	}
	p.utf8Buf[0] = b
	p.utf8Len = 1
	p.utf8Need = need
}

// continueUTF8 appends b to the pending sequence if it is a valid continuation.
// It rejects overlong encodings and surrogates at the second byte, the same
// ranges utf8.DecodeRune enforces.
func (p *Parser) continueUTF8(b byte) bool {
	lo, hi := byte(0x80), byte(0xbf)
	if p.utf8Len == 1 {
		switch p.utf8Buf[0] {
		case 0xe0:
			lo = 0xa0
		case 0xed:
			hi = 0x9f
		case 0xf0:
			lo = 0x90
		case 0xf4:
			hi = 0x8f
		}
	}
	if b < lo || b > hi {
		return false
	}
	p.utf8Buf[p.utf8Len] = b
	p.utf8Len++
	p.utf8Need--
	if p.utf8Need == 0 {
		r, _ := utf8.DecodeRune(p.utf8Buf[:p.utf8Len])
		p.emit(Print(r))
		p.utf8Len = 0
	}
	return true
}

func (p *Parser) escape(b byte) {
	switch {
	case b == '[':
		p.state = StateCsiParam
	case b == ']':
		p.state = StateOscString
	case b == 'P' || b == 'X' || b == '^' || b == '_':
		p.state, p.ignore = StateIgnored, ignoreString
	case b == '7' || b == '8' || b == 'M' || b == 'D':
		// DECSC, DECRC, reverse index, index
		p.emit(CursorHint())
		p.state = StateGround
	case b == 'E':
		p.emit(LineBreak())
		p.state = StateGround
	case b == 'c':
		p.emit(ResetAttributes())
		p.state = StateGround
	case b == esc:
		p.enter(StateEscape)
	case b == can || b == sub:
		p.state = StateGround
	case b >= 0x20 && b <= 0x2f:
		p.inter = append(p.inter, b)
		p.state = StateEscapeIntermediate
	case b >= 0x30 && b <= 0x7e:
		// unsupported two-byte escape, consumed
		p.state = StateGround
	default:
		// C0 control or non-ASCII byte: abandon the escape and treat b as text
		p.state = StateGround
		p.ground(b)
	}
}

func (p *Parser) escapeIntermediate(b byte) {
	switch {
	case b >= 0x20 && b <= 0x2f:
		// charset designations and friends, no event
	case b >= 0x30 && b <= 0x7e:
		p.state = StateGround
	case b == esc:
		p.enter(StateEscape)
	case b == can || b == sub:
		p.state = StateGround
	default:
		p.state = StateGround
		p.ground(b)
	}
}

func (p *Parser) csiParam(b byte) {
	switch {
	case b >= 0x30 && b <= 0x3f:
		if b >= '<' && b <= '?' {
			if len(p.params) > 0 || p.private != 0 || len(p.inter) > 0 {
				p.state, p.ignore = StateIgnored, ignoreCSI
				return
			}
			p.private = b
			return
		}
		if len(p.inter) > 0 || len(p.params) >= maxCSIParamBytes {
			p.state, p.ignore = StateIgnored, ignoreCSI
			return
		}
		p.params = append(p.params, b)
	case b >= 0x20 && b <= 0x2f:
		if len(p.inter) >= maxCSIIntermediates {
			p.state, p.ignore = StateIgnored, ignoreCSI
			return
		}
		p.inter = append(p.inter, b)
	case b >= 0x40 && b <= 0x7e:
		p.dispatchCSI(b)
		p.state = StateGround
	case b == esc:
		p.enter(StateEscape)
	case b == can || b == sub:
		p.state = StateGround
	case b < 0x20 || b == del:
		// C0 controls inside CSI are ignored
	default:
		p.state, p.ignore = StateIgnored, ignoreCSI
	}
}

func (p *Parser) oscString(b byte) {
	switch {
	case b == bel:
		p.dispatchOSC()
		p.state = StateGround
	case b == esc:
		p.stringOSC = true
		p.state = StateStringEscape
	case b == can || b == sub:
		p.state = StateGround
	case b < 0x20:
		// ignored inside OSC
	default:
		if len(p.osc) >= maxOSCBytes {
			p.state, p.ignore = StateIgnored, ignoreString
			return
		}
		p.osc = append(p.osc, b)
	}
}

// stringEscape handles the byte after ESC inside an OSC or ignored string.
// ESC \ is the string terminator; any other byte aborts the string and starts
// a new escape sequence.
func (p *Parser) stringEscape(b byte) {
	if b == '\\' {
		if p.stringOSC {
			p.dispatchOSC()
		}
		p.state = StateGround
		return
	}
	p.enter(StateEscape)
	p.escape(b)
}

func (p *Parser) ignored(b byte) {
	switch p.ignore {
	case ignoreCSI:
		switch {
		case b >= 0x40 && b <= 0x7e:
			p.state = StateGround
		case b == esc:
			p.enter(StateEscape)
		case b == can || b == sub:
			p.state = StateGround
		}
	default:
		switch b {
		case bel, can, sub:
			p.state = StateGround
		case esc:
			p.stringOSC = false
			p.state = StateStringEscape
		}
	}
}
