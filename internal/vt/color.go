package vt

import "fmt"

// ColorKind distinguishes how a Color is encoded.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota // terminal default (SGR 39/49)
	ColorIndexed                  // palette index 0-255 (SGR 30-37, 90-97, 38;5;n)
	ColorRGB                      // 24-bit truecolor (SGR 38;2;r;g;b)
)

// Color is a foreground or background color as requested by SGR.
// The zero value is the terminal default color.
type Color struct {
	Kind  ColorKind `json:"kind"`
	Index uint8     `json:"index,omitempty"`
	R     uint8     `json:"r,omitempty"`
	G     uint8     `json:"g,omitempty"`
	B     uint8     `json:"b,omitempty"`
}

// Standard 3-bit palette entries.
var (
	Black   = Indexed(0)
	Red     = Indexed(1)
	Green   = Indexed(2)
	Yellow  = Indexed(3)
	Blue    = Indexed(4)
	Magenta = Indexed(5)
	Cyan    = Indexed(6)
	White   = Indexed(7)
)

// DefaultColor is the terminal default color.
var DefaultColor = Color{}

// Indexed returns a palette color.
func Indexed(i uint8) Color {
	return Color{Kind: ColorIndexed, Index: i}
}

// RGB returns a truecolor value.
func RGB(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// Bright returns the bright (aixterm 90-97) variant of one of the eight base colors.
func Bright(c Color) Color {
	if c.Kind != ColorIndexed || c.Index > 7 {
		return c
	}
	return Indexed(c.Index + 8)
}

// IsDefault reports whether c is the terminal default color.
func (c Color) IsDefault() bool {
	return c.Kind == ColorDefault
}

func (c Color) String() string {
	switch c.Kind {
	case ColorIndexed:
		return fmt.Sprintf("indexed(%d)", c.Index)
	case ColorRGB:
		return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
	default:
		return "default"
	}
}
