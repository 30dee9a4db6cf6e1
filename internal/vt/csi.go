package vt

// param is one semicolon-separated CSI parameter with its colon subparameters.
// A missing value is -1.
type param []int

func (p param) value(i, def int) int {
	if i >= len(p) || p[i] < 0 {
		return def
	}
	return p[i]
}

// parseParams splits raw CSI parameter bytes into parameters.
func parseParams(raw []byte) []param {
	if len(raw) == 0 {
		return nil
	}
	var (
		out []param
		cur = param{-1}
	)
	for _, b := range raw {
		switch {
		case b >= '0' && b <= '9':
			v := cur[len(cur)-1]
			if v < 0 {
				v = 0
			}
			if v < 1<<16 {
				v = v*10 + int(b-'0')
			}
			cur[len(cur)-1] = v
		case b == ':':
			cur = append(cur, -1)
		case b == ';':
			out = append(out, cur)
			cur = param{-1}
		}
	}
	return append(out, cur)
}

func (p *Parser) dispatchCSI(final byte) {
	if len(p.inter) > 0 {
		return
	}
	switch p.private {
	case '?':
		if final == 'h' || final == 'l' {
			p.dispatchPrivateMode(final == 'h')
		}
		return
	case 0:
	default:
		return
	}

	switch final {
	case 'm':
		p.dispatchSGR(parseParams(p.params))
	case 'A', 'B', 'C', 'D', 'E', 'F', 'G', 'H', 'f', 'd', 'e', 'a', '`', 's', 'u':
		p.emit(CursorHint())
	default:
		// erase, scroll, device status and the rest have no block-mode meaning
	}
}

// dispatchPrivateMode handles DECSET/DECRST. Only the alternate screen modes
// produce events; one event is emitted per sequence.
func (p *Parser) dispatchPrivateMode(set bool) {
	for _, prm := range parseParams(p.params) {
		switch prm.value(0, 0) {
		case 47, 1047, 1049:
			if set {
				p.emit(EnterAlternateScreen())
			} else {
				p.emit(ExitAlternateScreen())
			}
			return
		}
	}
}

func (p *Parser) dispatchSGR(params []param) {
	if len(params) == 0 {
		p.emit(ResetAttributes())
		return
	}
	for i := 0; i < len(params); i++ {
		prm := params[i]
		code := prm.value(0, 0)
		switch {
		case code == 0:
			p.emit(ResetAttributes())
		case code == 1:
			p.emit(SetAttribute(AttrBold, true))
		case code == 3:
			p.emit(SetAttribute(AttrItalic, true))
		case code == 4:
			// 4:0 is "no underline" in the colon form
			p.emit(SetAttribute(AttrUnderline, len(prm) < 2 || prm.value(1, 1) != 0))
		case code == 22:
			p.emit(SetAttribute(AttrBold, false))
		case code == 23:
			p.emit(SetAttribute(AttrItalic, false))
		case code == 24:
			p.emit(SetAttribute(AttrUnderline, false))
		case code >= 30 && code <= 37:
			p.emit(SetForeground(Indexed(uint8(code - 30))))
		case code == 39:
			p.emit(SetForeground(DefaultColor))
		case code >= 40 && code <= 47:
			p.emit(SetBackground(Indexed(uint8(code - 40))))
		case code == 49:
			p.emit(SetBackground(DefaultColor))
		case code >= 90 && code <= 97:
			p.emit(SetForeground(Indexed(uint8(code - 90 + 8))))
		case code >= 100 && code <= 107:
			p.emit(SetBackground(Indexed(uint8(code - 100 + 8))))
		case code == 38 || code == 48:
			c, ok, consumed := extendedColor(prm, params[i+1:])
			i += consumed
			if !ok {
				continue
			}
			if code == 38 {
				p.emit(SetForeground(c))
			} else {
				p.emit(SetBackground(c))
			}
		case code == 58:
			// underline color: consume its arguments, no event
			_, _, consumed := extendedColor(prm, params[i+1:])
			i += consumed
		default:
			// unknown codes are skipped, the rest of the sequence still applies
		}
	}
}

// extendedColor decodes SGR 38/48 in either the colon form carried inside prm
// (38:5:n, 38:2::r:g:b, 38:2:r:g:b) or the semicolon form spread over rest
// (38;5;n, 38;2;r;g;b). It returns how many entries of rest were consumed.
func extendedColor(prm param, rest []param) (Color, bool, int) {
	if len(prm) > 1 {
		switch prm.value(1, -1) {
		case 5:
			return indexedColor(prm.value(2, -1))
		case 2:
			comps := prm[2:]
			if len(comps) == 4 {
				// colorspace id present
				comps = comps[1:]
			}
			if len(comps) != 3 {
				return Color{}, false, 0
			}
			return rgbColor(comps[0], comps[1], comps[2])
		}
		return Color{}, false, 0
	}

	if len(rest) == 0 {
		return Color{}, false, 0
	}
	switch rest[0].value(0, -1) {
	case 5:
		if len(rest) < 2 {
			return Color{}, false, len(rest)
		}
		c, ok, _ := indexedColor(rest[1].value(0, -1))
		return c, ok, 2
	case 2:
		if len(rest) < 4 {
			return Color{}, false, len(rest)
		}
		c, ok, _ := rgbColor(rest[1].value(0, -1), rest[2].value(0, -1), rest[3].value(0, -1))
		return c, ok, 4
	}
	return Color{}, false, 1
}

func indexedColor(n int) (Color, bool, int) {
	if n < 0 || n > 255 {
		return Color{}, false, 0
	}
	return Indexed(uint8(n)), true, 0
}

func rgbColor(r, g, b int) (Color, bool, int) {
	for _, v := range []int{r, g, b} {
		if v < 0 || v > 255 {
			return Color{}, false, 0
		}
	}
	return RGB(uint8(r), uint8(g), uint8(b)), true, 0
}
