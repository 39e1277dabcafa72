package vt

// applySGR updates the pending cell attributes per CSI ... m, covering the
// xterm SGR subset spec.md §9 names: 0-9, 21-29, 30-37, 39, 40-47, 49,
// 38;5/48;5 (256-color), 38;2/48;2 (RGB).
func (s *Screen) applySGR(params []int) {
	if len(params) == 0 {
		params = []int{0}
	}
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			s.curFG = Color{}
			s.curBG = Color{}
			s.curAttrs = 0
		case p == 1:
			s.curAttrs |= AttrBold
		case p == 2:
			s.curAttrs |= AttrDim
		case p == 3:
			s.curAttrs |= AttrItalic
		case p == 4:
			s.curAttrs |= AttrUnderline
		case p == 7:
			s.curAttrs |= AttrInverse
		case p == 8:
			s.curAttrs |= AttrInvisible
		case p == 9:
			s.curAttrs |= AttrStrikethrough
		case p == 21:
			s.curAttrs &^= AttrBold
		case p == 22:
			s.curAttrs &^= AttrBold | AttrDim
		case p == 23:
			s.curAttrs &^= AttrItalic
		case p == 24:
			s.curAttrs &^= AttrUnderline
		case p == 27:
			s.curAttrs &^= AttrInverse
		case p == 28:
			s.curAttrs &^= AttrInvisible
		case p == 29:
			s.curAttrs &^= AttrStrikethrough
		case p >= 30 && p <= 37:
			s.curFG = Color{Mode: ColorIndexed, Index: uint8(p - 30)}
		case p == 38:
			consumed := s.applyExtendedColor(params[i+1:], &s.curFG)
			i += consumed
		case p == 39:
			s.curFG = Color{}
		case p >= 40 && p <= 47:
			s.curBG = Color{Mode: ColorIndexed, Index: uint8(p - 40)}
		case p == 48:
			consumed := s.applyExtendedColor(params[i+1:], &s.curBG)
			i += consumed
		case p == 49:
			s.curBG = Color{}
		}
	}
}

// applyExtendedColor parses the 38;5;N / 38;2;R;G;B forms (and their 48;…
// background equivalents) and returns how many extra params were
// consumed from rest.
func (s *Screen) applyExtendedColor(rest []int, target *Color) int {
	if len(rest) == 0 {
		return 0
	}
	switch rest[0] {
	case 5:
		if len(rest) >= 2 {
			*target = Color{Mode: ColorIndexed, Index: uint8(rest[1])}
			return 2
		}
	case 2:
		if len(rest) >= 4 {
			*target = Color{Mode: ColorRGB, R: uint8(rest[1]), G: uint8(rest[2]), B: uint8(rest[3])}
			return 4
		}
	}
	return len(rest)
}
