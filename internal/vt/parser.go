package vt

import "unicode/utf8"

type parserState int

const (
	stateGround parserState = iota
	stateEscape
	stateCSI
)

// parser is a small incremental ANSI/ECMA-48 state machine feeding a
// Screen. It intentionally understands only the CSI subset spec.md §9
// names; unrecognized sequences are consumed and discarded so the
// following ground text is not corrupted.
type parser struct {
	state     parserState
	csiParams []int
	csiCur    string
	screen    *Screen
}

func newParser(screen *Screen) *parser {
	return &parser{screen: screen}
}

// feed processes one chunk of raw terminal output.
func (p *parser) feed(data []byte) {
	for len(data) > 0 {
		switch p.state {
		case stateGround:
			n := p.feedGround(data)
			data = data[n:]
		case stateEscape:
			data = p.feedEscape(data)
		case stateCSI:
			data = p.feedCSI(data)
		}
	}
}

func (p *parser) feedGround(data []byte) int {
	b := data[0]
	switch b {
	case 0x1b:
		p.state = stateEscape
		return 1
	case '\n':
		p.screen.newline()
		return 1
	case '\r':
		p.screen.carriageReturn()
		return 1
	case '\b':
		p.screen.backspace()
		return 1
	case '\t':
		p.screen.tab()
		return 1
	}
	if b < 0x20 {
		return 1 // ignore other C0 controls
	}
	r, size := utf8.DecodeRune(data)
	if r == utf8.RuneError && size == 1 {
		// Incomplete or invalid UTF-8 at the end of this chunk; treat the
		// single byte as Latin-1 so a split multi-byte rune across reads
		// degrades gracefully instead of corrupting the stream.
		p.screen.put(rune(b))
		return 1
	}
	p.screen.put(r)
	return size
}

func (p *parser) feedEscape(data []byte) []byte {
	b := data[0]
	switch b {
	case '[':
		p.state = stateCSI
		p.csiParams = nil
		p.csiCur = ""
		return data[1:]
	default:
		// Unsupported escape (e.g. charset designation); discard and
		// return to ground.
		p.state = stateGround
		return data[1:]
	}
}

func (p *parser) feedCSI(data []byte) []byte {
	b := data[0]
	switch {
	case b >= '0' && b <= '9':
		p.csiCur += string(b)
		return data[1:]
	case b == ';':
		p.csiParams = append(p.csiParams, atoiOrZero(p.csiCur))
		p.csiCur = ""
		return data[1:]
	case b >= 0x40 && b <= 0x7e:
		p.csiParams = append(p.csiParams, atoiOrZero(p.csiCur))
		p.csiCur = ""
		p.runCSI(b, p.csiParams)
		p.state = stateGround
		return data[1:]
	default:
		// Intermediate bytes (0x20-0x2f) etc.; ignore.
		return data[1:]
	}
}

func (p *parser) runCSI(final byte, params []int) {
	s := p.screen
	p0 := func(def int) int {
		if len(params) == 0 || params[0] == 0 {
			return def
		}
		return params[0]
	}
	switch final {
	case 'A':
		s.moveCursor(0, -p0(1))
	case 'B':
		s.moveCursor(0, p0(1))
	case 'C':
		s.moveCursor(p0(1), 0)
	case 'D':
		s.moveCursor(-p0(1), 0)
	case 'H', 'f':
		row, col := 1, 1
		if len(params) >= 1 && params[0] != 0 {
			row = params[0]
		}
		if len(params) >= 2 && params[1] != 0 {
			col = params[1]
		}
		s.setCursorPosition(row-1, col-1)
	case 'J':
		s.eraseInDisplay(p0(0))
	case 'K':
		s.eraseInLine(p0(0))
	case 'm':
		s.applySGR(params)
	}
}

func atoiOrZero(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}
