package vt

import "sync"

// Screen is the mutable viewport grid plus cursor state. It has no
// scrollback: resizing or erasing discards content permanently, matching
// spec.md's viewport-only model.
type Screen struct {
	mu sync.Mutex

	cols, rows int
	grid       [][]Cell
	cursorX    int
	cursorY    int

	// Pending SGR state applied to subsequently written cells.
	curFG    Color
	curBG    Color
	curAttrs Attrs
}

// NewScreen creates a blank cols x rows viewport.
func NewScreen(cols, rows int) *Screen {
	s := &Screen{}
	s.resizeLocked(cols, rows)
	return s
}

// Resize changes the viewport dimensions, in lock-step with the real PTY
// per spec.md §4.4. Existing content is clipped or padded with blanks.
func (s *Screen) Resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resizeLocked(cols, rows)
}

func (s *Screen) resizeLocked(cols, rows int) {
	if cols <= 0 {
		cols = 1
	}
	if rows <= 0 {
		rows = 1
	}
	newGrid := make([][]Cell, rows)
	for y := range newGrid {
		row := make([]Cell, cols)
		for x := range row {
			row[x] = blank()
		}
		if y < len(s.grid) {
			copy(row, s.grid[y])
		}
		newGrid[y] = row
	}
	s.grid = newGrid
	s.cols, s.rows = cols, rows
	if s.cursorX >= cols {
		s.cursorX = cols - 1
	}
	if s.cursorY >= rows {
		s.cursorY = rows - 1
	}
}

func (s *Screen) put(r rune) {
	if s.cursorX >= s.cols {
		s.newline()
	}
	s.grid[s.cursorY][s.cursorX] = Cell{Rune: r, FG: s.curFG, BG: s.curBG, Attrs: s.curAttrs}
	s.cursorX++
}

func (s *Screen) newline() {
	s.cursorX = 0
	if s.cursorY+1 < s.rows {
		s.cursorY++
		return
	}
	// Scroll the viewport up by one row; no scrollback is retained.
	copy(s.grid, s.grid[1:])
	last := make([]Cell, s.cols)
	for x := range last {
		last[x] = blank()
	}
	s.grid[s.rows-1] = last
}

func (s *Screen) carriageReturn() { s.cursorX = 0 }

func (s *Screen) backspace() {
	if s.cursorX > 0 {
		s.cursorX--
	}
}

func (s *Screen) tab() {
	next := (s.cursorX/8 + 1) * 8
	if next >= s.cols {
		next = s.cols - 1
	}
	s.cursorX = next
}

func (s *Screen) moveCursor(dx, dy int) {
	s.cursorX = clamp(s.cursorX+dx, 0, s.cols-1)
	s.cursorY = clamp(s.cursorY+dy, 0, s.rows-1)
}

func (s *Screen) setCursorPosition(row, col int) {
	s.cursorY = clamp(row, 0, s.rows-1)
	s.cursorX = clamp(col, 0, s.cols-1)
}

// eraseInDisplay implements CSI J: 0 = cursor to end, 1 = start to cursor,
// 2 = entire viewport.
func (s *Screen) eraseInDisplay(mode int) {
	switch mode {
	case 0:
		s.eraseInLine(0)
		for y := s.cursorY + 1; y < s.rows; y++ {
			s.clearRow(y)
		}
	case 1:
		s.eraseInLine(1)
		for y := 0; y < s.cursorY; y++ {
			s.clearRow(y)
		}
	case 2:
		for y := 0; y < s.rows; y++ {
			s.clearRow(y)
		}
	}
}

// eraseInLine implements CSI K: 0 = cursor to end of line, 1 = start to
// cursor, 2 = entire line.
func (s *Screen) eraseInLine(mode int) {
	row := s.grid[s.cursorY]
	switch mode {
	case 0:
		for x := s.cursorX; x < s.cols; x++ {
			row[x] = blank()
		}
	case 1:
		for x := 0; x <= s.cursorX && x < s.cols; x++ {
			row[x] = blank()
		}
	case 2:
		for x := range row {
			row[x] = blank()
		}
	}
}

func (s *Screen) clearRow(y int) {
	for x := range s.grid[y] {
		s.grid[y][x] = blank()
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
