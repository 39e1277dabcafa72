// Package vt implements the headless Terminal Emulator (C4): a viewport-
// only VT/ANSI state machine that consumes the same byte stream written
// to the cast file and exposes a BufferSnapshot. There is no scrollback
// by design (spec.md §1 Non-goals).
package vt

// ColorMode selects how a Cell's foreground/background color is encoded.
type ColorMode uint8

const (
	ColorDefault ColorMode = iota
	ColorIndexed           // 256-color palette index
	ColorRGB               // 24-bit truecolor
)

// Color is a foreground or background color value in one of ColorMode's
// representations.
type Color struct {
	Mode  ColorMode
	Index uint8 // valid when Mode == ColorIndexed
	R, G, B uint8 // valid when Mode == ColorRGB
}

// Attrs is the SGR attribute bitfield a Cell carries, covering the subset
// of xterm SGR parameters spec.md §9 requires: bold, italic, underline,
// inverse, dim, invisible, strikethrough.
type Attrs uint8

const (
	AttrBold Attrs = 1 << iota
	AttrDim
	AttrItalic
	AttrUnderline
	AttrInverse
	AttrInvisible
	AttrStrikethrough
)

// Cell is one character position in the viewport.
type Cell struct {
	Rune  rune
	FG    Color
	BG    Color
	Attrs Attrs
}

// blank returns the default, empty cell used to clear rows/regions.
func blank() Cell {
	return Cell{Rune: ' '}
}
