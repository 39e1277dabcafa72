package httpapi

import (
	"strconv"
	"strings"

	"vibetunnel/internal/vt"
)

// renderText flattens a BufferSnapshot to plain text, or to text marked
// up with `[style ...]...[/style]` spans when styled is true, per
// spec.md §6's GET .../text?styles endpoint.
func renderText(snap vt.BufferSnapshot, styled bool) string {
	var b strings.Builder
	for rowIdx, row := range snap.Cells {
		if rowIdx > 0 {
			b.WriteByte('\n')
		}
		if !styled {
			writePlainRow(&b, row)
			continue
		}
		writeStyledRow(&b, row)
	}
	return b.String()
}

func writePlainRow(b *strings.Builder, row []vt.Cell) {
	end := len(row)
	for end > 0 && row[end-1].Rune == ' ' {
		end--
	}
	for _, c := range row[:end] {
		r := c.Rune
		if r == 0 {
			r = ' '
		}
		b.WriteRune(r)
	}
}

func writeStyledRow(b *strings.Builder, row []vt.Cell) {
	var open bool
	var cur vt.Cell
	closeSpan := func() {
		if open {
			b.WriteString("[/style]")
			open = false
		}
	}
	for _, c := range row {
		if !open || !sameStyle(c, cur) {
			closeSpan()
			if hasStyle(c) {
				b.WriteString(styleTag(c))
				open = true
			}
			cur = c
		}
		r := c.Rune
		if r == 0 {
			r = ' '
		}
		b.WriteRune(r)
	}
	closeSpan()
}

func sameStyle(a, b vt.Cell) bool {
	return a.FG == b.FG && a.BG == b.BG && a.Attrs == b.Attrs
}

func hasStyle(c vt.Cell) bool {
	return c.FG.Mode != vt.ColorDefault || c.BG.Mode != vt.ColorDefault || c.Attrs != 0
}

func styleTag(c vt.Cell) string {
	var parts []string
	if c.FG.Mode != vt.ColorDefault {
		parts = append(parts, `fg="`+colorValue(c.FG)+`"`)
	}
	if c.BG.Mode != vt.ColorDefault {
		parts = append(parts, `bg="`+colorValue(c.BG)+`"`)
	}
	if c.Attrs&vt.AttrBold != 0 {
		parts = append(parts, "bold")
	}
	if c.Attrs&vt.AttrDim != 0 {
		parts = append(parts, "dim")
	}
	if c.Attrs&vt.AttrItalic != 0 {
		parts = append(parts, "italic")
	}
	if c.Attrs&vt.AttrUnderline != 0 {
		parts = append(parts, "underline")
	}
	if c.Attrs&vt.AttrInverse != 0 {
		parts = append(parts, "inverse")
	}
	if c.Attrs&vt.AttrStrikethrough != 0 {
		parts = append(parts, "strikethrough")
	}
	return "[style " + strings.Join(parts, " ") + "]"
}

func colorValue(c vt.Color) string {
	if c.Mode == vt.ColorRGB {
		return "#" + hex2(c.R) + hex2(c.G) + hex2(c.B)
	}
	return strconv.Itoa(int(c.Index))
}

func hex2(b byte) string {
	const digits = "0123456789abcdef"
	return string([]byte{digits[b>>4], digits[b&0xf]})
}
