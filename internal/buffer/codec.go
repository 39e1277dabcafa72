// Package buffer implements the Buffer Aggregator (C6): the binary
// BufferPayload codec, the WebSocket magic-byte framing, and debounced
// multi-session, multi-client fan-out. Grounded on the teacher's
// hub/protocol binary-framing idiom, generalized from one fixed
// pane-output frame format and a single desktop connection to this
// spec's BufferPayload format and an arbitrary number of per-session
// subscribed clients.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"

	"vibetunnel/internal/vt"
)

const (
	payloadMagic   uint16 = 0x5654 // "VT"
	payloadVersion uint8  = 0x01
	headerSize            = 32

	rowEmpty   byte = 0xFE
	rowContent byte = 0xFD

	frameMagic byte = 0xBF
	maxIDLen        = 64
)

// typeByte bit layout, per spec.md §4.6.
const (
	typeCodepointWide = 1 << 0 // 0 = 1-byte ASCII, 1 = 4-byte codepoint
	fgModeShift       = 1
	fgModeMask        = 0x3 << fgModeShift
	bgModeShift       = 3
	bgModeMask        = 0x3 << bgModeShift
	typeHasAttrs      = 1 << 5
)

// EncodePayload serializes a viewport snapshot into the BufferPayload
// wire format (independent of the WS frame wrapper; also used for the
// GET .../buffer REST endpoint).
func EncodePayload(snap vt.BufferSnapshot) []byte {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint16(buf[0:2], payloadMagic)
	buf[2] = payloadVersion
	buf[3] = 0 // flags
	binary.LittleEndian.PutUint32(buf[4:8], uint32(snap.Cols))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(snap.Rows))
	binary.LittleEndian.PutUint32(buf[12:16], uint32(int32(snap.CursorX)))
	binary.LittleEndian.PutUint32(buf[16:20], uint32(int32(snap.CursorY)))
	binary.LittleEndian.PutUint32(buf[20:24], uint32(int32(snap.ViewportY)))
	binary.LittleEndian.PutUint32(buf[24:28], 0) // reserved
	// bytes 28..32 reserved/padding to keep the header exactly 32 bytes.

	for _, row := range snap.Cells {
		if rowIsEmpty(row) {
			buf = append(buf, rowEmpty)
			continue
		}
		buf = append(buf, rowContent)
		for _, cell := range row {
			buf = appendCell(buf, cell)
		}
	}
	return buf
}

func rowIsEmpty(row []vt.Cell) bool {
	for _, c := range row {
		if c.Rune != ' ' && c.Rune != 0 {
			return false
		}
		if c.FG.Mode != vt.ColorDefault || c.BG.Mode != vt.ColorDefault || c.Attrs != 0 {
			return false
		}
	}
	return true
}

func appendCell(buf []byte, c vt.Cell) []byte {
	var typeByte byte
	wide := c.Rune > 0x7f
	if wide {
		typeByte |= typeCodepointWide
	}
	typeByte |= byte(c.FG.Mode) << fgModeShift
	typeByte |= byte(c.BG.Mode) << bgModeShift
	if c.Attrs != 0 {
		typeByte |= typeHasAttrs
	}
	buf = append(buf, typeByte)

	if wide {
		var codepoint [4]byte
		binary.LittleEndian.PutUint32(codepoint[:], uint32(c.Rune))
		buf = append(buf, codepoint[:]...)
	} else {
		buf = append(buf, byte(c.Rune))
	}

	buf = appendColor(buf, c.FG)
	buf = appendColor(buf, c.BG)

	if c.Attrs != 0 {
		buf = append(buf, byte(c.Attrs))
	}
	return buf
}

func appendColor(buf []byte, c vt.Color) []byte {
	switch c.Mode {
	case vt.ColorDefault:
		return buf
	case vt.ColorIndexed:
		return append(buf, c.Index)
	case vt.ColorRGB:
		return append(buf, c.R, c.G, c.B)
	}
	return buf
}

// DecodePayload parses a BufferPayload back into a snapshot. Any receiver
// implementing this function must be able to reconstruct the viewport
// from the payload alone, per spec.md §4.6.
func DecodePayload(data []byte) (vt.BufferSnapshot, error) {
	if len(data) < headerSize {
		return vt.BufferSnapshot{}, errors.New("buffer payload shorter than header")
	}
	if binary.LittleEndian.Uint16(data[0:2]) != payloadMagic {
		return vt.BufferSnapshot{}, errors.New("bad buffer payload magic")
	}
	cols := int(binary.LittleEndian.Uint32(data[4:8]))
	rows := int(binary.LittleEndian.Uint32(data[8:12]))
	cursorX := int(int32(binary.LittleEndian.Uint32(data[12:16])))
	cursorY := int(int32(binary.LittleEndian.Uint32(data[16:20])))
	viewportY := int(int32(binary.LittleEndian.Uint32(data[20:24])))

	snap := vt.BufferSnapshot{
		Cols: cols, Rows: rows, CursorX: cursorX, CursorY: cursorY, ViewportY: viewportY,
		Cells: make([][]vt.Cell, 0, rows),
	}

	pos := headerSize
	for rowIdx := 0; rowIdx < rows; rowIdx++ {
		if pos >= len(data) {
			return vt.BufferSnapshot{}, fmt.Errorf("buffer payload truncated at row %d", rowIdx)
		}
		tag := data[pos]
		pos++
		row := make([]vt.Cell, cols)
		for i := range row {
			row[i] = vt.Cell{Rune: ' '}
		}
		if tag == rowEmpty {
			snap.Cells = append(snap.Cells, row)
			continue
		}
		if tag != rowContent {
			return vt.BufferSnapshot{}, fmt.Errorf("unknown row tag 0x%02x", tag)
		}
		for col := 0; col < cols; col++ {
			cell, consumed, err := decodeCell(data[pos:])
			if err != nil {
				return vt.BufferSnapshot{}, err
			}
			row[col] = cell
			pos += consumed
		}
		snap.Cells = append(snap.Cells, row)
	}
	return snap, nil
}

func decodeCell(data []byte) (vt.Cell, int, error) {
	if len(data) < 1 {
		return vt.Cell{}, 0, errors.New("buffer payload truncated at cell type byte")
	}
	typeByte := data[0]
	pos := 1

	var r rune
	if typeByte&typeCodepointWide != 0 {
		if len(data) < pos+4 {
			return vt.Cell{}, 0, errors.New("buffer payload truncated at wide codepoint")
		}
		r = rune(binary.LittleEndian.Uint32(data[pos : pos+4]))
		pos += 4
	} else {
		if len(data) < pos+1 {
			return vt.Cell{}, 0, errors.New("buffer payload truncated at codepoint")
		}
		r = rune(data[pos])
		pos++
	}

	fgMode := vt.ColorMode((typeByte & fgModeMask) >> fgModeShift)
	fg, n, err := decodeColor(data[pos:], fgMode)
	if err != nil {
		return vt.Cell{}, 0, err
	}
	pos += n

	bgMode := vt.ColorMode((typeByte & bgModeMask) >> bgModeShift)
	bg, n, err := decodeColor(data[pos:], bgMode)
	if err != nil {
		return vt.Cell{}, 0, err
	}
	pos += n

	var attrs vt.Attrs
	if typeByte&typeHasAttrs != 0 {
		if len(data) < pos+1 {
			return vt.Cell{}, 0, errors.New("buffer payload truncated at attrs byte")
		}
		attrs = vt.Attrs(data[pos])
		pos++
	}

	return vt.Cell{Rune: r, FG: fg, BG: bg, Attrs: attrs}, pos, nil
}

func decodeColor(data []byte, mode vt.ColorMode) (vt.Color, int, error) {
	switch mode {
	case vt.ColorDefault:
		return vt.Color{}, 0, nil
	case vt.ColorIndexed:
		if len(data) < 1 {
			return vt.Color{}, 0, errors.New("buffer payload truncated at indexed color")
		}
		return vt.Color{Mode: vt.ColorIndexed, Index: data[0]}, 1, nil
	case vt.ColorRGB:
		if len(data) < 3 {
			return vt.Color{}, 0, errors.New("buffer payload truncated at rgb color")
		}
		return vt.Color{Mode: vt.ColorRGB, R: data[0], G: data[1], B: data[2]}, 3, nil
	}
	return vt.Color{}, 0, fmt.Errorf("unknown color mode %d", mode)
}

// EncodeFrame wraps a BufferPayload in the WS binary frame format: magic
// byte, idLen, sessionId, payload.
func EncodeFrame(sessionID string, payload []byte) ([]byte, error) {
	if len(sessionID) > maxIDLen {
		return nil, fmt.Errorf("sessionId longer than %d bytes", maxIDLen)
	}
	frame := make([]byte, 0, 2+len(sessionID)+len(payload))
	frame = append(frame, frameMagic, byte(len(sessionID)))
	frame = append(frame, sessionID...)
	frame = append(frame, payload...)
	return frame, nil
}

// DecodeFrame parses the WS binary frame wrapper, returning the session id
// and the raw BufferPayload bytes.
func DecodeFrame(frame []byte) (sessionID string, payload []byte, err error) {
	if len(frame) < 2 || frame[0] != frameMagic {
		return "", nil, errors.New("bad frame magic")
	}
	idLen := int(frame[1])
	if idLen > maxIDLen {
		return "", nil, errors.New("idLen exceeds 64 bytes")
	}
	if len(frame) < 2+idLen {
		return "", nil, errors.New("frame truncated before sessionId")
	}
	sessionID = string(frame[2 : 2+idLen])
	payload = frame[2+idLen:]
	return sessionID, payload, nil
}
