package httpapi

import "fmt"

// namedKeys maps the `key` values from spec.md §6's input endpoint to the
// byte sequences a terminal expects for each.
var namedKeys = map[string][]byte{
	"enter":       {'\r'},
	"escape":      {0x1b},
	"backspace":   {0x7f},
	"tab":         {'\t'},
	"shift_tab":   []byte("\x1b[Z"),
	"arrow_up":    []byte("\x1b[A"),
	"arrow_down":  []byte("\x1b[B"),
	"arrow_right": []byte("\x1b[C"),
	"arrow_left":  []byte("\x1b[D"),
	"ctrl_enter":  {'\n'},
	"shift_enter": []byte("\x1b\r"),
	"page_up":     []byte("\x1b[5~"),
	"page_down":   []byte("\x1b[6~"),
	"home":        []byte("\x1b[H"),
	"end":         []byte("\x1b[F"),
	"delete":      []byte("\x1b[3~"),
}

func init() {
	functionKeyFinalByte := map[int]string{
		1: "P", 2: "Q", 3: "R", 4: "S",
	}
	for n := 1; n <= 4; n++ {
		namedKeys[fmt.Sprintf("f%d", n)] = []byte("\x1bO" + functionKeyFinalByte[n])
	}
	// f5 and up use CSI ~ sequences per the classic xterm encoding.
	csiCodes := map[int]int{5: 15, 6: 17, 7: 18, 8: 19, 9: 20, 10: 21, 11: 23, 12: 24}
	for n, code := range csiCodes {
		namedKeys[fmt.Sprintf("f%d", n)] = []byte(fmt.Sprintf("\x1b[%d~", code))
	}
}

// resolveInputBytes turns an inputRequest into raw bytes to write to a
// session's stdin transport. Returns nil for an unrecognized key name.
func resolveInputBytes(req inputRequest) []byte {
	if req.Key != "" {
		b, ok := namedKeys[req.Key]
		if !ok {
			return nil
		}
		return b
	}
	return []byte(req.Text)
}
