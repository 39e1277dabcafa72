package castfile

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
)

// Record is a decoded CastRecord line. Output carries the string
// payload for both "o" and "i" records; Resize carries the "COLSxROWS" string for
// "r" records; ExitCode/ExitSessionID are set only for the terminal
// "exit" record.
type Record struct {
	Time           float64
	Kind           string // "o", "i", "r", or "exit"
	Output         string
	Resize         string
	ExitCode       int
	ExitSessionID  string
}

// IsExit reports whether this record is the terminal exit record.
func (r Record) IsExit() bool { return r.Kind == "exit" }

// ParseLine decodes one JSON line of a cast file body (not the header) into
// a Record.
func ParseLine(line []byte) (Record, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return Record{}, err
	}
	if len(raw) == 0 {
		return Record{}, errors.New("empty cast record")
	}
	var first string
	if err := json.Unmarshal(raw[0], &first); err == nil && first == "exit" {
		if len(raw) != 3 {
			return Record{}, errors.New("malformed exit record")
		}
		rec := Record{Kind: "exit"}
		if err := json.Unmarshal(raw[1], &rec.ExitCode); err != nil {
			return Record{}, err
		}
		if err := json.Unmarshal(raw[2], &rec.ExitSessionID); err != nil {
			return Record{}, err
		}
		return rec, nil
	}

	if len(raw) != 3 {
		return Record{}, errors.New("malformed cast record")
	}
	var t float64
	if err := json.Unmarshal(raw[0], &t); err != nil {
		return Record{}, err
	}
	var kind string
	if err := json.Unmarshal(raw[1], &kind); err != nil {
		return Record{}, err
	}
	var payload string
	if err := json.Unmarshal(raw[2], &payload); err != nil {
		return Record{}, err
	}
	rec := Record{Time: t, Kind: kind}
	switch kind {
	case "o":
		rec.Output = payload
	case "i":
		rec.Output = payload
	case "r":
		rec.Resize = payload
	}
	return rec, nil
}

// ReadAll reads header + every body record from path. Used by callers that
// need the whole file at once (e.g. the Session Manager's zombie reaper,
// which checks for an exit record); the Stream Watcher uses the lower-level offset tail in internal/stream
// instead so it never has to re-read from the start.
func ReadAll(path string) (Header, []Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Header{}, nil, err
		}
		return Header{}, nil, io.ErrUnexpectedEOF
	}
	var header Header
	if err := json.Unmarshal(bytes.TrimSpace(scanner.Bytes()), &header); err != nil {
		return Header{}, nil, err
	}

	var records []Record
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		rec, err := ParseLine(line)
		if err != nil {
			return header, records, err
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return header, records, err
	}
	return header, records, nil
}
