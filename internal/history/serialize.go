package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// Marshal renders events as a JSON array in index order, one line,
// trailing newline. Key order within each event is fixed (type, f, value,
// process, index) so output is byte-stable for golden files and for
// checkers that diff histories.
func Marshal(events []Event) ([]byte, error) {
	if events == nil {
		events = []Event{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(events); err != nil {
		return nil, fmt.Errorf("marshal history: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile serializes events and writes them to path, replacing any
// existing file. This is the file format the external checker consumes.
func WriteFile(path string, events []Event) error {
	data, err := Marshal(events)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}
