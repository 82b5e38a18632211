package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/GoSim-25-26J-441/cdnsim/pkg/models"
)

const maxLineBytes = 1 << 20

// ReadJSONL decodes one log entry per line, skipping blank lines
func ReadJSONL(r io.Reader) ([]models.LogEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	var logs []models.LogEntry
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var entry models.LogEntry
		if err := json.Unmarshal(text, &entry); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		logs = append(logs, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read logs: %w", err)
	}
	return logs, nil
}

// LoadJSONL reads a JSON-lines log file
func LoadJSONL(path string) ([]models.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	defer f.Close()

	logs, err := ReadJSONL(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return logs, nil
}

// WriteJSONL encodes one log entry per line
func WriteJSONL(w io.Writer, logs []models.LogEntry) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for i := range logs {
		if err := enc.Encode(&logs[i]); err != nil {
			return fmt.Errorf("failed to encode entry %d: %w", i, err)
		}
	}
	return bw.Flush()
}
