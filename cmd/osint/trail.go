package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/helixir/osint-research-service/internal/research"
)

// fileTrail appends audit events to a JSON Lines file, one event per line.
type fileTrail struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
}

func createFileTrail(path string) (*fileTrail, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create audit file: %w", err)
	}
	return &fileTrail{f: f, enc: json.NewEncoder(f)}, nil
}

// Append implements research.AuditSink.
func (t *fileTrail) Append(_ context.Context, ev research.AuditEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enc.Encode(ev); err != nil {
		return fmt.Errorf("write audit event %d: %w", ev.Sequence, err)
	}
	return nil
}

// Flush implements research.Flusher.
func (t *fileTrail) Flush(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.f.Sync()
}

func (t *fileTrail) Close() error {
	return t.f.Close()
}

// readTrail decodes a JSON Lines audit trail.
func readTrail(r io.Reader) ([]research.AuditEvent, error) {
	var events []research.AuditEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var ev research.AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return events, nil
}
