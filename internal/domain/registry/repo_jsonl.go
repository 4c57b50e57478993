package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventTypeSubmission is the only event type currently written.
const EventTypeSubmission = "patient_submission"

// JSONLEventStore keeps events as one JSON object per line in a single file.
// A mutex serializes writers; the O_APPEND handle keeps each line atomic.
type JSONLEventStore struct {
	path string
	mu   sync.Mutex
}

func NewJSONLEventStore(path string) *JSONLEventStore {
	return &JSONLEventStore{path: path}
}

func (s *JSONLEventStore) Path() string { return s.path }

type storedEventRecord struct {
	EventID   string             `json:"event_id"`
	EventType string             `json:"event_type"`
	CreatedAt string             `json:"created_at"`
	Payload   *PatientSubmission `json:"payload"`
}

func (s *JSONLEventStore) Append(_ context.Context, sub *PatientSubmission) (string, error) {
	eventID := "evt_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	record := storedEventRecord{
		EventID:   eventID,
		EventType: EventTypeSubmission,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Payload:   sub,
	}
	line, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return "", fmt.Errorf("create event store directory: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("open event store: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	return eventID, nil
}

func (s *JSONLEventStore) ReadAll(_ context.Context) ([]StoredEvent, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open event store: %w", err)
	}
	defer f.Close()

	var events []StoredEvent
	skipped := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event StoredEvent
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			skipped++
			continue
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("scan event store: %w", err)
	}
	return events, skipped, nil
}

func (s *JSONLEventStore) Revision() (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "absent", nil
		}
		return "", fmt.Errorf("stat event store: %w", err)
	}
	return fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano()), nil
}
