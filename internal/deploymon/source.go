package deploymon

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
)

// FileSource reads failure events from a JSON file maintained by the
// deployment tooling. A missing file means no pending failures.
type FileSource struct {
	path string
}

// NewFileSource creates a source reading from the given path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// PendingFailures reads and parses the event feed.
func (f *FileSource) PendingFailures(ctx context.Context) ([]FailureEvent, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading event feed: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var events []FailureEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parsing event feed: %w", err)
	}
	return events, nil
}

// StaticSource serves a fixed event list. Used in tests.
type StaticSource struct {
	Events []FailureEvent
	Err    error
}

// PendingFailures returns the configured events.
func (s *StaticSource) PendingFailures(ctx context.Context) ([]FailureEvent, error) {
	return s.Events, s.Err
}
