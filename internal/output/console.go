package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

const (
	FormatText   = "text"
	FormatJSON   = "json"
	FormatNDJSON = "ndjson"
)

// ConsoleSink prints results as colored text, a single JSON array written on
// Close, or one NDJSON event per line.
type ConsoleSink struct {
	writer io.Writer
	format string
	mu     sync.Mutex
	values []any
}

func NewConsoleSink(w io.Writer, format string) (*ConsoleSink, error) {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = FormatText
	}
	switch format {
	case FormatText, FormatJSON, FormatNDJSON:
	default:
		return nil, fmt.Errorf("unsupported console format: %s (must be one of: text, json, ndjson)", format)
	}
	return &ConsoleSink{writer: w, format: format}, nil
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case FormatJSON:
		if _, ok := eventFor(v); !ok {
			return nil
		}
		s.values = append(s.values, v)
		return nil
	case FormatNDJSON:
		e, ok := eventFor(v)
		if !ok {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(e); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		if err := writeText(s.writer, v); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.format != FormatJSON {
		return nil
	}
	values := s.values
	if values == nil {
		values = []any{}
	}
	encoder := json.NewEncoder(s.writer)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(values); err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}
