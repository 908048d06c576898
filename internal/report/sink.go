package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
)

// Sink is the append-only boundary to results storage. The harness never
// reads results back.
type Sink interface {
	Emit(result Result) error
	Close() error
}

// JSONLSink appends one self-describing JSON line per result to a file, the
// format the external results store ingests.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	out  io.Writer
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open results file: %w", err)
	}
	return &JSONLSink{file: file, out: file}, nil
}

// NewJSONLWriterSink writes to an arbitrary writer; used by tests and for
// piping results to stdout.
func NewJSONLWriterSink(w io.Writer) *JSONLSink {
	return &JSONLSink{out: w}
}

func (s *JSONLSink) Emit(result Result) error {
	line, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

func (s *JSONLSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// MultiSink fans one result out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(result Result) error {
	for _, sink := range m {
		if err := sink.Emit(result); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiSink) Close() error {
	var firstErr error
	for _, sink := range m {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
