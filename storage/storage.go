// Package storage - Sinks for run-level evaluation metrics.
package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no metrics were stored for a split and model variant.
var ErrNotFound = errors.New("storage: metrics not found")

// Sink persists the metrics of a run, keyed by dataset split and model variant.
type Sink interface {
	// Write stores the metrics, replacing any earlier value under the same key.
	Write(ctx context.Context, split, variant string, metrics any) error
}

// Key returns the "<split>/<variant>" key metrics are stored under.
func Key(split, variant string) string {
	return split + "/" + variant
}

// FileSink keeps a JSON document of the form {split: {variant: metrics}} on disk.
type FileSink struct {
	Path string

	mu sync.Mutex
}

// NewFileSink creates a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{Path: path}
}

// Write merges the metrics into the document under split and variant.
//
// Arguments:
//   - ctx: Unused, the write is local.
//   - split: The dataset split, e.g. "test".
//   - variant: The model variant, e.g. "float32" or "int8".
//   - metrics: Any value jsoniter can encode.
//
// Returns:
//   - error: When the existing document cannot be read or the new one cannot be written.
func (s *FileSink) Write(_ context.Context, split, variant string, metrics any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(metrics)
	if err != nil {
		return errors.Wrap(err, "encode metrics")
	}
	if doc[split] == nil {
		doc[split] = make(map[string]jsoniter.RawMessage)
	}
	doc[split][variant] = raw

	out, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encode metrics document")
	}
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "create %s", dir)
		}
	}
	return errors.Wrapf(os.WriteFile(s.Path, out, 0o644), "write %s", s.Path)
}

// Read decodes the metrics stored under split and variant into out.
func (s *FileSink) Read(split, variant string, out any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}
	raw, ok := doc[split][variant]
	if !ok {
		return errors.Wrap(ErrNotFound, Key(split, variant))
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decode metrics")
}

func (s *FileSink) read() (map[string]map[string]jsoniter.RawMessage, error) {
	doc := make(map[string]map[string]jsoniter.RawMessage)
	data, err := os.ReadFile(s.Path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.Path)
	}
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "decode %s", s.Path)
	}
	return doc, nil
}

// MemorySink keeps metrics in memory. Used by dry runs and tests.
type MemorySink struct {
	mu      sync.Mutex
	entries map[string]any
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{entries: make(map[string]any)}
}

// Write stores the metrics.
func (s *MemorySink) Write(_ context.Context, split, variant string, metrics any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[Key(split, variant)] = metrics
	return nil
}

// Get returns the metrics stored under split and variant.
func (s *MemorySink) Get(split, variant string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[Key(split, variant)]
	return m, ok
}
