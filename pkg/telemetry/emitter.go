package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Emitter journals batches of samples to a sink. Emission is best-effort:
// the feed drops a failed batch and keeps sampling.
type Emitter interface {
	Emit(samples []Sample) error
	Close() error
}

// StdoutEmitter writes JSON lines to stdout (for log aggregation).
type StdoutEmitter struct {
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewStdoutEmitter creates a stdout emitter.
func NewStdoutEmitter() *StdoutEmitter {
	return &StdoutEmitter{
		encoder: json.NewEncoder(os.Stdout),
	}
}

// Emit writes samples as JSON lines to stdout.
func (e *StdoutEmitter) Emit(samples []Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range samples {
		if err := e.encoder.Encode(s); err != nil {
			return fmt.Errorf("telemetry.StdoutEmitter: %w", err)
		}
	}
	return nil
}

// Close is a no-op for stdout.
func (e *StdoutEmitter) Close() error {
	return nil
}

// FileEmitter writes JSON lines to a file.
type FileEmitter struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileEmitter creates a file emitter that writes JSONL to the given path.
func NewFileEmitter(path string) (*FileEmitter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("telemetry.NewFileEmitter: %w", err)
	}
	return &FileEmitter{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Emit writes samples as JSON lines to file.
func (e *FileEmitter) Emit(samples []Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range samples {
		if err := e.encoder.Encode(s); err != nil {
			return fmt.Errorf("telemetry.FileEmitter: %w", err)
		}
	}
	return nil
}

// Close closes the file.
func (e *FileEmitter) Close() error {
	return e.file.Close()
}

// NopEmitter discards all samples.
type NopEmitter struct{}

// NewNopEmitter creates a no-op emitter.
func NewNopEmitter() *NopEmitter {
	return &NopEmitter{}
}

// Emit discards samples.
func (e *NopEmitter) Emit(samples []Sample) error {
	return nil
}

// Close is a no-op.
func (e *NopEmitter) Close() error {
	return nil
}

// MemoryEmitter stores samples in memory (for testing).
type MemoryEmitter struct {
	mu      sync.Mutex
	samples []Sample
}

// NewMemoryEmitter creates a memory-backed emitter.
func NewMemoryEmitter() *MemoryEmitter {
	return &MemoryEmitter{}
}

// Emit stores samples.
func (e *MemoryEmitter) Emit(samples []Sample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples = append(e.samples, samples...)
	return nil
}

// Close is a no-op.
func (e *MemoryEmitter) Close() error {
	return nil
}

// Samples returns all stored samples.
func (e *MemoryEmitter) Samples() []Sample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Sample, len(e.samples))
	copy(out, e.samples)
	return out
}

// Len returns the number of stored samples.
func (e *MemoryEmitter) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.samples)
}
