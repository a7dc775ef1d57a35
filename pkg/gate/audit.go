package gate

import (
	"log/slog"
	"sync"
	"time"
)

// AuditEntry records one server-side gate evaluation.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Operation string    `json:"operation"`
	FileName  string    `json:"file,omitempty"`
	SessionID string    `json:"session,omitempty"`
	QBER      float64   `json:"qber"`
	Threshold float64   `json:"threshold"`
	Allowed   bool      `json:"allowed"`
	Reason    Reason    `json:"reason"`
}

// AuditLog records gate decisions in a ring buffer.
type AuditLog struct {
	mu      sync.Mutex
	entries []AuditEntry
	maxSize int
	sink    func(AuditEntry) // optional external sink
}

// NewAuditLog creates an audit log with the given ring buffer size.
func NewAuditLog(maxSize int, sink func(AuditEntry)) *AuditLog {
	return &AuditLog{
		entries: make([]AuditEntry, 0, maxSize),
		maxSize: maxSize,
		sink:    sink,
	}
}

// Record appends an audit entry.
func (al *AuditLog) Record(entry AuditEntry) {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.entries = append(al.entries, entry)
	if len(al.entries) > al.maxSize {
		// Trim to maxSize, keeping most recent entries
		al.entries = al.entries[len(al.entries)-al.maxSize:]
	}

	if entry.Allowed {
		slog.Info("Gate allowed",
			"operation", entry.Operation,
			"file", entry.FileName,
			"qber", entry.QBER)
	} else {
		slog.Warn("Gate blocked",
			"operation", entry.Operation,
			"file", entry.FileName,
			"qber", entry.QBER,
			"threshold", entry.Threshold,
			"reason", entry.Reason)
	}

	if al.sink != nil {
		al.sink(entry)
	}
}

// Recent returns the last N entries.
func (al *AuditLog) Recent(limit int) []AuditEntry {
	al.mu.Lock()
	defer al.mu.Unlock()

	if limit > len(al.entries) {
		limit = len(al.entries)
	}
	if limit == 0 {
		return nil
	}
	result := make([]AuditEntry, limit)
	copy(result, al.entries[len(al.entries)-limit:])
	return result
}

// Len returns the current number of entries.
func (al *AuditLog) Len() int {
	al.mu.Lock()
	defer al.mu.Unlock()
	return len(al.entries)
}
