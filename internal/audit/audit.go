// Package audit defines the audit sink consumed by the handoff engine.
// Entries are fire-and-forget from the engine's perspective: emission
// failures are logged by the caller, never propagated.
package audit

import (
	"context"
	"sync"
	"time"
)

// Entry is one audit event: who did what, with the record state before and
// after.
type Entry struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Before any       `json:"before,omitempty"`
	After  any       `json:"after,omitempty"`
	At     time.Time `json:"at"`
}

// Sink accepts audit entries.
type Sink interface {
	Emit(ctx context.Context, entry Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Emit(context.Context, Entry) error { return nil }

// Memory retains entries in process memory. Used by tests and ephemeral runs.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemory constructs an empty in-memory sink.
func NewMemory() *Memory { return &Memory{} }

// Emit appends the entry.
func (m *Memory) Emit(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns a copy of everything emitted so far.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
