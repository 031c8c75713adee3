// Package devicelock enforces that a device fingerprint is held by at most
// one active event at a time.
package devicelock

import (
	"context"
	"encoding/hex"
	"sync"

	"golang.org/x/crypto/blake2b"
)

// Key derives the storage key for a fingerprint. Raw fingerprints never
// leave the process.
func Key(fingerprint string) string {
	sum := blake2b.Sum256([]byte(fingerprint))
	return "livequiz:device:" + hex.EncodeToString(sum[:])
}

// Memory is an in-process lock table for single-node deployments.
type Memory struct {
	mu      sync.Mutex
	holders map[string]string
}

func NewMemory() *Memory {
	return &Memory{holders: make(map[string]string)}
}

// Acquire claims fingerprint for eventID if nobody holds it, and returns
// whoever holds it afterwards.
func (m *Memory) Acquire(_ context.Context, fingerprint, eventID string) (string, error) {
	key := Key(fingerprint)

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.holders[key]; ok {
		return cur, nil
	}
	m.holders[key] = eventID
	return eventID, nil
}

// Release drops the claim only when eventID is the current holder.
func (m *Memory) Release(_ context.Context, fingerprint, eventID string) error {
	key := Key(fingerprint)

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.holders[key] == eventID {
		delete(m.holders, key)
	}
	return nil
}
