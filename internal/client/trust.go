package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TrustStatus is the local verification state of a peer
type TrustStatus string

const (
	TrustUnverified TrustStatus = "unverified"
	TrustVerified   TrustStatus = "verified"
	// TrustStale means the peer was verified under a different safety number
	TrustStale TrustStatus = "stale"
)

type trustRecord struct {
	Fingerprint string    `json:"fingerprint"`
	VerifiedAt  time.Time `json:"verified_at"`
}

// TrustStore remembers which safety numbers the user compared out of band.
// The decision is bound to the fingerprint, so a changed key needs a new
// comparison.
type TrustStore struct {
	mu      sync.RWMutex
	path    string
	records map[uuid.UUID]trustRecord
}

// NewTrustStore loads decisions from path. An empty path keeps them in
// memory only.
func NewTrustStore(path string) (*TrustStore, error) {
	ts := &TrustStore{path: path, records: make(map[uuid.UUID]trustRecord)}
	if path == "" {
		return ts, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ts, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trust store: %w", err)
	}
	if err := json.Unmarshal(data, &ts.records); err != nil {
		return nil, fmt.Errorf("failed to parse trust store: %w", err)
	}
	return ts, nil
}

// MarkVerified records that the user confirmed fingerprint for peerID
func (ts *TrustStore) MarkVerified(peerID uuid.UUID, fingerprint string) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.records[peerID] = trustRecord{Fingerprint: fingerprint, VerifiedAt: time.Now().UTC()}
	return ts.saveLocked()
}

// Forget removes the decision for peerID
func (ts *TrustStore) Forget(peerID uuid.UUID) error {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	delete(ts.records, peerID)
	return ts.saveLocked()
}

// Status compares the current fingerprint with the recorded one
func (ts *TrustStore) Status(peerID uuid.UUID, fingerprint string) TrustStatus {
	ts.mu.RLock()
	defer ts.mu.RUnlock()

	rec, ok := ts.records[peerID]
	switch {
	case !ok:
		return TrustUnverified
	case rec.Fingerprint == fingerprint:
		return TrustVerified
	default:
		return TrustStale
	}
}

func (ts *TrustStore) saveLocked() error {
	if ts.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(ts.records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trust store: %w", err)
	}
	if err := os.WriteFile(ts.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write trust store: %w", err)
	}
	return nil
}
