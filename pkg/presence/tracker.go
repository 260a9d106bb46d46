package presence

import (
	"sync"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// Record is the last-known presence of one user.
type Record struct {
	Status   Status
	LastSeen time.Time
}

// Tracker keeps per-user online/offline state. Updates carry their own
// timestamp and last writer wins: an update older than the stored record is
// dropped, so out-of-order delivery cannot regress a newer status.
type Tracker struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewTracker() *Tracker {
	return &Tracker{records: make(map[string]Record)}
}

// Update applies a presence change. It reports whether the update was
// applied or dropped as stale.
func (t *Tracker) Update(userID string, status Status, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if prev, ok := t.records[userID]; ok && ts.Before(prev.LastSeen) {
		return false
	}
	t.records[userID] = Record{Status: status, LastSeen: ts}
	return true
}

func (t *Tracker) Get(userID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[userID]
	return rec, ok
}

// AllOnline returns the ids of every user currently marked online.
func (t *Tracker) AllOnline() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	online := make([]string, 0, len(t.records))
	for id, rec := range t.records {
		if rec.Status == StatusOnline {
			online = append(online, id)
		}
	}
	return online
}
