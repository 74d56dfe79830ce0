package link

import (
	"bytes"
	"sync"

	"github.com/MisterPeModder/SensorSensei/internal/metrics"
)

// Record maps one enrolled fingerprint to its assigned id.
type Record struct {
	Fingerprint []byte `json:"fingerprint"`
	ID          uint8  `json:"id"`
}

// Table is the gateway's authoritative fingerprint->id mapping. One table
// exists per gateway process; all enrollment requests funnel through it, so
// access is serialized by a single mutex.
type Table struct {
	mu      sync.Mutex
	records []Record // unique by fingerprint
	lastID  uint8    // most recently issued id, 0 if none yet
	store   Store
}

// NewTable creates an empty table. If store is non-nil, previously persisted
// records are restored and every mutation is written back.
func NewTable(store Store) (*Table, error) {
	t := &Table{store: store}
	if store != nil {
		recs, last, err := store.Load()
		if err != nil {
			return nil, err
		}
		t.records = recs
		t.lastID = last
	}
	return t, nil
}

// Resolve returns the id for fingerprint, enrolling it if needed.
//
// Policy, in order:
//  1. A known fingerprint keeps its id.
//  2. Otherwise the lowest unused id in 1..15 is assigned.
//  3. With all 15 ids taken, the most recently issued id is reassigned to
//     the new fingerprint and its previous holder is silently evicted. The
//     evicted client only notices through later signature mismatches and
//     re-enrolls.
//
// evicted reports whether case 3 occurred.
func (t *Table) Resolve(fingerprint []byte) (id uint8, evicted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.records {
		if bytes.Equal(t.records[i].Fingerprint, fingerprint) {
			return t.records[i].ID, false
		}
	}

	fp := make([]byte, len(fingerprint))
	copy(fp, fingerprint)

	if id = t.lowestUnusedLocked(); id != 0 {
		t.records = append(t.records, Record{Fingerprint: fp, ID: id})
		t.lastID = id
		t.persistLocked()
		return id, false
	}

	// Table full: evict the holder of the most recently issued id.
	id = t.lastID
	for i := range t.records {
		if t.records[i].ID == id {
			t.records[i].Fingerprint = fp
			break
		}
	}
	metrics.IncEviction()
	t.persistLocked()
	return id, true
}

// Lookup returns the fingerprint enrolled under id.
func (t *Table) Lookup(id uint8) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.records {
		if t.records[i].ID == id {
			fp := make([]byte, len(t.records[i].Fingerprint))
			copy(fp, t.records[i].Fingerprint)
			return fp, true
		}
	}
	return nil, false
}

// Len returns the number of enrolled fingerprints.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Snapshot returns a copy of all records, for diagnostics.
func (t *Table) Snapshot() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.records))
	for i, r := range t.records {
		fp := make([]byte, len(r.Fingerprint))
		copy(fp, r.Fingerprint)
		out[i] = Record{Fingerprint: fp, ID: r.ID}
	}
	return out
}

func (t *Table) lowestUnusedLocked() uint8 {
	var used [MaxID + 1]bool
	for i := range t.records {
		used[t.records[i].ID] = true
	}
	for id := uint8(1); id <= MaxID; id++ {
		if !used[id] {
			return id
		}
	}
	return 0
}

func (t *Table) persistLocked() {
	if t.store == nil {
		return
	}
	if err := t.store.Save(t.records, t.lastID); err != nil {
		metrics.IncError(metrics.ErrTablePerist)
	}
}
