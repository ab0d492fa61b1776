// Package hiddenmap implements the §4.3 Hidden-Sector Map: the in-memory
// index from a hidden logical sector to its current public carrier run.
package hiddenmap

import (
	"sync"

	"github.com/sandeepkiranp/pd-linux/freelist"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

// Entry is the value half of the map: the carrier run's first physical
// sector, the monotonic sequence number, and whether the next write should
// reuse this same run rather than allocate a fresh one.
type Entry struct {
	Physical uint64
	Sequence uint16
	Reuse    bool
}

// Map is the Hidden-Sector Map. A single mutex guards read-modify-write,
// per §5's shared-resource policy.
type Map struct {
	mu      sync.Mutex
	entries map[uint32]Entry
}

// New returns an empty Map.
func New() *Map {
	return &Map{entries: make(map[uint32]Entry)}
}

// Find returns the current entry for a hidden logical sector, if any.
func (m *Map) Find(key uint32) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	return e, ok
}

// Insert records a new carrier run for key. When sequenceOverride is nil,
// the new sequence is (existing sequence or 0) + 1, per §4.3. When reuse is
// true, the carrier run is removed from fl (if present there) so that the
// §9 open-question policy "reuse wins over a concurrent Free List add of
// the same sector" holds even under a racing Add.
func (m *Map) Insert(key uint32, physical uint64, sequenceOverride *uint16, reuse bool, fl *freelist.List) Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var sequence uint16
	if sequenceOverride != nil {
		sequence = *sequenceOverride
	} else {
		existing := m.entries[key]
		sequence = existing.Sequence + 1
	}

	e := Entry{Physical: physical, Sequence: sequence, Reuse: reuse}
	m.entries[key] = e

	if reuse && fl != nil {
		fl.Remove(physical, ivslot.N)
	}
	return e
}

// Delete removes key's entry, e.g. when its carriers have been reclaimed by
// a public write (logical delete of the hidden sector).
func (m *Map) Delete(key uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
}

// Rollback restores the previous entry for key (or deletes it if there was
// none), used by the hidden write pipeline when the B+ tree persist step
// fails after the in-memory map was already updated (§4.5 ordering rule).
func (m *Map) Rollback(key uint32, previous Entry, hadPrevious bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if hadPrevious {
		m.entries[key] = previous
	} else {
		delete(m.entries, key)
	}
}

// Snapshot returns a copy of the map's current contents, used by the
// recovery scanner's convergence checks and by tests.
func (m *Map) Snapshot() map[uint32]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uint32]Entry, len(m.entries))
	for k, v := range m.entries {
		out[k] = v
	}
	return out
}

// Len returns the number of live entries.
func (m *Map) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// UpsertMaxSequence is used by the Map Recovery Scanner: it keeps the entry
// with the highest sequence number seen so far for key, per §4.8's ordering
// guarantee. It returns true if this call updated the map.
func (m *Map) UpsertMaxSequence(key uint32, physical uint64, sequence uint16) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.entries[key]
	if ok && existing.Sequence >= sequence {
		return false
	}
	m.entries[key] = Entry{Physical: physical, Sequence: sequence, Reuse: true}
	return true
}
