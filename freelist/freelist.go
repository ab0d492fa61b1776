// Package freelist implements the §4.2 Carrier Allocator: an ordered set of
// public sectors currently free to host hidden ciphertext, supporting
// allocation of a contiguous run of N carriers.
package freelist

import (
	"sort"
	"sync"

	"github.com/sandeepkiranp/pd-linux/dmerr"
)

// run is a maximal contiguous range of free sectors [Start, Start+Len).
type run struct {
	Start uint64
	Len   uint64
}

// List is the Carrier Allocator. One mutex guards the whole structure: §5
// mandates "one writer at a time (a single lock protects the list)".
type List struct {
	mu   sync.Mutex
	runs []run // kept sorted by Start, non-overlapping, non-adjacent (coalesced)
}

// New returns an empty free list.
func New() *List {
	return &List{}
}

// Add marks sector as free. It is idempotent (adding an already-free sector
// is a no-op) and coalesces with an adjacent run when present, per
// SPEC_FULL.md §12's free-list-coalescing supplement.
func (l *List) Add(sector uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(sector, 1)
}

// AddRange marks [start, start+count) as free, coalescing with neighbors.
func (l *List) AddRange(start, count uint64) {
	if count == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.addLocked(start, count)
}

func (l *List) addLocked(start, count uint64) {
	end := start + count

	// Find insertion point and merge with any overlapping/adjacent runs.
	i := sort.Search(len(l.runs), func(i int) bool { return l.runs[i].Start >= start })

	// Merge with the run immediately before, if adjacent or overlapping.
	if i > 0 {
		prev := l.runs[i-1]
		if prev.Start+prev.Len >= start {
			if prev.Start < start {
				start = prev.Start
			}
			if prev.Start+prev.Len > end {
				end = prev.Start + prev.Len
			}
			i--
			l.runs = append(l.runs[:i], l.runs[i+1:]...)
		}
	}

	// Absorb any following runs now covered or adjacent.
	for i < len(l.runs) && l.runs[i].Start <= end {
		if l.runs[i].Start+l.runs[i].Len > end {
			end = l.runs[i].Start + l.runs[i].Len
		}
		l.runs = append(l.runs[:i], l.runs[i+1:]...)
	}

	newRun := run{Start: start, Len: end - start}
	l.runs = append(l.runs, run{})
	copy(l.runs[i+1:], l.runs[i:])
	l.runs[i] = newRun
}

// AllocateRun finds the lowest-numbered maximal run of count consecutive
// free sectors, unlinks it, and returns its starting sector. It fails with
// dmerr.ErrNoCarriers when no run of that size exists.
func (l *List) AllocateRun(count uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, r := range l.runs {
		if r.Len >= count {
			start := r.Start
			if r.Len == count {
				l.runs = append(l.runs[:i], l.runs[i+1:]...)
			} else {
				l.runs[i].Start += count
				l.runs[i].Len -= count
			}
			return start, nil
		}
	}
	return 0, dmerr.ErrNoCarriers
}

// Remove deletes [start, start+count) from the free list if present, used
// when a reuse write claims a range that a concurrent public write had
// already freed (§9 open question: reuse wins).
func (l *List) Remove(start, count uint64) {
	if count == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	end := start + count

	var out []run
	for _, r := range l.runs {
		rEnd := r.Start + r.Len
		if rEnd <= start || r.Start >= end {
			out = append(out, r)
			continue
		}
		if r.Start < start {
			out = append(out, run{Start: r.Start, Len: start - r.Start})
		}
		if rEnd > end {
			out = append(out, run{Start: end, Len: rEnd - end})
		}
	}
	l.runs = out
}

// Contains reports whether every sector in [start, start+count) is
// currently free. Used by tests to check the §8 carrier-exclusivity
// invariant.
func (l *List) Contains(start, count uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	end := start + count
	for _, r := range l.runs {
		if r.Start <= start && end <= r.Start+r.Len {
			return true
		}
	}
	return false
}

// Len returns the total number of free sectors currently tracked.
func (l *List) Len() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var total uint64
	for _, r := range l.runs {
		total += r.Len
	}
	return total
}
