// Package dirtyset implements the per-request Dirty-Public-Set (§3, §4.7):
// the sectors whose public_counter has already been bumped during the
// current public-write pipeline pass, preventing a double increment.
package dirtyset

// Set is owned exclusively by the request that created it; there is no
// cross-request sharing (§5), so it needs no internal locking.
type Set struct {
	sectors map[uint64]struct{}
}

// New returns an empty Dirty-Public-Set.
func New() *Set {
	return &Set{sectors: make(map[uint64]struct{})}
}

// Mark adds sector to the set.
func (s *Set) Mark(sector uint64) {
	s.sectors[sector] = struct{}{}
}

// Contains reports whether sector has already been bumped this pass.
func (s *Set) Contains(sector uint64) bool {
	_, ok := s.sectors[sector]
	return ok
}

// Unmark removes sector from the set (used when a sector that had been
// preserved is instead found not to be a live carrier after all).
func (s *Set) Unmark(sector uint64) {
	delete(s.sectors, sector)
}

// Drain empties the set. Must be called at every pipeline exit, success or
// error, per the §9 open-question decision recorded in DESIGN.md.
func (s *Set) Drain() {
	s.sectors = make(map[uint64]struct{})
}

// Len reports how many sectors are currently marked dirty.
func (s *Set) Len() int {
	return len(s.sectors)
}
