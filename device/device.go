// Package device defines the underlying block-device contract (§6): plain
// sector I/O plus per-sector tag (IV slot) I/O. The submission/completion
// machinery of a real block layer is explicitly out of scope (§1) — this
// package only names the interface the rest of the module depends on, and
// supplies an in-memory Fake used by every other package's tests.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/sandeepkiranp/pd-linux/ivslot"
)

// Device is the contract a backing block device must satisfy: sector read,
// sector write, per-sector tag read, per-sector tag write, where tag size
// equals ivslot.Size and tag interval equals one sector.
type Device interface {
	// ReadSector returns the ivslot.SectorSize bytes stored at sector.
	ReadSector(ctx context.Context, sector uint64) ([]byte, error)
	// WriteSector stores data (must be ivslot.SectorSize bytes) at sector.
	WriteSector(ctx context.Context, sector uint64, data []byte) error
	// ReadTag returns the 16-byte integrity/IV slot associated with sector.
	ReadTag(ctx context.Context, sector uint64) ([ivslot.Size]byte, error)
	// WriteTag stores the 16-byte integrity/IV slot associated with sector.
	WriteTag(ctx context.Context, sector uint64, tag [ivslot.Size]byte) error
	// SectorCount returns the total number of addressable sectors.
	SectorCount(ctx context.Context) (uint64, error)
}

// Fake is an in-memory Device used by tests across this module. It is not
// part of the spec's core surface; it stands in for the real submission
// layer named as an external collaborator in §1.
type Fake struct {
	mu      sync.RWMutex
	sectors map[uint64][]byte
	tags    map[uint64][ivslot.Size]byte
	count   uint64
}

// NewFake builds a Fake device with count addressable sectors, all zeroed.
func NewFake(count uint64) *Fake {
	return &Fake{
		sectors: make(map[uint64][]byte),
		tags:    make(map[uint64][ivslot.Size]byte),
		count:   count,
	}
}

func (f *Fake) checkBounds(sector uint64) error {
	if sector >= f.count {
		return fmt.Errorf("device: sector %d out of range (count=%d)", sector, f.count)
	}
	return nil
}

func (f *Fake) ReadSector(_ context.Context, sector uint64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkBounds(sector); err != nil {
		return nil, err
	}
	data, ok := f.sectors[sector]
	if !ok {
		return make([]byte, ivslot.SectorSize), nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (f *Fake) WriteSector(_ context.Context, sector uint64, data []byte) error {
	if len(data) != ivslot.SectorSize {
		return fmt.Errorf("device: sector write must be %d bytes, got %d", ivslot.SectorSize, len(data))
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkBounds(sector); err != nil {
		return err
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	f.sectors[sector] = buf
	return nil
}

func (f *Fake) ReadTag(_ context.Context, sector uint64) ([ivslot.Size]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if err := f.checkBounds(sector); err != nil {
		return [ivslot.Size]byte{}, err
	}
	return f.tags[sector], nil
}

func (f *Fake) WriteTag(_ context.Context, sector uint64, tag [ivslot.Size]byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkBounds(sector); err != nil {
		return err
	}
	f.tags[sector] = tag
	return nil
}

func (f *Fake) SectorCount(_ context.Context) (uint64, error) {
	return f.count, nil
}
