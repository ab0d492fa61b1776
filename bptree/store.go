package bptree

import (
	"context"
	"fmt"
	"sync"

	"github.com/sandeepkiranp/pd-linux/carrierio"
	"github.com/sandeepkiranp/pd-linux/freelist"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

// NodeStore is the persistence contract a Tree needs: read a node back from
// its physical sector, write a node either in place (sector != nil) or to a
// freshly allocated carrier run (sector == nil), and release a node's
// carriers once it is no longer referenced. Tests exercise Tree against an
// in-memory fake; DeviceNodeStore is the real implementation used by the
// hidden write pipeline.
type NodeStore interface {
	ReadNode(ctx context.Context, sector uint32) (*Node, error)
	WriteNode(ctx context.Context, sector *uint32, node *Node) (uint32, error)
	FreeNode(ctx context.Context, sector uint32) error
}

// DeviceNodeStore stores nodes the same way the hidden write pipeline stores
// ordinary hidden sectors: spliced across an ivslot.N-carrier run via
// carrierio, allocated from the same Carrier Allocator (§4.4, "stored by
// using the hidden-write path recursively"). It is addressed directly by
// the physical sector of a node's carrier run rather than through the
// Hidden-Sector Map, since the Map is what this tree exists to persist.
type DeviceNodeStore struct {
	Codec *carrierio.Codec
	Free  *freelist.List

	mu  sync.Mutex
	seq map[uint32]uint16
}

// NewDeviceNodeStore builds a DeviceNodeStore over codec, allocating fresh
// node carriers from free.
func NewDeviceNodeStore(codec *carrierio.Codec, free *freelist.List) *DeviceNodeStore {
	return &DeviceNodeStore{Codec: codec, Free: free, seq: make(map[uint32]uint16)}
}

func (s *DeviceNodeStore) nextSequence(sector uint32) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[sector]++
	return s.seq[sector]
}

// ReadNode decodes the node stored in the carrier run headed at sector.
func (s *DeviceNodeStore) ReadNode(ctx context.Context, sector uint32) (*Node, error) {
	plaintext, _, _, _, err := s.Codec.ReadRun(ctx, uint64(sector))
	if err != nil {
		return nil, fmt.Errorf("bptree: reading node at sector %d: %w", sector, err)
	}
	node, ok := decodeNode(plaintext)
	if !ok {
		return nil, fmt.Errorf("bptree: sector %d does not decode to a valid node", sector)
	}
	return node, nil
}

// WriteNode persists node. When sector is non-nil the node is rewritten in
// place, preserving the carrier run's existing public_counter values
// (§4.5 step 3); when nil, a fresh run of ivslot.N carriers is allocated
// from Free. The sector the node now lives at is returned.
func (s *DeviceNodeStore) WriteNode(ctx context.Context, sector *uint32, node *Node) (uint32, error) {
	payload := make([]byte, ivslot.SectorSize)
	copy(payload, node.encode())
	payload[encodedSize] = MagicTreeContent

	if sector != nil {
		_, _, _, counters, err := s.Codec.ReadRun(ctx, uint64(*sector))
		if err != nil {
			counters = carrierio.PublicCounters{}
		}
		seq := s.nextSequence(*sector)
		if err := s.Codec.WriteRun(ctx, uint64(*sector), payload, 0, seq, counters); err != nil {
			return 0, fmt.Errorf("bptree: rewriting node at sector %d: %w", *sector, err)
		}
		return *sector, nil
	}

	head, err := s.Free.AllocateRun(ivslot.N)
	if err != nil {
		return 0, fmt.Errorf("bptree: allocating node carriers: %w", err)
	}
	seq := s.nextSequence(uint32(head))
	var zero carrierio.PublicCounters
	if err := s.Codec.WriteRun(ctx, head, payload, 0, seq, zero); err != nil {
		return 0, fmt.Errorf("bptree: writing new node at sector %d: %w", head, err)
	}
	return uint32(head), nil
}

// FreeNode returns a node's carrier run to the free list once it has been
// merged away and is no longer reachable from the tree.
func (s *DeviceNodeStore) FreeNode(ctx context.Context, sector uint32) error {
	s.Free.AddRange(uint64(sector), ivslot.N)
	return nil
}

// MagicTreeContent marks the byte immediately following a node's 166-byte
// encoding within its carrying hidden sector, distinguishing tree-node
// content from an ordinary hidden sector at the content level (the carrier
// run's own IV slots are still tagged ivslot.MagicHidden like any other
// hidden sector; see DESIGN.md's B+-tree node encoding decision).
const MagicTreeContent = ivslot.MagicTree
