// Package carrierio implements the mechanical core shared by the hidden
// write/read pipelines and the persistent B+ tree's own node storage: given
// a carrier run's starting physical sector, splice a 512-byte plaintext
// into the run's IV slots (§4.1, §4.5) or reassemble it back out (§4.6).
// Neither the Hidden-Sector Map nor the B+ Tree is touched here — this
// package only knows how to read and write the steganographic bytes of one
// carrier run; its two callers (package pipeline for ordinary hidden
// sectors, package bptree for tree nodes, per §4.4 "stored by using the
// hidden-write path recursively") each layer their own bookkeeping on top.
package carrierio

import (
	"context"
	"fmt"

	"github.com/sandeepkiranp/pd-linux/cipher"
	"github.com/sandeepkiranp/pd-linux/device"
	"github.com/sandeepkiranp/pd-linux/ivgen"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

// Codec bundles the collaborators named as external in §1: the backing
// device, the hidden key's slot cipher, and the per-slot IV generator. The
// hidden write pipeline always uses the "plain" IV generator over the
// carrier sector number (§4.5 step 4); Gen is still injectable so tests (and
// any future family choice) aren't hard-wired to one implementation.
type Codec struct {
	Dev  device.Device
	Key  []byte
	Slot cipher.SlotCipher
	Gen  ivgen.Generator
}

// PublicCounters holds the pre-existing public_counter value for each of the
// ivslot.N carriers in a run, read back by ReadRun and threaded through to
// WriteRun so a reuse write preserves them (§4.5 step 3) while a fresh
// allocation starts them at zero.
type PublicCounters [ivslot.N]uint16

// ReadRun reads and decrypts the ivslot.N carrier tags starting at head,
// validates that they form one consistent carrier run (every offset present,
// in order, magic-tagged), and reassembles the 512-byte plaintext plus the
// head's logical-sector/sequence fields and each slot's public_counter.
func (c *Codec) ReadRun(ctx context.Context, head uint64) (plaintext []byte, logicalSector uint32, sequence uint16, counters PublicCounters, err error) {
	var chunks [ivslot.N][]byte
	for i := 0; i < ivslot.N; i++ {
		sector := head + uint64(i)
		cipherTag, rerr := c.Dev.ReadTag(ctx, sector)
		if rerr != nil {
			return nil, 0, 0, counters, fmt.Errorf("carrierio: reading tag at sector %d: %w", sector, rerr)
		}
		iv, gerr := c.Gen.Generate(sector)
		if gerr != nil {
			return nil, 0, 0, counters, fmt.Errorf("carrierio: generating iv for sector %d: %w", sector, gerr)
		}
		plainTag, derr := c.Slot.DecryptSlot(c.Key, iv, cipherTag)
		if derr != nil {
			return nil, 0, 0, counters, fmt.Errorf("carrierio: decrypting tag at sector %d: %w", sector, derr)
		}
		if !ivslot.IsCarrier(plainTag) {
			return nil, 0, 0, counters, fmt.Errorf("carrierio: sector %d (offset %d) is not a live carrier", sector, i)
		}
		decoded, ok := ivslot.Unpack(plainTag)
		if !ok || int(decoded.Offset) != i {
			return nil, 0, 0, counters, fmt.Errorf("carrierio: sector %d has unexpected offset", sector)
		}
		if i == 0 {
			logicalSector = decoded.LogicalSector
			sequence = decoded.Sequence
		} else if decoded.Sequence != sequence {
			return nil, 0, 0, counters, fmt.Errorf("carrierio: sector %d sequence %d disagrees with head sequence %d", sector, decoded.Sequence, sequence)
		}
		counters[i] = decoded.PublicCounter
		chunks[i] = decoded.Payload
	}

	plaintext, err = ivslot.Reassemble(chunks)
	if err != nil {
		return nil, 0, 0, counters, fmt.Errorf("carrierio: %w", err)
	}
	return plaintext, logicalSector, sequence, counters, nil
}

// WriteRun splices plaintext into the ivslot.N carriers starting at head,
// stamping logicalSector and sequence into the head IV, and encrypts/writes
// each tag back to the device. counters supplies the public_counter to
// preserve per offset (pass a zero PublicCounters for a freshly-allocated
// run, per §4.5 step 3).
func (c *Codec) WriteRun(ctx context.Context, head uint64, plaintext []byte, logicalSector uint32, sequence uint16, counters PublicCounters) error {
	chunks, err := ivslot.Splice(plaintext)
	if err != nil {
		return fmt.Errorf("carrierio: %w", err)
	}

	for i := 0; i < ivslot.N; i++ {
		sector := head + uint64(i)

		var plainTag [ivslot.Size]byte
		if i == 0 {
			var head6 [ivslot.HeadPayloadLen]byte
			copy(head6[:], chunks[0])
			plainTag = ivslot.PackHead(head6, logicalSector, sequence, counters[0])
		} else {
			var tail10 [ivslot.TailPayloadLen]byte
			copy(tail10[:], chunks[i])
			plainTag = ivslot.PackTail(tail10, uint8(i), sequence, counters[i])
		}

		iv, gerr := c.Gen.Generate(sector)
		if gerr != nil {
			return fmt.Errorf("carrierio: generating iv for sector %d: %w", sector, gerr)
		}
		cipherTag, eerr := c.Slot.EncryptSlot(c.Key, iv, plainTag)
		if eerr != nil {
			return fmt.Errorf("carrierio: encrypting tag for sector %d: %w", sector, eerr)
		}
		if werr := c.Dev.WriteTag(ctx, sector, cipherTag); werr != nil {
			return fmt.Errorf("carrierio: writing tag at sector %d: %w", sector, werr)
		}
	}
	return nil
}
