package pipeline

import (
	"context"
	"fmt"

	"github.com/sandeepkiranp/pd-linux/cipher"
	"github.com/sandeepkiranp/pd-linux/dirtyset"
	"github.com/sandeepkiranp/pd-linux/dmerr"
	"github.com/sandeepkiranp/pd-linux/ivslot"
)

// PublicWrite implements §4.7 for one sector: the Public Write Pipeline.
func (p *Pipeline) PublicWrite(ctx context.Context, sector uint64, plaintext []byte) error {
	return p.PublicWriteBatch(ctx, []uint64{sector}, [][]byte{plaintext})
}

// PublicWriteBatch implements §4.7 across a batch of sectors sharing one
// Dirty-Public-Set pass, so a carrier whose public_counter was already
// bumped earlier in the batch isn't bumped a second time (§3). Per-sector
// failures are latched via dmerr.Latch: the batch keeps draining every
// sector, and the first error encountered is what's returned once draining
// completes.
func (p *Pipeline) PublicWriteBatch(ctx context.Context, sectors []uint64, plaintexts [][]byte) error {
	if len(sectors) != len(plaintexts) {
		return fmt.Errorf("pipeline: public write batch: %d sectors but %d plaintexts", len(sectors), len(plaintexts))
	}

	dirty := dirtyset.New()
	defer dirty.Drain()

	var latch dmerr.Latch
	latch.Add(len(sectors))

	var finalErr error
	for i, sector := range sectors {
		err := p.publicWriteSector(ctx, sector, plaintexts[i], dirty)
		latch.Fail(err)
		if latched := latch.Done(); latched != nil {
			finalErr = latched
		}
	}
	return finalErr
}

// publicWriteSector resolves whether sector currently belongs to a live
// hidden carrier chain (head or tail, resolved to the chain's head) and, if
// so, preserves it (bumping public_counter)
// rather than overwriting it with the incoming plaintext's public data.
// Resolution here uses ivslot.ResolvePublicHead, not ResolveHead: the
// two-tail public_counter agreement ResolveHead enforces is a recovery-time
// check, and preserving a carrier intentionally desyncs one slot's counter
// from its siblings, so requiring tail agreement on this path would reclaim
// a live carrier on its very next public write.
func (p *Pipeline) publicWriteSector(ctx context.Context, sector uint64, plaintext []byte, dirty *dirtyset.Set) error {
	rs := p.enter()
	defer p.leave()
	defer rs.done()

	if len(plaintext) != ivslot.SectorSize {
		err := fmt.Errorf("pipeline: public write sector %d: plaintext must be %d bytes, got %d", sector, ivslot.SectorSize, len(plaintext))
		rs.fail(err)
		return err
	}

	rs.advance(stagePreRead)
	slot, err := p.readDecryptedSlot(ctx, sector)
	if err != nil {
		rs.fail(err)
		return fmt.Errorf("pipeline: public write sector %d: reading iv slot: %w", sector, err)
	}

	headSector, head, resolved, err := ivslot.ResolvePublicHead(sector, slot, func(s uint64) ([ivslot.Size]byte, error) {
		return p.readDecryptedSlot(ctx, s)
	})
	if err != nil {
		rs.fail(err)
		return fmt.Errorf("pipeline: public write sector %d: resolving carrier chain: %w", sector, err)
	}

	live := false
	if resolved {
		if entry, ok := p.Map.Find(head.LogicalSector); ok && entry.Physical == headSector && entry.Sequence == head.Sequence {
			live = true
		}
	}

	rs.advance(stageSplice)
	if live {
		if err := p.preserveCarrier(ctx, sector, slot, dirty); err != nil {
			rs.fail(err)
			return fmt.Errorf("pipeline: public write sector %d: preserving carrier: %w", sector, err)
		}
		if p.Metrics != nil {
			p.Metrics.CarrierPreserved()
		}
	} else if ivslot.IsCarrier(slot) {
		// Carries the magic byte but failed chain validation (stale,
		// orphaned, or noise): reclaim it like any other freed carrier.
		if err := p.reclaimCarrier(ctx, sector, dirty); err != nil {
			rs.fail(err)
			return fmt.Errorf("pipeline: public write sector %d: reclaiming carrier: %w", sector, err)
		}
		if p.Metrics != nil {
			p.Metrics.CarrierFreed()
		}
	}

	rs.advance(stageEncrypt)
	ciphertext, err := p.encryptPublicPayload(sector, plaintext)
	if err != nil {
		rs.fail(err)
		return fmt.Errorf("pipeline: public write sector %d: encrypting payload: %w", sector, err)
	}

	rs.advance(stageSubmit)
	if err := p.Dev.WriteSector(ctx, sector, ciphertext); err != nil {
		rs.fail(err)
		return fmt.Errorf("pipeline: public write sector %d: %w", sector, err)
	}

	if p.Metrics != nil {
		p.Metrics.PublicWrite()
	}
	return nil
}

// preserveCarrier bumps slot's public_counter in place (leaving its payload,
// offset, and sequence untouched) unless this sector was already bumped
// earlier in the same batch pass.
func (p *Pipeline) preserveCarrier(ctx context.Context, sector uint64, slot [ivslot.Size]byte, dirty *dirtyset.Set) error {
	if dirty.Contains(sector) {
		return nil
	}
	decoded, ok := ivslot.Unpack(slot)
	if !ok {
		return fmt.Errorf("pipeline: sector %d: carrier slot failed to unpack", sector)
	}

	bumped := decoded.PublicCounter + 1
	var newSlot [ivslot.Size]byte
	if decoded.IsHead {
		var head6 [ivslot.HeadPayloadLen]byte
		copy(head6[:], decoded.Payload)
		newSlot = ivslot.PackHead(head6, decoded.LogicalSector, decoded.Sequence, bumped)
	} else {
		var tail10 [ivslot.TailPayloadLen]byte
		copy(tail10[:], decoded.Payload)
		newSlot = ivslot.PackTail(tail10, decoded.Offset, decoded.Sequence, bumped)
	}

	if err := p.writeEncryptedSlot(ctx, sector, newSlot); err != nil {
		return err
	}
	dirty.Mark(sector)
	return nil
}

// reclaimCarrier overwrites sector's tag slot with fresh random bytes and
// returns it to the free list (§4.7 step 3: a reclaimed carrier must be
// indistinguishable from a sector that was never a carrier at all).
func (p *Pipeline) reclaimCarrier(ctx context.Context, sector uint64, dirty *dirtyset.Set) error {
	random, err := cipher.RandomBytes(ivslot.Size)
	if err != nil {
		return err
	}
	var tag [ivslot.Size]byte
	copy(tag[:], random)
	if err := p.Dev.WriteTag(ctx, sector, tag); err != nil {
		return fmt.Errorf("pipeline: writing randomized tag: %w", err)
	}
	p.Free.Add(sector)
	dirty.Unmark(sector)
	return nil
}

// readDecryptedSlot reads sector's tag and decrypts it under the hidden key,
// the same view ivslot.ResolvePublicHead needs to walk a carrier chain.
func (p *Pipeline) readDecryptedSlot(ctx context.Context, sector uint64) ([ivslot.Size]byte, error) {
	cipherTag, err := p.Dev.ReadTag(ctx, sector)
	if err != nil {
		return [ivslot.Size]byte{}, err
	}
	iv, err := p.Hidden.Gen.Generate(sector)
	if err != nil {
		return [ivslot.Size]byte{}, err
	}
	return p.Hidden.Slot.DecryptSlot(p.Hidden.Key, iv, cipherTag)
}

// writeEncryptedSlot encrypts plainSlot under the hidden key and writes it
// to sector's tag.
func (p *Pipeline) writeEncryptedSlot(ctx context.Context, sector uint64, plainSlot [ivslot.Size]byte) error {
	iv, err := p.Hidden.Gen.Generate(sector)
	if err != nil {
		return err
	}
	cipherTag, err := p.Hidden.Slot.EncryptSlot(p.Hidden.Key, iv, plainSlot)
	if err != nil {
		return err
	}
	return p.Dev.WriteTag(ctx, sector, cipherTag)
}

// encryptPublicPayload protects plaintext under the public key via the
// hidden-engine-enabled stream cipher path: the tag slot is governed by the
// carrier logic above, so there is no room left for a trailing AEAD tag.
func (p *Pipeline) encryptPublicPayload(sector uint64, plaintext []byte) ([]byte, error) {
	nonceSrc, err := p.PublicNonces.Generate(sector)
	if err != nil {
		return nil, err
	}
	return p.PublicData.Encrypt(p.PublicKey, nonceSrc, plaintext)
}

// PublicWriteAEAD writes a public sector under full AES-GCM authentication,
// splitting the sealed output into its sector-sized ciphertext and 16-byte
// tag across the device's two storage areas. It is only safe to use for
// sectors the hidden-sector engine will never claim as a carrier (§6: a
// deployment with store_data_in_integrity_md unset behaves as plain
// dm-crypt+dm-integrity, and every sector's tag slot is free to hold a real
// authentication tag instead of steganographic payload).
func (p *Pipeline) PublicWriteAEAD(ctx context.Context, sector uint64, plaintext []byte) error {
	if len(plaintext) != ivslot.SectorSize {
		return fmt.Errorf("pipeline: public AEAD write sector %d: plaintext must be %d bytes, got %d", sector, ivslot.SectorSize, len(plaintext))
	}
	nonceSrc, err := p.PublicNonces.Generate(sector)
	if err != nil {
		return err
	}
	nonce := nonceSrc[:p.PublicAEAD.NonceSize()]
	sealed, err := p.PublicAEAD.Seal(p.PublicKey, nonce, plaintext)
	if err != nil {
		return fmt.Errorf("pipeline: public AEAD write sector %d: %w", sector, err)
	}
	if len(sealed) != ivslot.SectorSize+ivslot.Size {
		return fmt.Errorf("pipeline: public AEAD write sector %d: unexpected sealed length %d", sector, len(sealed))
	}

	if err := p.Dev.WriteSector(ctx, sector, sealed[:ivslot.SectorSize]); err != nil {
		return fmt.Errorf("pipeline: public AEAD write sector %d: %w", sector, err)
	}
	var tag [ivslot.Size]byte
	copy(tag[:], sealed[ivslot.SectorSize:])
	if err := p.Dev.WriteTag(ctx, sector, tag); err != nil {
		return fmt.Errorf("pipeline: public AEAD write sector %d: %w", sector, err)
	}
	if p.Metrics != nil {
		p.Metrics.PublicWrite()
	}
	return nil
}

// PublicReadAEAD is the read-side counterpart of PublicWriteAEAD.
func (p *Pipeline) PublicReadAEAD(ctx context.Context, sector uint64) ([]byte, error) {
	ciphertext, err := p.Dev.ReadSector(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("pipeline: public AEAD read sector %d: %w", sector, err)
	}
	tag, err := p.Dev.ReadTag(ctx, sector)
	if err != nil {
		return nil, fmt.Errorf("pipeline: public AEAD read sector %d: %w", sector, err)
	}
	sealed := append(append([]byte{}, ciphertext...), tag[:]...)
	nonceSrc, err := p.PublicNonces.Generate(sector)
	if err != nil {
		return nil, err
	}
	nonce := nonceSrc[:p.PublicAEAD.NonceSize()]
	plaintext, err := p.PublicAEAD.Open(p.PublicKey, nonce, sealed)
	if err != nil {
		if p.Metrics != nil {
			p.Metrics.IntegrityFailure()
		}
		return nil, fmt.Errorf("pipeline: public AEAD read sector %d: %w", sector, err)
	}
	return plaintext, nil
}
