// Package ivslot implements the steganographic codec for a single per-sector
// IV slot (§4.1 of the design): packing and unpacking hidden payload bytes,
// the logical-sector/sequence head fields, and the public-write counter into
// the fixed 16-byte tag associated with every public sector.
package ivslot

import "encoding/binary"

const (
	// Size is the fixed size, in bytes, of one IV/tag slot.
	Size = 16
	// SectorSize is the fixed size, in bytes, of one logical sector.
	SectorSize = 512

	// HeadPayloadLen is the number of hidden-payload bytes carried by the
	// head IV (iv_offset == 0).
	HeadPayloadLen = 6
	// TailPayloadLen is the number of hidden-payload bytes carried by a
	// tail IV (iv_offset > 0).
	TailPayloadLen = 10

	// N is the fan-out constant: the number of public carrier sectors
	// consumed by one hidden 512-byte sector. ceil((512-6)/10) + 1 = 52.
	N = 52

	// MagicHidden marks a slot as a live hidden-payload carrier.
	MagicHidden byte = 0xAA
	// MagicTree marks hidden-sector content as a B+ tree node: the bptree
	// package writes it into the plaintext right after a node's encoding.
	// The IV slots carrying that node still hold MagicHidden.
	MagicTree byte = 0xBB
)

// byte offsets within the 16-byte slot, shared by head and tail layouts.
const (
	offIVOffset      = 12
	offPublicCounter = 13
	offMagic         = 15
)

// Decoded is the result of unpacking one IV slot, without yet resolving a
// tail IV back to its head (that requires reading another sector and is
// done by ResolveHead or ResolvePublicHead).
type Decoded struct {
	IsHead        bool
	Offset        uint8
	PublicCounter uint16
	Sequence      uint16
	LogicalSector uint32 // only meaningful when IsHead
	Payload       []byte // HeadPayloadLen or TailPayloadLen bytes
}

// PackHead encodes a head IV slot (iv_offset == 0) carrying the first
// HeadPayloadLen bytes of hidden payload plus the logical sector number and
// sequence number.
func PackHead(payload [HeadPayloadLen]byte, logicalSector uint32, sequence, publicCounter uint16) [Size]byte {
	var slot [Size]byte
	copy(slot[0:6], payload[:])
	binary.LittleEndian.PutUint32(slot[6:10], logicalSector)
	binary.LittleEndian.PutUint16(slot[10:12], sequence)
	slot[offIVOffset] = 0
	binary.LittleEndian.PutUint16(slot[offPublicCounter:offPublicCounter+2], publicCounter)
	slot[offMagic] = MagicHidden
	return slot
}

// PackTail encodes a tail IV slot (1 <= offset <= N-1) carrying 10 bytes of
// hidden payload plus the sequence number.
func PackTail(payload [TailPayloadLen]byte, offset uint8, sequence, publicCounter uint16) [Size]byte {
	var slot [Size]byte
	copy(slot[0:10], payload[:])
	binary.LittleEndian.PutUint16(slot[10:12], sequence)
	slot[offIVOffset] = offset
	binary.LittleEndian.PutUint16(slot[offPublicCounter:offPublicCounter+2], publicCounter)
	slot[offMagic] = MagicHidden
	return slot
}

// IsCarrier reports whether slot's magic byte marks it as a hidden carrier.
// It does not validate the chain; a slot can carry the magic byte yet still
// be an invalid or stale carrier (see ResolveHead).
func IsCarrier(slot [Size]byte) bool {
	return slot[offMagic] == MagicHidden
}

// Unpack decodes slot assuming it has already been confirmed to carry
// MagicHidden. ok is false when iv_offset is out of range (>= N); the caller
// must then treat the slot as random, per §4.1.
func Unpack(slot [Size]byte) (d Decoded, ok bool) {
	offset := slot[offIVOffset]
	if offset >= N {
		return Decoded{}, false
	}
	publicCounter := binary.LittleEndian.Uint16(slot[offPublicCounter : offPublicCounter+2])
	if offset == 0 {
		payload := make([]byte, HeadPayloadLen)
		copy(payload, slot[0:6])
		return Decoded{
			IsHead:        true,
			Offset:        0,
			PublicCounter: publicCounter,
			Sequence:      binary.LittleEndian.Uint16(slot[10:12]),
			LogicalSector: binary.LittleEndian.Uint32(slot[6:10]),
			Payload:       payload,
		}, true
	}
	payload := make([]byte, TailPayloadLen)
	copy(payload, slot[0:10])
	return Decoded{
		IsHead:        false,
		Offset:        offset,
		PublicCounter: publicCounter,
		Sequence:      binary.LittleEndian.Uint16(slot[10:12]),
		Payload:       payload,
	}, true
}

// HeadSectorFor returns the physical sector holding the head IV for a slot
// read at sector currentSector with the given iv_offset, and whether that
// computation under-ran (sector_position - iv_offset < 0), in which case the
// slot must be treated as random per §4.1.
func HeadSectorFor(currentSector uint64, offset uint8) (headSector uint64, ok bool) {
	if uint64(offset) > currentSector {
		return 0, false
	}
	return currentSector - uint64(offset), true
}
