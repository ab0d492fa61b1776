package ivslot

import "fmt"

// SlotReader reads the raw (already-decrypted) 16-byte IV slot at the given
// public sector number.
type SlotReader func(sector uint64) ([Size]byte, error)

// ResolveHead follows a slot read at currentSector back to its carrier run's
// head IV, applying the §4.1 two-tail confirmation rule: the head (offset 0)
// and the tails at offsets 1 and 2 must all carry MagicHidden and share the
// same public_counter, or the chain is rejected as a false positive. A chain
// shorter than 3 carriers cannot be distinguished from noise and is
// discarded, per §9.
//
// valid is false (with a nil error) whenever the slot is not a live,
// validly-signed hidden carrier; err is non-nil only on a genuine I/O
// failure from read.
func ResolveHead(currentSector uint64, slot [Size]byte, read SlotReader) (headSector uint64, head Decoded, valid bool, err error) {
	if !IsCarrier(slot) {
		return 0, Decoded{}, false, nil
	}
	decoded, ok := Unpack(slot)
	if !ok {
		return 0, Decoded{}, false, nil
	}

	if decoded.IsHead {
		headSector = currentSector
		head = decoded
	} else {
		var underrunOK bool
		headSector, underrunOK = HeadSectorFor(currentSector, decoded.Offset)
		if !underrunOK {
			return 0, Decoded{}, false, nil
		}
		headSlot, rerr := read(headSector)
		if rerr != nil {
			return 0, Decoded{}, false, fmt.Errorf("ivslot: reading head sector %d: %w", headSector, rerr)
		}
		if !IsCarrier(headSlot) {
			return 0, Decoded{}, false, nil
		}
		head, ok = Unpack(headSlot)
		if !ok || !head.IsHead {
			return 0, Decoded{}, false, nil
		}
	}

	for _, tailOffset := range [2]uint64{1, 2} {
		tailSlot, rerr := read(headSector + tailOffset)
		if rerr != nil {
			return 0, Decoded{}, false, fmt.Errorf("ivslot: reading tail sector %d: %w", headSector+tailOffset, rerr)
		}
		if !IsCarrier(tailSlot) {
			return 0, Decoded{}, false, nil
		}
		tailDecoded, ok := Unpack(tailSlot)
		if !ok || tailDecoded.PublicCounter != head.PublicCounter {
			return 0, Decoded{}, false, nil
		}
	}

	return headSector, head, true, nil
}

// ResolvePublicHead follows a slot read at currentSector back to its
// carrier run's head IV for the public write path (§4.7 step 2: "resolve
// head IV ... validate sequence against the Map"). Unlike ResolveHead, it
// does not require tail agreement on public_counter — that two-tail
// confirmation is scoped to recovery (§4.1 "Validation rule at recovery
// time"), and a live carrier's public_counter is deliberately bumped on
// exactly one slot when it is preserved, so requiring tail agreement here
// would make the very next public write to the same carrier fail
// resolution and reclaim a live hidden carrier.
//
// valid is false (with a nil error) whenever the slot does not resolve to
// a head IV; err is non-nil only on a genuine I/O failure from read.
func ResolvePublicHead(currentSector uint64, slot [Size]byte, read SlotReader) (headSector uint64, head Decoded, valid bool, err error) {
	if !IsCarrier(slot) {
		return 0, Decoded{}, false, nil
	}
	decoded, ok := Unpack(slot)
	if !ok {
		return 0, Decoded{}, false, nil
	}

	if decoded.IsHead {
		return currentSector, decoded, true, nil
	}

	headSector, underrunOK := HeadSectorFor(currentSector, decoded.Offset)
	if !underrunOK {
		return 0, Decoded{}, false, nil
	}
	headSlot, rerr := read(headSector)
	if rerr != nil {
		return 0, Decoded{}, false, fmt.Errorf("ivslot: reading head sector %d: %w", headSector, rerr)
	}
	if !IsCarrier(headSlot) {
		return 0, Decoded{}, false, nil
	}
	head, ok = Unpack(headSlot)
	if !ok || !head.IsHead {
		return 0, Decoded{}, false, nil
	}
	return headSector, head, true, nil
}
