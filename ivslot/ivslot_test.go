package ivslot_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/ivslot"
)

func TestPackUnpackHeadRoundTrip(t *testing.T) {
	payload := [ivslot.HeadPayloadLen]byte{1, 2, 3, 4, 5, 6}
	slot := ivslot.PackHead(payload, 100, 7, 42)

	require.True(t, ivslot.IsCarrier(slot))
	d, ok := ivslot.Unpack(slot)
	require.True(t, ok)
	require.True(t, d.IsHead)
	require.Equal(t, uint8(0), d.Offset)
	require.Equal(t, uint32(100), d.LogicalSector)
	require.Equal(t, uint16(7), d.Sequence)
	require.Equal(t, uint16(42), d.PublicCounter)
	require.Equal(t, payload[:], d.Payload)
}

func TestPackUnpackTailRoundTrip(t *testing.T) {
	payload := [ivslot.TailPayloadLen]byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9}
	slot := ivslot.PackTail(payload, ivslot.N-1, 3, 1)

	d, ok := ivslot.Unpack(slot)
	require.True(t, ok)
	require.False(t, d.IsHead)
	require.Equal(t, uint8(ivslot.N-1), d.Offset)
	require.Equal(t, uint16(3), d.Sequence)
	require.Equal(t, payload[:], d.Payload)
}

func TestUnpackRejectsOutOfRangeOffset(t *testing.T) {
	payload := [ivslot.TailPayloadLen]byte{}
	slot := ivslot.PackTail(payload, ivslot.N-1, 0, 0)
	slot[12] = ivslot.N // push offset out of range
	_, ok := ivslot.Unpack(slot)
	require.False(t, ok)
}

func TestIsCarrierRejectsRandomSlot(t *testing.T) {
	var slot [ivslot.Size]byte
	for i := range slot {
		slot[i] = 0xFF
	}
	slot[15] = 0x00
	require.False(t, ivslot.IsCarrier(slot))
}

func TestSpliceReassembleRoundTrip(t *testing.T) {
	plaintext := make([]byte, ivslot.SectorSize)
	for i := range plaintext {
		plaintext[i] = byte(i)
	}

	chunks, err := ivslot.Splice(plaintext)
	require.NoError(t, err)

	out, err := ivslot.Reassemble(chunks)
	require.NoError(t, err)
	require.Equal(t, plaintext, out)
}

func TestSpliceRejectsWrongSize(t *testing.T) {
	_, err := ivslot.Splice(make([]byte, 10))
	require.Error(t, err)
}

func TestHeadSectorForUnderrun(t *testing.T) {
	_, ok := ivslot.HeadSectorFor(1, 5)
	require.False(t, ok)

	sector, ok := ivslot.HeadSectorFor(10, 5)
	require.True(t, ok)
	require.Equal(t, uint64(5), sector)
}

func TestResolveHeadTwoTailConfirmation(t *testing.T) {
	const head = uint64(200)
	slots := make(map[uint64][ivslot.Size]byte)

	headPayload := [ivslot.HeadPayloadLen]byte{1, 2, 3, 4, 5, 6}
	slots[head] = ivslot.PackHead(headPayload, 7, 1, 0)
	for i := uint8(1); i < ivslot.N; i++ {
		var tp [ivslot.TailPayloadLen]byte
		slots[head+uint64(i)] = ivslot.PackTail(tp, i, 1, 0)
	}

	reader := func(s uint64) ([ivslot.Size]byte, error) { return slots[s], nil }

	headSector, decoded, valid, err := ivslot.ResolveHead(head+5, slots[head+5], reader)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, head, headSector)
	require.Equal(t, uint32(7), decoded.LogicalSector)
}

func TestResolveHeadRejectsMismatchedPublicCounter(t *testing.T) {
	const head = uint64(300)
	slots := make(map[uint64][ivslot.Size]byte)
	slots[head] = ivslot.PackHead([ivslot.HeadPayloadLen]byte{}, 1, 1, 0)
	slots[head+1] = ivslot.PackTail([ivslot.TailPayloadLen]byte{}, 1, 1, 9) // mismatched counter
	slots[head+2] = ivslot.PackTail([ivslot.TailPayloadLen]byte{}, 2, 1, 0)

	reader := func(s uint64) ([ivslot.Size]byte, error) { return slots[s], nil }
	_, _, valid, err := ivslot.ResolveHead(head, slots[head], reader)
	require.NoError(t, err)
	require.False(t, valid)
}

func TestResolveHeadRejectsNonCarrier(t *testing.T) {
	var slot [ivslot.Size]byte
	_, _, valid, err := ivslot.ResolveHead(1, slot, func(uint64) ([ivslot.Size]byte, error) {
		return [ivslot.Size]byte{}, nil
	})
	require.NoError(t, err)
	require.False(t, valid)
}

func TestResolvePublicHeadToleratesDesyncedTailCounter(t *testing.T) {
	const head = uint64(400)
	slots := make(map[uint64][ivslot.Size]byte)
	slots[head] = ivslot.PackHead([ivslot.HeadPayloadLen]byte{}, 55, 3, 1) // head already bumped once
	slots[head+1] = ivslot.PackTail([ivslot.TailPayloadLen]byte{}, 1, 3, 0)
	slots[head+2] = ivslot.PackTail([ivslot.TailPayloadLen]byte{}, 2, 3, 0)

	reader := func(s uint64) ([ivslot.Size]byte, error) { return slots[s], nil }

	headSector, decoded, valid, err := ivslot.ResolvePublicHead(head, slots[head], reader)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, head, headSector)
	require.Equal(t, uint32(55), decoded.LogicalSector)

	// The same desynced counter would make ResolveHead reject this carrier.
	_, _, strictValid, err := ivslot.ResolveHead(head, slots[head], reader)
	require.NoError(t, err)
	require.False(t, strictValid)
}

func TestResolvePublicHeadResolvesFromTail(t *testing.T) {
	const head = uint64(500)
	slots := make(map[uint64][ivslot.Size]byte)
	slots[head] = ivslot.PackHead([ivslot.HeadPayloadLen]byte{}, 9, 2, 0)
	slots[head+1] = ivslot.PackTail([ivslot.TailPayloadLen]byte{}, 1, 2, 4) // desynced
	slots[head+2] = ivslot.PackTail([ivslot.TailPayloadLen]byte{}, 2, 2, 0)

	reader := func(s uint64) ([ivslot.Size]byte, error) { return slots[s], nil }
	headSector, decoded, valid, err := ivslot.ResolvePublicHead(head+1, slots[head+1], reader)
	require.NoError(t, err)
	require.True(t, valid)
	require.Equal(t, head, headSector)
	require.Equal(t, uint32(9), decoded.LogicalSector)
}

func TestResolvePublicHeadRejectsNonCarrier(t *testing.T) {
	var slot [ivslot.Size]byte
	_, _, valid, err := ivslot.ResolvePublicHead(1, slot, func(uint64) ([ivslot.Size]byte, error) {
		return [ivslot.Size]byte{}, nil
	})
	require.NoError(t, err)
	require.False(t, valid)
}
