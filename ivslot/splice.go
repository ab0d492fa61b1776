package ivslot

import "fmt"

// Splice partitions a 512-byte hidden plaintext into N payload chunks: the
// first HeadPayloadLen bytes destined for the head IV (offset 0), followed
// by N-1 chunks of up to TailPayloadLen bytes each for the tail IVs. The
// final chunk is zero-padded on the right when the plaintext doesn't evenly
// fill all N-1 tail slots (506 bytes / 10 per tail needs 51 tails, the last
// of which only carries 6 real bytes).
func Splice(plaintext []byte) ([N][]byte, error) {
	if len(plaintext) != SectorSize {
		return [N][]byte{}, fmt.Errorf("ivslot: plaintext must be %d bytes, got %d", SectorSize, len(plaintext))
	}
	var chunks [N][]byte
	chunks[0] = append([]byte(nil), plaintext[:HeadPayloadLen]...)
	rest := plaintext[HeadPayloadLen:]
	for i := 1; i < N; i++ {
		chunk := make([]byte, TailPayloadLen)
		start := (i - 1) * TailPayloadLen
		if start < len(rest) {
			end := start + TailPayloadLen
			if end > len(rest) {
				end = len(rest)
			}
			copy(chunk, rest[start:end])
		}
		chunks[i] = chunk
	}
	return chunks, nil
}

// Reassemble concatenates N ordered payload chunks (as produced by decoding
// a full carrier run, in iv_offset order) back into a 512-byte plaintext.
func Reassemble(chunks [N][]byte) ([]byte, error) {
	out := make([]byte, 0, SectorSize+TailPayloadLen)
	for i, c := range chunks {
		want := TailPayloadLen
		if i == 0 {
			want = HeadPayloadLen
		}
		if len(c) != want {
			return nil, fmt.Errorf("ivslot: chunk %d has length %d, want %d", i, len(c), want)
		}
		out = append(out, c...)
	}
	if len(out) < SectorSize {
		return nil, fmt.Errorf("ivslot: reassembled payload too short: %d bytes", len(out))
	}
	return out[:SectorSize], nil
}
