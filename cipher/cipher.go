// Package cipher names the symmetric cipher and AEAD primitives that spec §1
// treats as external collaborators: this module depends only on the
// interfaces below, never on a specific algorithm choice. SlotCipher encrypts
// exactly one 16-byte IV slot per call — the design requires the cipher's
// block size to equal the slot size (§4.5 step 2) — while DataAEAD protects
// the 512-byte public sector payload under the distinct public key (§4.7).
//
// The concrete implementations here use AES because its 16-byte block size
// is what the slot-sized requirement calls for; key derivation and cipher
// negotiation (capi:, cipher_spec parsing) live in package config and are
// out of scope for this package itself.
package cipher

import (
	"crypto/aes"
	stdcipher "crypto/cipher"
	"crypto/rand"
	"fmt"

	"github.com/sandeepkiranp/pd-linux/dmerr"
)

// SlotCipher encrypts/decrypts a single 16-byte IV slot under a per-slot IV
// produced by an ivgen.Generator. Implementations must be keyed with a
// 16/24/32-byte AES key.
type SlotCipher interface {
	EncryptSlot(key []byte, iv [16]byte, plaintext [16]byte) ([16]byte, error)
	DecryptSlot(key []byte, iv [16]byte, ciphertext [16]byte) ([16]byte, error)
}

// DataAEAD authenticates and encrypts the 512-byte public sector payload.
type DataAEAD interface {
	// Seal encrypts plaintext (sector data) under key and nonce, appending
	// the authentication tag.
	Seal(key, nonce, plaintext []byte) ([]byte, error)
	// Open authenticates and decrypts ciphertext under key and nonce.
	Open(key, nonce, ciphertext []byte) ([]byte, error)
	// NonceSize returns the nonce length this AEAD requires.
	NonceSize() int
}

// AESCTRSlotCipher is a SlotCipher backed by AES in CTR mode: the IV slot is
// exactly one AES block, so a single call to the CTR keystream XORed with
// the slot reproduces the classical "one-block XOR" construction dm-crypt
// itself uses for per-sector IVs.
type AESCTRSlotCipher struct{}

func (AESCTRSlotCipher) EncryptSlot(key []byte, iv [16]byte, plaintext [16]byte) ([16]byte, error) {
	return xorKeystream(key, iv, plaintext)
}

func (AESCTRSlotCipher) DecryptSlot(key []byte, iv [16]byte, ciphertext [16]byte) ([16]byte, error) {
	// CTR is symmetric: decrypting is the same keystream XOR.
	return xorKeystream(key, iv, ciphertext)
}

func xorKeystream(key []byte, iv [16]byte, in [16]byte) ([16]byte, error) {
	var out [16]byte
	block, err := aes.NewCipher(key)
	if err != nil {
		return out, fmt.Errorf("cipher: building AES block cipher: %w", err)
	}
	stream := stdcipher.NewCTR(block, iv[:])
	stream.XORKeyStream(out[:], in[:])
	return out, nil
}

// AESGCMDataAEAD is a DataAEAD backed by AES-GCM, used for the public sector
// payload (§4.7: "encrypted with the public key, distinct from the hidden
// key").
type AESGCMDataAEAD struct{}

func (AESGCMDataAEAD) NonceSize() int { return 12 }

func (AESGCMDataAEAD) Seal(key, nonce, plaintext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("cipher: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	return aead.Seal(nil, nonce, plaintext, nil), nil
}

func (AESGCMDataAEAD) Open(key, nonce, ciphertext []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("cipher: nonce must be %d bytes, got %d", aead.NonceSize(), len(nonce))
	}
	out, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w: %v", dmerr.ErrIntegrityFailed, err)
	}
	return out, nil
}

func newGCM(key []byte) (stdcipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: building AES block cipher: %w", err)
	}
	return stdcipher.NewGCM(block)
}

// DataCipher encrypts/decrypts an arbitrary-length public sector payload
// under a keystream. The public write pipeline uses this instead of DataAEAD
// whenever the hidden-sector engine is enabled: the device's one 16-byte tag
// slot per sector is then claimed by the steganographic IV codec (§4.1), so
// there is nowhere left to store a trailing AEAD authentication tag.
type DataCipher interface {
	Encrypt(key []byte, nonce [16]byte, plaintext []byte) ([]byte, error)
	Decrypt(key []byte, nonce [16]byte, ciphertext []byte) ([]byte, error)
}

// AESCTRDataCipher is a DataCipher backed by AES-CTR over an arbitrary-length
// buffer: the same construction as AESCTRSlotCipher, generalized past one
// block so a full sector payload can be covered by a single keystream.
type AESCTRDataCipher struct{}

func (AESCTRDataCipher) Encrypt(key []byte, nonce [16]byte, plaintext []byte) ([]byte, error) {
	return ctrXORStream(key, nonce, plaintext)
}

func (AESCTRDataCipher) Decrypt(key []byte, nonce [16]byte, ciphertext []byte) ([]byte, error) {
	return ctrXORStream(key, nonce, ciphertext)
}

func ctrXORStream(key []byte, nonce [16]byte, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: building AES block cipher: %w", err)
	}
	out := make([]byte, len(in))
	stream := stdcipher.NewCTR(block, nonce[:])
	stream.XORKeyStream(out, in)
	return out, nil
}

// RandomBytes fills a buffer of n cryptographically random bytes, used by the
// public write pipeline to randomize freed carrier slots (§4.7 step 3).
func RandomBytes(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("cipher: reading random bytes: %w", err)
	}
	return buf, nil
}
