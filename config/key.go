package config

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/sandeepkiranp/pd-linux/dmerr"
)

// KeyringType names the kernel keyring descriptor prefixes crypt_set_keyring_key
// recognizes: "logon:", "user:", "encrypted:" and "trusted:".
type KeyringType string

const (
	KeyringLogon     KeyringType = "logon"
	KeyringUser      KeyringType = "user"
	KeyringEncrypted KeyringType = "encrypted"
	KeyringTrusted   KeyringType = "trusted"
)

// KeySource is the parsed form of the §6 `key` construction field: either raw
// key material, a reference to a kernel-keyring-held key, or no key at all
// (the "-" placeholder, valid only until a "key set" control message
// supplies one — see control.go).
type KeySource struct {
	// None is true for the "-" placeholder: no key material yet.
	None bool

	// Bytes holds the decoded key when the field was a plain hex string.
	Bytes []byte

	// Keyring is set when the field named a keyring descriptor instead of
	// hex key material.
	Keyring    bool
	KeyringType KeyringType
	Descriptor string
}

// ParseKey parses the §6 `key` construction field.
func ParseKey(s string) (KeySource, error) {
	if s == "-" || s == "" {
		return KeySource{None: true}, nil
	}

	if t, descriptor, ok := splitKeyringDescriptor(s); ok {
		return KeySource{Keyring: true, KeyringType: t, Descriptor: descriptor}, nil
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return KeySource{}, fmt.Errorf("%w: key is neither a keyring descriptor nor valid hex: %v", dmerr.ErrConfigInvalid, err)
	}
	return KeySource{Bytes: b}, nil
}

func splitKeyringDescriptor(s string) (KeyringType, string, bool) {
	for _, t := range []KeyringType{KeyringLogon, KeyringUser, KeyringEncrypted, KeyringTrusted} {
		prefix := string(t) + ":"
		if strings.HasPrefix(s, prefix) {
			return t, strings.TrimPrefix(s, prefix), true
		}
	}
	return "", "", false
}

// Wipe zeroes any raw key bytes this source holds, mirroring
// crypt_wipe_key's zeroing of in-memory key material on "key wipe".
func (k *KeySource) Wipe() {
	for i := range k.Bytes {
		k.Bytes[i] = 0
	}
	k.Bytes = nil
	k.None = true
}
