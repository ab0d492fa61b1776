package config

import (
	"fmt"

	"github.com/sandeepkiranp/pd-linux/dmerr"
)

// ControlMessage is a parsed runtime control message, grounded on
// crypt_message's "key set <key>" / "key wipe" grammar.
type ControlMessage struct {
	// Wipe is true for "key wipe"; Key is unset in that case.
	Wipe bool
	Key  KeySource
}

// ParseControlMessage parses a control-message argument vector such as
// {"key", "set", "deadbeef..."} or {"key", "wipe"}.
func ParseControlMessage(args []string) (*ControlMessage, error) {
	if len(args) == 0 || args[0] != "key" {
		return nil, fmt.Errorf("%w: unsupported control message %v", dmerr.ErrConfigInvalid, args)
	}
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: \"key\" requires a subcommand (set|wipe)", dmerr.ErrConfigInvalid)
	}

	switch args[1] {
	case "wipe":
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: \"key wipe\" takes no arguments", dmerr.ErrConfigInvalid)
		}
		return &ControlMessage{Wipe: true}, nil
	case "set":
		if len(args) != 3 {
			return nil, fmt.Errorf("%w: \"key set\" requires exactly one key argument", dmerr.ErrConfigInvalid)
		}
		key, err := ParseKey(args[2])
		if err != nil {
			return nil, err
		}
		if key.None {
			return nil, fmt.Errorf("%w: \"key set\" requires real key material, not \"-\"", dmerr.ErrConfigInvalid)
		}
		return &ControlMessage{Key: key}, nil
	default:
		return nil, fmt.Errorf("%w: unknown key subcommand %q", dmerr.ErrConfigInvalid, args[1])
	}
}

// Apply updates cfg in place according to the control message: "key wipe"
// zeroes the current key source, "key set" installs the new one.
func (m *ControlMessage) Apply(cfg *Config) {
	if m.Wipe {
		cfg.Key.Wipe()
		return
	}
	cfg.Key = m.Key
}
