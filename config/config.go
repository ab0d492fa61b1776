// Package config parses the construction and control-message arguments that
// set up a mapped device, grounded on
// original_source/drivers/md/dm-crypt.c's crypt_ctr / crypt_ctr_optional /
// crypt_message argument grammar (§6, §12).
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/sandeepkiranp/pd-linux/dmerr"
)

// IntegrityProfile names the dm-integrity metadata profile an external
// integrity target provides underneath this one, per the "integrity:" optional
// argument.
type IntegrityProfile string

const (
	IntegrityAEAD IntegrityProfile = "aead"
	IntegrityNone IntegrityProfile = "none"
)

// Integrity captures the "integrity:<tag_size>:<profile>" optional argument.
// The hidden-sector engine requires TagSize == 16 (one full IV slot per
// sector, §6): a smaller external tag would leave no room for the
// steganographic carrier tag the engine writes into that same per-sector
// metadata area.
type Integrity struct {
	TagSize int
	Profile IntegrityProfile
}

// Config is the fully parsed construction-time configuration for one mapped
// device, combining the positional arguments (cipher_spec, key, iv_offset,
// device, start) with the optional flag set §6 lists.
type Config struct {
	Cipher   CipherSpec
	Key      KeySource
	IVOffset uint64
	Device   string
	Start    uint64

	AllowDiscards       bool
	SameCPUCrypt        bool
	SubmitFromCryptCPUs bool
	NoReadWorkqueue     bool
	NoWriteWorkqueue    bool
	IVLargeSectors      bool
	SectorSize          int
	Integrity           *Integrity

	// StoreDataInIntegrityMD is the §4/§6 switch enabling the hidden-sector
	// engine. Nil means disabled (plain AEAD public path, see
	// pipeline.PublicWriteAEAD); non-nil carries the configured tag size,
	// which must be 16.
	StoreDataInIntegrityMD *int
}

const defaultSectorSize = 512

// ParseArgs parses a construction argument vector of the shape
//
//	cipher_spec key iv_offset device start [#opt_params opt_params...]
//
// matching dm-crypt's crypt_ctr argv layout.
func ParseArgs(args []string) (*Config, error) {
	if len(args) < 5 {
		return nil, fmt.Errorf("%w: expected at least 5 arguments, got %d", dmerr.ErrConfigInvalid, len(args))
	}

	cipherSpec, err := ParseCipherSpec(args[0])
	if err != nil {
		return nil, err
	}
	key, err := ParseKey(args[1])
	if err != nil {
		return nil, err
	}
	ivOffset, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad iv_offset %q: %v", dmerr.ErrConfigInvalid, args[2], err)
	}
	device := args[3]
	if device == "" {
		return nil, fmt.Errorf("%w: empty device path", dmerr.ErrConfigInvalid)
	}
	start, err := strconv.ParseUint(args[4], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad start %q: %v", dmerr.ErrConfigInvalid, args[4], err)
	}

	cfg := &Config{
		Cipher:     cipherSpec,
		Key:        key,
		IVOffset:   ivOffset,
		Device:     device,
		Start:      start,
		SectorSize: defaultSectorSize,
	}

	rest := args[5:]
	if len(rest) == 0 {
		return cfg, nil
	}

	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return nil, fmt.Errorf("%w: bad optional parameter count %q: %v", dmerr.ErrConfigInvalid, rest[0], err)
	}
	optArgs := rest[1:]
	if n != len(optArgs) {
		return nil, fmt.Errorf("%w: declared %d optional parameters, got %d", dmerr.ErrConfigInvalid, n, len(optArgs))
	}

	if err := applyOptionalArgs(cfg, optArgs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyOptionalArgs(cfg *Config, optArgs []string) error {
	for _, opt := range optArgs {
		switch {
		case opt == "allow_discards":
			cfg.AllowDiscards = true
		case opt == "same_cpu_crypt":
			cfg.SameCPUCrypt = true
		case opt == "submit_from_crypt_cpus":
			cfg.SubmitFromCryptCPUs = true
		case opt == "no_read_workqueue":
			cfg.NoReadWorkqueue = true
		case opt == "no_write_workqueue":
			cfg.NoWriteWorkqueue = true
		case opt == "iv_large_sectors":
			cfg.IVLargeSectors = true
		case strings.HasPrefix(opt, "integrity:"):
			integ, err := parseIntegrity(opt)
			if err != nil {
				return err
			}
			cfg.Integrity = &integ
		case strings.HasPrefix(opt, "sector_size:"):
			size, err := parseSectorSize(opt)
			if err != nil {
				return err
			}
			cfg.SectorSize = size
		case strings.HasPrefix(opt, "store_data_in_integrity_md:"):
			tagSize, err := parseStoreDataInIntegrityMD(opt)
			if err != nil {
				return err
			}
			cfg.StoreDataInIntegrityMD = &tagSize
		default:
			return fmt.Errorf("%w: unknown optional argument %q", dmerr.ErrConfigInvalid, opt)
		}
	}

	if cfg.StoreDataInIntegrityMD != nil && *cfg.StoreDataInIntegrityMD != 16 {
		return fmt.Errorf("%w: store_data_in_integrity_md requires a 16-byte tag, got %d", dmerr.ErrConfigInvalid, *cfg.StoreDataInIntegrityMD)
	}
	if cfg.StoreDataInIntegrityMD != nil && cfg.Integrity != nil && cfg.Integrity.TagSize != 16 {
		return fmt.Errorf("%w: the hidden-sector engine requires a 16-byte integrity tag, got %d", dmerr.ErrConfigInvalid, cfg.Integrity.TagSize)
	}
	return nil
}

func parseIntegrity(opt string) (Integrity, error) {
	fields := strings.SplitN(opt, ":", 3)
	if len(fields) != 3 {
		return Integrity{}, fmt.Errorf("%w: malformed integrity argument %q", dmerr.ErrConfigInvalid, opt)
	}
	tagSize, err := strconv.Atoi(fields[1])
	if err != nil || tagSize <= 0 {
		return Integrity{}, fmt.Errorf("%w: bad integrity tag size in %q", dmerr.ErrConfigInvalid, opt)
	}
	profile := IntegrityProfile(fields[2])
	switch profile {
	case IntegrityAEAD, IntegrityNone:
	default:
		return Integrity{}, fmt.Errorf("%w: unknown integrity profile %q", dmerr.ErrConfigInvalid, fields[2])
	}
	return Integrity{TagSize: tagSize, Profile: profile}, nil
}

func parseSectorSize(opt string) (int, error) {
	fields := strings.SplitN(opt, ":", 2)
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: malformed sector_size argument %q", dmerr.ErrConfigInvalid, opt)
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: bad sector_size %q: %v", dmerr.ErrConfigInvalid, fields[1], err)
	}
	if size < 512 || size > 4096 || (size&(size-1)) != 0 {
		return 0, fmt.Errorf("%w: sector_size %d must be a power of 2 between 512 and 4096", dmerr.ErrConfigInvalid, size)
	}
	return size, nil
}

func parseStoreDataInIntegrityMD(opt string) (int, error) {
	fields := strings.SplitN(opt, ":", 2)
	if len(fields) != 2 {
		return 0, fmt.Errorf("%w: malformed store_data_in_integrity_md argument %q", dmerr.ErrConfigInvalid, opt)
	}
	tagSize, err := strconv.Atoi(fields[1])
	if err != nil || tagSize <= 0 {
		return 0, fmt.Errorf("%w: bad store_data_in_integrity_md tag size in %q", dmerr.ErrConfigInvalid, opt)
	}
	return tagSize, nil
}

// HiddenEngineEnabled reports whether this configuration activates the
// hidden-sector engine (§4, §6).
func (c *Config) HiddenEngineEnabled() bool {
	return c.StoreDataInIntegrityMD != nil
}
