package config_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandeepkiranp/pd-linux/config"
	"github.com/sandeepkiranp/pd-linux/dmerr"
)

func TestParseCipherSpecLegacyDefaultsToCBCPlain(t *testing.T) {
	spec, err := config.ParseCipherSpec("aes")
	require.NoError(t, err)
	require.Equal(t, "aes", spec.Cipher)
	require.Equal(t, "cbc", spec.ChainMode)
	require.Equal(t, "plain", spec.IVMode)
	require.Equal(t, 1, spec.KeyCount)
}

func TestParseCipherSpecLegacyFullForm(t *testing.T) {
	spec, err := config.ParseCipherSpec("aes:2-xts-essiv:sha256")
	require.NoError(t, err)
	require.Equal(t, "aes", spec.Cipher)
	require.Equal(t, 2, spec.KeyCount)
	require.Equal(t, "xts", spec.ChainMode)
	require.Equal(t, "essiv", spec.IVMode)
	require.Equal(t, "sha256", spec.IVOpts)
}

func TestParseCipherSpecEssivRequiresDigest(t *testing.T) {
	_, err := config.ParseCipherSpec("aes-cbc-essiv")
	require.ErrorIs(t, err, dmerr.ErrConfigInvalid)
}

func TestParseCipherSpecCAPIForm(t *testing.T) {
	spec, err := config.ParseCipherSpec("capi:xts(aes)-essiv:sha256")
	require.NoError(t, err)
	require.True(t, spec.IsCAPI)
	require.Equal(t, "xts(aes)", spec.Cipher)
	require.Equal(t, "essiv", spec.IVMode)
	require.Equal(t, "sha256", spec.IVOpts)
}

func TestParseKeyHex(t *testing.T) {
	k, err := config.ParseKey("deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, k.Bytes)
}

func TestParseKeyNone(t *testing.T) {
	k, err := config.ParseKey("-")
	require.NoError(t, err)
	require.True(t, k.None)
}

func TestParseKeyKeyringDescriptor(t *testing.T) {
	k, err := config.ParseKey("logon:mykey")
	require.NoError(t, err)
	require.True(t, k.Keyring)
	require.Equal(t, config.KeyringLogon, k.KeyringType)
	require.Equal(t, "mykey", k.Descriptor)
}

func TestParseKeyBadHex(t *testing.T) {
	_, err := config.ParseKey("not-hex-and-no-colon-prefix-zz")
	require.Error(t, err)
}

func TestKeySourceWipeZeroesBytes(t *testing.T) {
	k, err := config.ParseKey("deadbeef")
	require.NoError(t, err)
	k.Wipe()
	require.Nil(t, k.Bytes)
	require.True(t, k.None)
}

func TestParseArgsMinimal(t *testing.T) {
	cfg, err := config.ParseArgs([]string{"aes-cbc-essiv:sha256", "deadbeef", "0", "/dev/sdb1", "0"})
	require.NoError(t, err)
	require.Equal(t, "/dev/sdb1", cfg.Device)
	require.Equal(t, uint64(0), cfg.IVOffset)
	require.Equal(t, 512, cfg.SectorSize)
	require.False(t, cfg.HiddenEngineEnabled())
}

func TestParseArgsWithOptionalFlags(t *testing.T) {
	cfg, err := config.ParseArgs([]string{
		"aes-cbc-essiv:sha256", "deadbeef", "0", "/dev/sdb1", "0",
		"4", "allow_discards", "sector_size:4096", "store_data_in_integrity_md:16", "iv_large_sectors",
	})
	require.NoError(t, err)
	require.True(t, cfg.AllowDiscards)
	require.True(t, cfg.IVLargeSectors)
	require.Equal(t, 4096, cfg.SectorSize)
	require.True(t, cfg.HiddenEngineEnabled())
	require.Equal(t, 16, *cfg.StoreDataInIntegrityMD)
}

func TestParseArgsRejectsBadStoreDataInIntegrityMDTagSize(t *testing.T) {
	_, err := config.ParseArgs([]string{
		"aes-cbc-essiv:sha256", "deadbeef", "0", "/dev/sdb1", "0",
		"1", "store_data_in_integrity_md:8",
	})
	require.ErrorIs(t, err, dmerr.ErrConfigInvalid)
}

func TestParseArgsRejectsBadSectorSize(t *testing.T) {
	_, err := config.ParseArgs([]string{
		"aes-cbc-essiv:sha256", "deadbeef", "0", "/dev/sdb1", "0",
		"1", "sector_size:700",
	})
	require.ErrorIs(t, err, dmerr.ErrConfigInvalid)
}

func TestParseArgsRejectsMismatchedOptionalCount(t *testing.T) {
	_, err := config.ParseArgs([]string{
		"aes-cbc-essiv:sha256", "deadbeef", "0", "/dev/sdb1", "0",
		"2", "allow_discards",
	})
	require.ErrorIs(t, err, dmerr.ErrConfigInvalid)
}

func TestParseArgsRejectsUnknownOptionalArgument(t *testing.T) {
	_, err := config.ParseArgs([]string{
		"aes-cbc-essiv:sha256", "deadbeef", "0", "/dev/sdb1", "0",
		"1", "not_a_real_flag",
	})
	require.True(t, errors.Is(err, dmerr.ErrConfigInvalid))
}

func TestParseArgsTooFewPositionalArguments(t *testing.T) {
	_, err := config.ParseArgs([]string{"aes-cbc-essiv:sha256", "deadbeef"})
	require.ErrorIs(t, err, dmerr.ErrConfigInvalid)
}

func TestParseControlMessageKeySet(t *testing.T) {
	msg, err := config.ParseControlMessage([]string{"key", "set", "deadbeef"})
	require.NoError(t, err)
	require.False(t, msg.Wipe)

	cfg := &config.Config{}
	msg.Apply(cfg)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, cfg.Key.Bytes)
}

func TestParseControlMessageKeyWipe(t *testing.T) {
	msg, err := config.ParseControlMessage([]string{"key", "wipe"})
	require.NoError(t, err)
	require.True(t, msg.Wipe)

	cfg := &config.Config{Key: config.KeySource{Bytes: []byte{1, 2, 3}}}
	msg.Apply(cfg)
	require.True(t, cfg.Key.None)
	require.Nil(t, cfg.Key.Bytes)
}

func TestParseControlMessageKeySetRejectsPlaceholder(t *testing.T) {
	_, err := config.ParseControlMessage([]string{"key", "set", "-"})
	require.ErrorIs(t, err, dmerr.ErrConfigInvalid)
}
