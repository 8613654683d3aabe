// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func TestPresets(t *testing.T) {
	assert := require.New(t)

	for _, preset := range []Preset{MIMC_BN254, KECCAK_256, BLAKE2B_256} {
		cfg, err := NewConfig(preset)
		assert.NoError(err)
		assert.Equal(preset, cfg.Preset())
		assert.Greater(cfg.NbQueries(), 0)
		assert.Greater(cfg.PowBits(), 0)

		// presets differ only in the hash primitives
		h := cfg.NewChallengeHash()
		h.Write([]byte("transcript"))
		assert.NotEmpty(h.Sum(nil))

		back, err := PresetFromString(preset.String())
		assert.NoError(err)
		assert.Equal(preset, back)
	}

	_, err := NewConfig(UNKNOWN)
	assert.ErrorIs(err, ErrInvalidPreset)
	_, err = PresetFromString("poseidon")
	assert.ErrorIs(err, ErrInvalidPreset)
}

func TestPresetAliases(t *testing.T) {
	assert := require.New(t)

	for alias, preset := range map[string]Preset{
		"mimc":    MIMC_BN254,
		"keccak":  KECCAK_256,
		"blake2b": BLAKE2B_256,
	} {
		got, err := PresetFromString(alias)
		assert.NoError(err)
		assert.Equal(preset, got)
	}
}

func TestConfigQueryOverride(t *testing.T) {
	assert := require.New(t)

	t.Setenv(friQueriesEnv, "7")
	cfg := NewKeccakConfig()
	assert.Equal(7, cfg.NbQueries())

	t.Setenv(friQueriesEnv, "not a number")
	cfg = NewKeccakConfig()
	assert.Equal(80, cfg.NbQueries())
}

func TestConfigClone(t *testing.T) {
	assert := require.New(t)

	t.Setenv(friQueriesEnv, "5")
	cfg := NewBlake2bConfig()

	// the clone carries the construction-time query count even if the
	// environment changed in between
	t.Setenv(friQueriesEnv, "99")
	clone := cfg.Clone()
	assert.Equal(cfg.Preset(), clone.Preset())
	assert.Equal(5, clone.NbQueries())
	assert.Equal(cfg.PowBits(), clone.PowBits())
}

func TestConfigRoundTrip(t *testing.T) {
	assert := require.New(t)

	for _, preset := range []Preset{MIMC_BN254, KECCAK_256, BLAKE2B_256} {
		cfg, err := NewConfig(preset)
		assert.NoError(err)

		data, err := cbor.Marshal(cfg)
		assert.NoError(err)
		var decoded Config
		assert.NoError(cbor.Unmarshal(data, &decoded))
		assert.Equal(cfg, decoded)
	}

	bad, err := cbor.Marshal(configEnvelope{Preset: 42})
	assert.NoError(err)
	var decoded Config
	assert.Error(cbor.Unmarshal(bad, &decoded))
}

func TestCommitmentHashAlignment(t *testing.T) {
	assert := require.New(t)

	// the MiMC commitment hash only accepts canonical 32-byte field
	// encodings; the transcript hash must accept arbitrary bytes
	cfg := NewMiMCConfig()
	h := cfg.NewChallengeHash()
	_, err := h.Write([]byte{1, 2, 3})
	assert.NoError(err)
	assert.NotEmpty(h.Sum(nil))
}
