// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package stark implements the shard-level proving protocol: backend
// configurations, the Fiat-Shamir challenger, trace sharding, trace
// commitments and shard opening proofs, and the machine proof aggregate.
package stark

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"os"
	"strconv"

	gchash "github.com/consensys/gnark-crypto/hash"
	_ "github.com/consensys/gnark-crypto/hash/all"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// friRho is the blowup factor of the proximity proofs; it must match the
// constant used by gnark-crypto's fri package.
const friRho = 8

// minTraceSize is the smallest committed trace; shorter traces are padded
// up to it.
const minTraceSize = 8

// friQueriesEnv overrides the number of opening queries of every preset.
// It is read once, at configuration construction time. Tests lower it
// deliberately to trade soundness for speed.
const friQueriesEnv = "FRI_QUERIES"

// Preset identifies one of the supported backend configurations.
type Preset uint8

const (
	UNKNOWN Preset = iota
	// MIMC_BN254 commits with MiMC over the scalar field, friendly to
	// downstream recursive verifiers; sha256 transcript.
	MIMC_BN254
	// KECCAK_256 uses Keccak-256 for both commitments and transcript,
	// compatible with EVM-side verification.
	KECCAK_256
	// BLAKE2B_256 uses Blake2b-256 throughout; the fastest preset.
	BLAKE2B_256
)

func (p Preset) String() string {
	switch p {
	case MIMC_BN254:
		return "mimc_bn254"
	case KECCAK_256:
		return "keccak_256"
	case BLAKE2B_256:
		return "blake2b_256"
	default:
		return "unknown"
	}
}

// PresetFromString is the inverse of Preset.String. It also accepts the
// short aliases "mimc", "keccak" and "blake2b".
func PresetFromString(s string) (Preset, error) {
	switch s {
	case "mimc_bn254", "mimc":
		return MIMC_BN254, nil
	case "keccak_256", "keccak":
		return KECCAK_256, nil
	case "blake2b_256", "blake2b":
		return BLAKE2B_256, nil
	default:
		return UNKNOWN, fmt.Errorf("%w: %q", ErrInvalidPreset, s)
	}
}

// Config bundles the primitives of one backend: the commitment hash, the
// transcript hash and the proximity-proof parameters. It is a value type;
// Clone rebuilds an equivalent configuration from the preset tag rather
// than copying derived state.
type Config struct {
	preset       Preset
	nbQueries    int
	powBits      int
	maxLogDegree int
}

// NewMiMCConfig returns the recursion-friendly preset.
func NewMiMCConfig() Config {
	return newConfig(MIMC_BN254, 40, 16)
}

// NewKeccakConfig returns the EVM-compatible preset.
func NewKeccakConfig() Config {
	return newConfig(KECCAK_256, 80, 16)
}

// NewBlake2bConfig returns the fastest preset.
func NewBlake2bConfig() Config {
	return newConfig(BLAKE2B_256, 80, 16)
}

// NewConfig builds the configuration for a preset tag.
func NewConfig(p Preset) (Config, error) {
	switch p {
	case MIMC_BN254:
		return NewMiMCConfig(), nil
	case KECCAK_256:
		return NewKeccakConfig(), nil
	case BLAKE2B_256:
		return NewBlake2bConfig(), nil
	default:
		return Config{}, fmt.Errorf("%w: %d", ErrInvalidPreset, p)
	}
}

func newConfig(p Preset, nbQueries, powBits int) Config {
	if s, ok := os.LookupEnv(friQueriesEnv); ok {
		if v, err := strconv.Atoi(s); err == nil && v > 0 {
			nbQueries = v
		}
	}
	return Config{
		preset:       p,
		nbQueries:    nbQueries,
		powBits:      powBits,
		maxLogDegree: 27,
	}
}

// Preset returns the configuration tag.
func (c Config) Preset() Preset { return c.preset }

// NbQueries returns the number of opening queries per shard.
func (c Config) NbQueries() int { return c.nbQueries }

// PowBits returns the grinding difficulty in bits.
func (c Config) PowBits() int { return c.powBits }

// MaxLogDegree bounds the committed trace size to 2^MaxLogDegree rows.
func (c Config) MaxLogDegree() int { return c.maxLogDegree }

// NewCommitmentHash returns a fresh instance of the hash committing trace
// columns and program digests. Writes to it must be 32-byte canonical
// field encodings when the preset is MiMC.
func (c Config) NewCommitmentHash() hash.Hash {
	switch c.preset {
	case MIMC_BN254:
		return gchash.MIMC_BN254.New()
	case KECCAK_256:
		return sha3.NewLegacyKeccak256()
	default:
		h, _ := blake2b.New256(nil)
		return h
	}
}

// NewChallengeHash returns a fresh instance of the transcript hash.
func (c Config) NewChallengeHash() hash.Hash {
	switch c.preset {
	case KECCAK_256:
		return sha3.NewLegacyKeccak256()
	case BLAKE2B_256:
		h, _ := blake2b.New256(nil)
		return h
	default:
		return sha256.New()
	}
}

// Clone rebuilds an equivalent configuration. The query count travels with
// the clone so that an environment change between construction and clone
// cannot skew it.
func (c Config) Clone() Config {
	clone, err := NewConfig(c.preset)
	if err != nil {
		// c was built by a constructor, its tag is one of the known ones
		panic(err)
	}
	clone.nbQueries = c.nbQueries
	clone.powBits = c.powBits
	clone.maxLogDegree = c.maxLogDegree
	return clone
}

type configEnvelope struct {
	Preset       uint8
	NbQueries    int
	PowBits      int
	MaxLogDegree int
}

// MarshalCBOR encodes the preset tag and its parameters; derived
// cryptographic state is never transported.
func (c Config) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(configEnvelope{
		Preset:       uint8(c.preset),
		NbQueries:    c.nbQueries,
		PowBits:      c.powBits,
		MaxLogDegree: c.maxLogDegree,
	})
}

// UnmarshalCBOR rebuilds the configuration from its tag.
func (c *Config) UnmarshalCBOR(data []byte) error {
	var env configEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return err
	}
	cfg, err := NewConfig(Preset(env.Preset))
	if err != nil {
		return err
	}
	cfg.nbQueries = env.NbQueries
	cfg.powBits = env.PowBits
	cfg.maxLogDegree = env.MaxLogDegree
	*c = cfg
	return nil
}
