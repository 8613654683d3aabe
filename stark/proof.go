// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"fmt"
	"io"

	"github.com/bits-and-blooms/bitset"
	"github.com/blang/semver/v4"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/fri"
	"github.com/consensys/machina/internal/ioutils"
	"github.com/consensys/machina/runtime"
	"github.com/fxamacker/cbor/v2"
)

// ProofVersion tags serialized proofs. Readers reject a different major.
const ProofVersion = "0.1.0"

var proofMagic = [4]byte{'m', 'c', 'h', 'p'}

// ShardProof proves one shard of an execution.
type ShardProof struct {
	Index          uint32
	PublicValues   []fr.Element
	MainCommitment Commitment
	ColumnRoots    [][]byte
	Evaluations    []fr.Element
	PaddedSize     uint64
	PowNonce       uint64
	Proximity      fri.ProofOfProximity
	Openings       []fri.OpeningProof
}

// MachineProof is the aggregate proof for a full (or partial) execution,
// one shard proof per shard in ascending index order.
type MachineProof struct {
	ShardProofs  []ShardProof
	PublicValues runtime.PublicValues
}

// Validate checks structural well-formedness: at least one shard, indices
// strictly increasing and contiguous from the first.
func (p *MachineProof) Validate() error {
	if len(p.ShardProofs) == 0 {
		return fmt.Errorf("%w: proof has no shards", ErrShardingViolation)
	}
	base := p.ShardProofs[0].Index
	seen := bitset.New(uint(len(p.ShardProofs)))
	for i := range p.ShardProofs {
		idx := p.ShardProofs[i].Index
		if idx < base || uint64(idx-base) >= uint64(len(p.ShardProofs)) {
			return fmt.Errorf("%w: shard index %d outside [%d, %d]", ErrShardingViolation, idx, base, base+uint32(len(p.ShardProofs))-1)
		}
		if seen.Test(uint(idx - base)) {
			return fmt.Errorf("%w: duplicate shard index %d", ErrShardingViolation, idx)
		}
		seen.Set(uint(idx - base))
	}
	for i := 1; i < len(p.ShardProofs); i++ {
		if p.ShardProofs[i].Index != p.ShardProofs[i-1].Index+1 {
			return fmt.Errorf("%w: shards not sorted at position %d", ErrShardingViolation, i)
		}
	}
	return nil
}

type proofEnvelope struct {
	Version      string
	ShardProofs  []ShardProof
	PublicValues runtime.PublicValues
}

// WriteTo serializes the proof with a magic header and version string.
func (p *MachineProof) WriteTo(w io.Writer) (int64, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return 0, err
	}
	payload, err := enc.Marshal(proofEnvelope{
		Version:      ProofVersion,
		ShardProofs:  p.ShardProofs,
		PublicValues: p.PublicValues,
	})
	if err != nil {
		return 0, err
	}
	var written int64
	n, err := w.Write(proofMagic[:])
	written += int64(n)
	if err != nil {
		return written, err
	}
	n, err = ioutils.WriteBytes(w, payload)
	written += int64(n)
	return written, err
}

// ReadFrom deserializes a proof written by WriteTo. Proofs from a
// different major version are rejected.
func (p *MachineProof) ReadFrom(r io.Reader) (int64, error) {
	var read int64
	var magic [4]byte
	n, err := io.ReadFull(r, magic[:])
	read += int64(n)
	if err != nil {
		return read, err
	}
	if magic != proofMagic {
		return read, fmt.Errorf("invalid proof header %q", magic[:])
	}
	n, payload, err := ioutils.ReadBytes(r)
	read += int64(n)
	if err != nil {
		return read, err
	}
	var env proofEnvelope
	if err := cbor.Unmarshal(payload, &env); err != nil {
		return read, err
	}
	v, err := semver.Parse(env.Version)
	if err != nil {
		return read, fmt.Errorf("invalid proof version %q: %w", env.Version, err)
	}
	current := semver.MustParse(ProofVersion)
	if v.Major != current.Major {
		return read, fmt.Errorf("incompatible proof version %s, expected %d.x", env.Version, current.Major)
	}
	p.ShardProofs = env.ShardProofs
	p.PublicValues = env.PublicValues
	return read, nil
}

// shardProofAlias has the same layout as ShardProof but none of its
// methods, so the cbor codec encodes it field-wise instead of dispatching
// back to MarshalBinary/UnmarshalBinary.
type shardProofAlias ShardProof

// MarshalBinary serializes a single shard proof for worker transport.
func (sp *ShardProof) MarshalBinary() ([]byte, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return enc.Marshal((*shardProofAlias)(sp))
}

// UnmarshalBinary deserializes a shard proof produced by MarshalBinary.
func (sp *ShardProof) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*shardProofAlias)(sp))
}
