// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/fri"
	"github.com/consensys/machina/runtime"
)

// VerifyShard checks one shard proof against the verifying key. The
// challenger must be in the same post-observation state the prover used.
func VerifyShard(cfg Config, vk *VerifyingKey, proof *ShardProof, ch *Challenger) error {
	if len(proof.ColumnRoots) != vk.NbChips {
		return fmt.Errorf("%w: %d column roots, machine has %d chips", ErrVerificationFailed, len(proof.ColumnRoots), vk.NbChips)
	}
	if len(proof.Evaluations) != vk.NbChips {
		return fmt.Errorf("%w: %d evaluations, machine has %d chips", ErrVerificationFailed, len(proof.Evaluations), vk.NbChips)
	}
	if len(proof.PublicValues) != runtime.NbPublicValueElements {
		return fmt.Errorf("%w: %d public value elements, want %d", ErrVerificationFailed, len(proof.PublicValues), runtime.NbPublicValueElements)
	}
	if proof.PaddedSize < minTraceSize || bits.OnesCount64(proof.PaddedSize) != 1 {
		return fmt.Errorf("%w: trace size %d", ErrVerificationFailed, proof.PaddedSize)
	}
	if proof.PaddedSize > uint64(1)<<cfg.MaxLogDegree() {
		return fmt.Errorf("%w: %w: trace size %d exceeds 2^%d", ErrVerificationFailed, ErrDegreeBound, proof.PaddedSize, cfg.MaxLogDegree())
	}

	// the shard commitment must be the fold of its column roots
	h := cfg.NewCommitmentHash()
	for _, root := range proof.ColumnRoots {
		_, _ = h.Write(root)
	}
	if !bytes.Equal(h.Sum(nil), proof.MainCommitment) {
		return fmt.Errorf("%w: shard %d commitment does not match column roots", ErrVerificationFailed, proof.Index)
	}

	state := ch.State()

	seed := powSeed(cfg, state, proof.MainCommitment, proof.Evaluations)
	if !checkPow(cfg, seed, proof.PowNonce) {
		return fmt.Errorf("%w: shard %d nonce %d", ErrProofOfWork, proof.Index, proof.PowNonce)
	}

	positions, err := deriveQueryPositions(cfg, state, proof.MainCommitment, proof.Evaluations, proof.PowNonce, proof.PaddedSize*friRho)
	if err != nil {
		return err
	}
	if len(proof.Openings) != len(positions) {
		return fmt.Errorf("%w: %d openings, want %d", ErrVerificationFailed, len(proof.Openings), len(positions))
	}

	iopp := fri.RADIX_2_FRI.New(proof.PaddedSize, cfg.NewCommitmentHash())
	if err := iopp.VerifyProofOfProximity(proof.Proximity); err != nil {
		return fmt.Errorf("%w: shard %d: %v", ErrLowDegree, proof.Index, err)
	}
	for i, pos := range positions {
		if err := iopp.VerifyOpening(pos, proof.Openings[i], proof.Proximity); err != nil {
			return fmt.Errorf("%w: shard %d position %d: %v", ErrOpeningMismatch, proof.Index, pos, err)
		}
	}
	return nil
}

// Verify checks a machine proof: structural validity, public value
// consistency across shards, and every shard proof against the replayed
// transcript.
func (m *Machine) Verify(vk *VerifyingKey, proof *MachineProof) error {
	if err := proof.Validate(); err != nil {
		return err
	}

	expected := proof.PublicValues.ToElements()

	ch := NewChallenger(m.config)
	vk.ObserveInto(ch)
	for i := range proof.ShardProofs {
		sp := &proof.ShardProofs[i]
		if len(sp.PublicValues) != len(expected)+1 {
			return fmt.Errorf("%w: shard %d carries %d public value elements", ErrPublicValuesMismatch, sp.Index, len(sp.PublicValues))
		}
		for j := range expected {
			if !sp.PublicValues[j].Equal(&expected[j]) {
				return fmt.Errorf("%w: shard %d element %d", ErrPublicValuesMismatch, sp.Index, j)
			}
		}
		var idx fr.Element
		idx.SetUint64(uint64(sp.Index))
		if !sp.PublicValues[len(expected)].Equal(&idx) {
			return fmt.Errorf("%w: shard %d index element", ErrPublicValuesMismatch, sp.Index)
		}
		ch.Observe(sp.MainCommitment)
		ch.ObserveElements(sp.PublicValues)
	}

	for i := range proof.ShardProofs {
		if err := VerifyShard(m.config, vk, &proof.ShardProofs[i], ch.Clone()); err != nil {
			return err
		}
	}
	return nil
}
