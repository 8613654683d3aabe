// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/machina/runtime"
	"github.com/fxamacker/cbor/v2"
)

// Machine is a backend configuration together with the chip set proving
// records of the reference engine.
type Machine struct {
	config Config
	chips  []Chip
}

// NewMachine returns a machine over the default chip set.
func NewMachine(config Config) *Machine {
	return &Machine{config: config, chips: DefaultChips()}
}

// Config returns the machine's backend configuration.
func (m *Machine) Config() Config { return m.config }

// Chips returns the machine's chip set.
func (m *Machine) Chips() []Chip { return m.chips }

// ProvingKey is owned by the prover process. Setup is cheap enough that
// distributed workers re-derive it rather than shipping it around.
type ProvingKey struct {
	Vk *VerifyingKey
}

// VerifyingKey is the public artifact shared with verifiers and workers.
type VerifyingKey struct {
	ProgramDigest []byte
	Preset        Preset
	NbChips       int
}

// Setup derives the proving and verifying keys for a program. It is
// deterministic given the program and the backend configuration.
func (m *Machine) Setup(p *runtime.Program) (*ProvingKey, *VerifyingKey, error) {
	var buf bytes.Buffer
	if len(p.Instructions) == 0 {
		buf.Write(make([]byte, fr.Bytes))
	}
	for _, ins := range p.Instructions {
		var enc [16]byte
		enc[0] = ins.Op
		binary.LittleEndian.PutUint64(enc[1:9], ins.Imm)
		var el fr.Element
		el.SetBytes(enc[:])
		b := el.Bytes()
		buf.Write(b[:])
	}

	root, _, _, err := merkletree.BuildReaderProof(&buf, m.config.NewCommitmentHash(), fr.Bytes, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("commit program: %w", err)
	}

	vk := &VerifyingKey{
		ProgramDigest: root,
		Preset:        m.config.Preset(),
		NbChips:       len(m.chips),
	}
	return &ProvingKey{Vk: vk}, vk, nil
}

// ObserveInto binds the verifying key to a transcript. It is always the
// first observation of a proof's canonical challenger.
func (vk *VerifyingKey) ObserveInto(ch *Challenger) {
	ch.Observe(vk.ProgramDigest)
}

// verifyingKeyAlias has the same layout as VerifyingKey but none of its
// methods, so the cbor codec encodes it field-wise instead of dispatching
// back to MarshalBinary/UnmarshalBinary.
type verifyingKeyAlias VerifyingKey

// MarshalBinary implements encoding.BinaryMarshaler.
func (vk *VerifyingKey) MarshalBinary() ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal((*verifyingKeyAlias)(vk))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (vk *VerifyingKey) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*verifyingKeyAlias)(vk))
}
