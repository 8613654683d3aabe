// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package runtime defines the execution engine boundary of the proving
// pipeline: programs, execution records, checkpoints and a reference
// accumulator machine implementing them.
//
// The proving layers never inspect engine state beyond this package's
// exported surface; any engine producing deterministic records from
// checkpoints can sit behind it.
package runtime

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"
)

// Opcodes of the reference machine. The instruction set is deliberately
// small: enough to exercise processor and memory event streams and to
// commit a public output.
const (
	OpAdd uint8 = iota + 1 // acc <- acc + imm
	OpMul                  // acc <- acc * imm
	OpLoad                 // acc <- mem[imm]
	OpStore                // mem[imm] <- acc
	OpRead                 // acc <- next 8 input bytes (little endian)
	OpCommit               // append acc (little endian) to the public values stream
	OpHalt                 // stop, exit code = imm
)

// Instruction is a single operation of the reference machine.
type Instruction struct {
	Op  uint8
	Imm uint64
}

// Program is an immutable, content-addressed list of instructions. It is
// shared read-only across all shards and replays.
type Program struct {
	Instructions []Instruction
}

// NewProgram returns a program over the given instructions.
func NewProgram(instructions []Instruction) *Program {
	return &Program{Instructions: instructions}
}

// Digest returns the content address of the program.
func (p *Program) Digest() [32]byte {
	var buf bytes.Buffer
	for _, ins := range p.Instructions {
		var b [16]byte
		b[0] = ins.Op
		binary.LittleEndian.PutUint64(b[1:9], ins.Imm)
		buf.Write(b[:])
	}
	return blake2b.Sum256(buf.Bytes())
}

// programAlias has the same layout as Program but none of its methods, so
// the cbor codec encodes it field-wise instead of dispatching back to
// MarshalBinary/UnmarshalBinary.
type programAlias Program

// MarshalBinary implements encoding.BinaryMarshaler using deterministic cbor.
func (p *Program) MarshalBinary() ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal((*programAlias)(p))
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *Program) UnmarshalBinary(data []byte) error {
	if err := cbor.Unmarshal(data, (*programAlias)(p)); err != nil {
		return fmt.Errorf("decode program: %w", err)
	}
	return nil
}
