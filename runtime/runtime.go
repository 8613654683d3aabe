// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package runtime

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"
)

// ErrOutOfInput is returned when an OpRead executes past the input buffer.
var ErrOutOfInput = errors.New("runtime: read past end of input")

// Opts configures an engine instance.
type Opts struct {
	// BatchSize is the maximum number of cycles executed per checkpoint
	// segment. Zero means unbounded (the whole program is one segment).
	BatchSize uint64
}

// Runtime is the reference execution engine: a single-accumulator machine
// with addressable memory, an input buffer and a public output stream.
//
// Replaying from a checkpoint with the same program always reproduces the
// same subsequent events; the proving protocol depends on this.
type Runtime struct {
	program *Program
	opts    Opts

	pc           uint64
	cycle        uint64
	acc          uint64
	mem          map[uint64]uint64
	input        []byte
	inputPos     uint64
	publicStream []byte
	halted       bool
	exitCode     uint32

	// Record holds the events of the last executed segment (or the whole
	// run after Run).
	Record *ExecutionRecord
}

// New returns an engine positioned at the start of the program.
func New(p *Program, opts Opts) *Runtime {
	return &Runtime{
		program: p,
		opts:    opts,
		mem:     make(map[uint64]uint64),
		Record:  &ExecutionRecord{},
	}
}

// Recover rebuilds an engine from a checkpoint, ready to resume execution.
// The input consumed before the checkpoint is already folded into the state,
// so only the remaining input has to be rewritten by the caller.
func Recover(p *Program, c *Checkpoint, opts Opts) *Runtime {
	r := New(p, opts)
	r.pc = c.PC
	r.cycle = c.Cycle
	r.acc = c.Acc
	r.inputPos = c.InputPos
	r.halted = c.Halted
	r.exitCode = c.ExitCode
	r.publicStream = append([]byte(nil), c.PublicStream...)
	for k, v := range c.Mem {
		r.mem[k] = v
	}
	return r
}

// Write appends data to the engine's input buffer.
func (r *Runtime) Write(data []byte) {
	r.input = append(r.input, data...)
}

// Checkpoint snapshots the current engine state.
func (r *Runtime) Checkpoint() *Checkpoint {
	mem := make(map[uint64]uint64, len(r.mem))
	for k, v := range r.mem {
		mem[k] = v
	}
	return &Checkpoint{
		PC:           r.pc,
		Cycle:        r.cycle,
		Acc:          r.acc,
		Mem:          mem,
		InputPos:     r.inputPos,
		PublicStream: append([]byte(nil), r.publicStream...),
		Halted:       r.halted,
		ExitCode:     r.exitCode,
	}
}

// Run executes the program to completion, recording all events.
func (r *Runtime) Run() error {
	r.Record = &ExecutionRecord{}
	for !r.done() {
		if err := r.step(r.Record); err != nil {
			return err
		}
	}
	r.Record.PublicValues = r.PublicValues()
	return nil
}

// ExecuteUntilCheckpoint snapshots the current state, then advances the
// engine by at most one batch of cycles without recording events. It
// returns the snapshot and whether the program finished within the batch.
func (r *Runtime) ExecuteUntilCheckpoint() (*Checkpoint, bool, error) {
	checkpoint := r.Checkpoint()
	if err := r.executeBatch(nil); err != nil {
		return nil, false, err
	}
	return checkpoint, r.done(), nil
}

// ExecuteRecord advances the engine by at most one batch of cycles,
// recording events into a fresh record. It is the replay counterpart of
// ExecuteUntilCheckpoint.
func (r *Runtime) ExecuteRecord() (*ExecutionRecord, *Report, error) {
	rec := &ExecutionRecord{}
	start := r.cycle
	if err := r.executeBatch(rec); err != nil {
		return nil, nil, err
	}
	return rec, &Report{Cycles: r.cycle - start, Done: r.done()}, nil
}

// Report describes one executed segment.
type Report struct {
	Cycles uint64
	Done   bool
}

// PublicValuesStream returns the bytes committed by the program so far.
func (r *Runtime) PublicValuesStream() []byte {
	return r.publicStream
}

// PublicValues derives the public values payload of the current state.
func (r *Runtime) PublicValues() PublicValues {
	return PublicValues{
		StreamDigest: blake2b.Sum256(r.publicStream),
		ExitCode:     r.exitCode,
	}
}

func (r *Runtime) done() bool {
	return r.halted || r.pc >= uint64(len(r.program.Instructions))
}

func (r *Runtime) executeBatch(rec *ExecutionRecord) error {
	executed := uint64(0)
	for !r.done() {
		if r.opts.BatchSize > 0 && executed >= r.opts.BatchSize {
			break
		}
		if err := r.step(rec); err != nil {
			return err
		}
		executed++
	}
	return nil
}

func (r *Runtime) step(rec *ExecutionRecord) error {
	ins := r.program.Instructions[r.pc]

	switch ins.Op {
	case OpAdd:
		r.acc += ins.Imm
	case OpMul:
		r.acc *= ins.Imm
	case OpLoad:
		r.acc = r.mem[ins.Imm]
		if rec != nil {
			rec.MemEvents = append(rec.MemEvents, MemoryEvent{Cycle: r.cycle, Addr: ins.Imm, Value: r.acc})
		}
	case OpStore:
		r.mem[ins.Imm] = r.acc
		if rec != nil {
			rec.MemEvents = append(rec.MemEvents, MemoryEvent{Cycle: r.cycle, Addr: ins.Imm, Value: r.acc, Write: true})
		}
	case OpRead:
		if r.inputPos+8 > uint64(len(r.input)) {
			return ErrOutOfInput
		}
		r.acc = binary.LittleEndian.Uint64(r.input[r.inputPos:])
		r.inputPos += 8
	case OpCommit:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], r.acc)
		r.publicStream = append(r.publicStream, b[:]...)
	case OpHalt:
		r.halted = true
		r.exitCode = uint32(ins.Imm)
	}

	if rec != nil {
		rec.CPUEvents = append(rec.CPUEvents, CPUEvent{Cycle: r.cycle, PC: r.pc, Op: ins.Op, Imm: ins.Imm, Acc: r.acc})
	}
	r.pc++
	r.cycle++
	return nil
}
