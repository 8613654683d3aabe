// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/machina/runtime"
)

// Chip converts one event stream of a record into a trace column. It is
// the arithmetization boundary: the constraints a column must satisfy are
// defined elsewhere, the pipeline only commits and opens what chips emit.
type Chip interface {
	Name() string
	Trace(rec *runtime.ExecutionRecord) []fr.Element
}

// DefaultChips returns the chip set of the reference machine.
func DefaultChips() []Chip {
	return []Chip{cpuChip{}, memoryChip{}}
}

type cpuChip struct{}

func (cpuChip) Name() string { return "cpu" }

// Trace emits two elements per processor event: (cycle, pc, op) and
// (imm, acc).
func (cpuChip) Trace(rec *runtime.ExecutionRecord) []fr.Element {
	col := make([]fr.Element, 2*len(rec.CPUEvents))
	for i, e := range rec.CPUEvents {
		var a [17]byte
		binary.LittleEndian.PutUint64(a[0:8], e.Cycle)
		binary.LittleEndian.PutUint64(a[8:16], e.PC)
		a[16] = e.Op
		col[2*i].SetBytes(a[:])

		var b [16]byte
		binary.LittleEndian.PutUint64(b[0:8], e.Imm)
		binary.LittleEndian.PutUint64(b[8:16], e.Acc)
		col[2*i+1].SetBytes(b[:])
	}
	return col
}

type memoryChip struct{}

func (memoryChip) Name() string { return "memory" }

func (memoryChip) Trace(rec *runtime.ExecutionRecord) []fr.Element {
	col := make([]fr.Element, len(rec.MemEvents))
	for i, e := range rec.MemEvents {
		var a [25]byte
		binary.LittleEndian.PutUint64(a[0:8], e.Cycle)
		binary.LittleEndian.PutUint64(a[8:16], e.Addr)
		binary.LittleEndian.PutUint64(a[16:24], e.Value)
		if e.Write {
			a[24] = 1
		}
		col[i].SetBytes(a[:])
	}
	return col
}
