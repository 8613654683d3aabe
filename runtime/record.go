// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package runtime

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/machina/internal/ioutils"
	"golang.org/x/crypto/blake2b"
)

// NbPublicValueElements is the number of field elements a record's public
// values occupy on the transcript, shard index included.
const NbPublicValueElements = 4

// ErrRecordCorrupt is returned when a serialized record is inconsistent
// with its header.
var ErrRecordCorrupt = errors.New("runtime: corrupt execution record")

// CPUEvent records one executed instruction.
type CPUEvent struct {
	Cycle uint64
	PC    uint64
	Op    uint8
	Imm   uint64
	Acc   uint64
}

// MemoryEvent records one memory access.
type MemoryEvent struct {
	Cycle uint64
	Addr  uint64
	Value uint64
	Write bool
}

// PublicValues is the claimed public output of a whole program run. It is
// attached to every record derived from that run and bound, shard by shard,
// into the proof transcript.
type PublicValues struct {
	StreamDigest [32]byte
	ExitCode     uint32
}

// ToElements encodes the public values as field elements: two 16-byte limbs
// of the stream digest followed by the exit code.
func (pv *PublicValues) ToElements() []fr.Element {
	res := make([]fr.Element, 3)
	res[0].SetBytes(pv.StreamDigest[:16])
	res[1].SetBytes(pv.StreamDigest[16:])
	res[2].SetUint64(uint64(pv.ExitCode))
	return res
}

// ExecutionRecord is the ordered event trace of one execution pass.
// BaseShard is the global index of the first shard this record will produce;
// it is set by the pass driver, not the engine.
type ExecutionRecord struct {
	BaseShard    uint32
	CPUEvents    []CPUEvent
	MemEvents    []MemoryEvent
	PublicValues PublicValues
}

// NbCycles returns the number of processor events in the record.
func (rec *ExecutionRecord) NbCycles() uint64 {
	return uint64(len(rec.CPUEvents))
}

// WriteTo serializes the record in a columnar layout; the integer event
// streams are compressed.
func (rec *ExecutionRecord) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	header := []uint64{uint64(rec.BaseShard), uint64(len(rec.CPUEvents)), uint64(len(rec.MemEvents))}
	if err := binary.Write(cw, binary.LittleEndian, header); err != nil {
		return cw.n, err
	}

	n := len(rec.CPUEvents)
	cols := [][]uint64{make([]uint64, n), make([]uint64, n), make([]uint64, n), make([]uint64, n), make([]uint64, n)}
	for i, e := range rec.CPUEvents {
		cols[0][i] = e.Cycle
		cols[1][i] = e.PC
		cols[2][i] = uint64(e.Op)
		cols[3][i] = e.Imm
		cols[4][i] = e.Acc
	}
	m := len(rec.MemEvents)
	mcols := [][]uint64{make([]uint64, m), make([]uint64, m), make([]uint64, m), make([]uint64, m)}
	for i, e := range rec.MemEvents {
		mcols[0][i] = e.Cycle
		mcols[1][i] = e.Addr
		mcols[2][i] = e.Value
		if e.Write {
			mcols[3][i] = 1
		}
	}
	for _, col := range append(cols, mcols...) {
		if err := ioutils.CompressAndWriteUints64(cw, col); err != nil {
			return cw.n, err
		}
	}

	if _, err := cw.Write(rec.PublicValues.StreamDigest[:]); err != nil {
		return cw.n, err
	}
	if err := binary.Write(cw, binary.LittleEndian, rec.PublicValues.ExitCode); err != nil {
		return cw.n, err
	}
	return cw.n, nil
}

// ReadFrom deserializes a record written by WriteTo.
func (rec *ExecutionRecord) ReadFrom(r io.Reader) (int64, error) {
	var read int64
	header := make([]uint64, 3)
	if err := binary.Read(r, binary.LittleEndian, header); err != nil {
		return read, err
	}
	read += 24
	rec.BaseShard = uint32(header[0])

	cols := make([][]uint64, 9)
	for i := range cols {
		n, col, err := ioutils.ReadAndDecompressUints64(r)
		read += int64(n)
		if err != nil {
			return read, err
		}
		cols[i] = col
	}

	// the header's event counts must agree with every decompressed column
	for i := 0; i < 5; i++ {
		if uint64(len(cols[i])) != header[1] {
			return read, fmt.Errorf("%w: cpu column %d has %d entries, header claims %d", ErrRecordCorrupt, i, len(cols[i]), header[1])
		}
	}
	for i := 5; i < 9; i++ {
		if uint64(len(cols[i])) != header[2] {
			return read, fmt.Errorf("%w: memory column %d has %d entries, header claims %d", ErrRecordCorrupt, i-5, len(cols[i]), header[2])
		}
	}

	rec.CPUEvents = make([]CPUEvent, header[1])
	for i := range rec.CPUEvents {
		rec.CPUEvents[i] = CPUEvent{
			Cycle: cols[0][i],
			PC:    cols[1][i],
			Op:    uint8(cols[2][i]),
			Imm:   cols[3][i],
			Acc:   cols[4][i],
		}
	}
	rec.MemEvents = make([]MemoryEvent, header[2])
	for i := range rec.MemEvents {
		rec.MemEvents[i] = MemoryEvent{
			Cycle: cols[5][i],
			Addr:  cols[6][i],
			Value: cols[7][i],
			Write: cols[8][i] == 1,
		}
	}

	if _, err := io.ReadFull(r, rec.PublicValues.StreamDigest[:]); err != nil {
		return read, err
	}
	read += 32
	if err := binary.Read(r, binary.LittleEndian, &rec.PublicValues.ExitCode); err != nil {
		return read, err
	}
	read += 4
	return read, nil
}

// Digest returns a binding digest of the record, used to detect replay
// divergence between the commit and prove passes.
func (rec *ExecutionRecord) Digest() ([32]byte, error) {
	var buf bytes.Buffer
	if _, err := rec.WriteTo(&buf); err != nil {
		return [32]byte{}, err
	}
	return blake2b.Sum256(buf.Bytes()), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
