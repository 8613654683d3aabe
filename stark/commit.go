// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"bytes"
	"fmt"
	"math/bits"

	"github.com/consensys/gnark-crypto/accumulator/merkletree"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
)

// Commitment is the binding digest of a committed shard trace.
type Commitment []byte

// OpeningData is the prover-side material kept between committing a shard
// and opening it: the padded trace columns and their roots. It never
// leaves the process; workers recompute it from the replayed record.
type OpeningData struct {
	Shard          Shard
	Columns        [][]fr.Element
	ColumnRoots    [][]byte
	MainCommitment Commitment
	PaddedSize     uint64
}

// CommitMain lays out the shard's trace columns, pads them to the next
// admissible size and commits each column to a Merkle root; the roots are
// folded into the single digest observed by the challenger.
func CommitMain(cfg Config, m *Machine, shard Shard) (*OpeningData, error) {
	chips := m.Chips()
	columns := make([][]fr.Element, len(chips))
	maxLen := 0
	for i, chip := range chips {
		columns[i] = chip.Trace(shard.Record)
		if len(columns[i]) > maxLen {
			maxLen = len(columns[i])
		}
	}

	paddedSize := nextPowerOfTwo(uint64(maxLen))
	if paddedSize < minTraceSize {
		paddedSize = minTraceSize
	}
	if paddedSize > uint64(1)<<cfg.MaxLogDegree() {
		return nil, fmt.Errorf("%w: shard %d needs %d rows, bound is 2^%d", ErrDegreeBound, shard.Index, paddedSize, cfg.MaxLogDegree())
	}

	roots := make([][]byte, len(chips))
	for i := range columns {
		padded := make([]fr.Element, paddedSize)
		copy(padded, columns[i])
		columns[i] = padded

		var buf bytes.Buffer
		for j := range padded {
			b := padded[j].Bytes()
			buf.Write(b[:])
		}
		root, _, _, err := merkletree.BuildReaderProof(&buf, cfg.NewCommitmentHash(), fr.Bytes, 0)
		if err != nil {
			return nil, fmt.Errorf("commit column %q: %w", chips[i].Name(), err)
		}
		roots[i] = root
	}

	h := cfg.NewCommitmentHash()
	for _, root := range roots {
		_, _ = h.Write(root)
	}

	return &OpeningData{
		Shard:          shard,
		Columns:        columns,
		ColumnRoots:    roots,
		MainCommitment: h.Sum(nil),
		PaddedSize:     paddedSize,
	}, nil
}

func nextPowerOfTwo(n uint64) uint64 {
	if n <= 1 {
		return 1
	}
	return 1 << (64 - bits.LeadingZeros64(n-1))
}
