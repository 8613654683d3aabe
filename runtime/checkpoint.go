// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package runtime

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ErrCheckpointCorrupt is returned when a serialized checkpoint cannot be
// decoded back into an engine-resumable state.
var ErrCheckpointCorrupt = errors.New("checkpoint corrupt")

// Checkpoint is a snapshot of engine state at a cycle boundary, sufficient
// to deterministically resume execution. Consumers outside this package
// treat it as an opaque serializable blob; no cross-version compatibility
// of the encoding is assumed.
type Checkpoint struct {
	PC           uint64
	Cycle        uint64
	Acc          uint64
	Mem          map[uint64]uint64
	InputPos     uint64
	PublicStream []byte
	Halted       bool
	ExitCode     uint32
}

// checkpointAlias has the same layout as Checkpoint but none of its
// methods, so the cbor codec encodes it field-wise instead of dispatching
// back to MarshalBinary/UnmarshalBinary.
type checkpointAlias Checkpoint

// MarshalBinary encodes the checkpoint with deterministic cbor, so that
// identical states always serialize to identical bytes.
func (c *Checkpoint) MarshalBinary() ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal((*checkpointAlias)(c))
}

// UnmarshalBinary decodes a checkpoint blob. A malformed blob is reported
// as ErrCheckpointCorrupt, never recovered silently.
func (c *Checkpoint) UnmarshalBinary(data []byte) error {
	if err := cbor.Unmarshal(data, (*checkpointAlias)(c)); err != nil {
		return fmt.Errorf("%w: %v", ErrCheckpointCorrupt, err)
	}
	return nil
}
