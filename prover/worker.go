// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package prover

import (
	"context"
	"errors"
	"fmt"

	"github.com/consensys/machina/runtime"
	"github.com/consensys/machina/stark"
	"github.com/fxamacker/cbor/v2"
)

var (
	// ErrWorkerUnavailable signals that a worker cannot take a task; the
	// coordinator falls back to proving the task locally.
	ErrWorkerUnavailable = errors.New("prover: worker unavailable")

	// ErrReplayNonDeterminism is returned when a replayed segment produces
	// different events than the commitment pass observed.
	ErrReplayNonDeterminism = errors.New("prover: replay diverged from committed execution")
)

// Task is the self-contained unit of proving work handed to a worker: one
// checkpoint, the shard range it covers and the post-observation transcript
// state shared by every shard of the execution.
type Task struct {
	CheckpointIndex int
	Checkpoint      []byte
	BaseShard       uint32
	PublicValues    runtime.PublicValues
	ChallengerState []byte
	RecordDigest    [32]byte
}

// taskAlias has the same layout as Task but none of its methods, so the
// cbor codec encodes it field-wise instead of dispatching back to
// MarshalBinary/UnmarshalBinary.
type taskAlias Task

// MarshalBinary serializes the task for transport to a remote worker.
func (t *Task) MarshalBinary() ([]byte, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return enc.Marshal((*taskAlias)(t))
}

// UnmarshalBinary deserializes a task produced by MarshalBinary.
func (t *Task) UnmarshalBinary(data []byte) error {
	return cbor.Unmarshal(data, (*taskAlias)(t))
}

// Worker proves the shards of one checkpoint segment. Implementations may
// run in-process or ship the task elsewhere.
type Worker interface {
	Prove(ctx context.Context, task *Task) ([]stark.ShardProof, error)
}

// LocalWorker replays a checkpoint segment in-process and proves its shards.
type LocalWorker struct {
	machine   *stark.Machine
	pk        *stark.ProvingKey
	program   *runtime.Program
	input     []byte
	batchSize uint64
	sharding  stark.ShardingConfig
}

// NewLocalWorker returns a worker bound to one program and input. The batch
// size must match the one used during the execution pass.
func NewLocalWorker(m *stark.Machine, pk *stark.ProvingKey, p *runtime.Program, input []byte, batchSize uint64, sharding stark.ShardingConfig) *LocalWorker {
	return &LocalWorker{
		machine:   m,
		pk:        pk,
		program:   p,
		input:     input,
		batchSize: batchSize,
		sharding:  sharding,
	}
}

// Prove replays the task's checkpoint, checks the replay against the digest
// recorded during the commitment pass, and proves every shard of the segment.
func (w *LocalWorker) Prove(ctx context.Context, task *Task) ([]stark.ShardProof, error) {
	var checkpoint runtime.Checkpoint
	if err := checkpoint.UnmarshalBinary(task.Checkpoint); err != nil {
		return nil, fmt.Errorf("task %d: %w", task.CheckpointIndex, err)
	}

	rt := runtime.Recover(w.program, &checkpoint, runtime.Opts{BatchSize: w.batchSize})
	rt.Write(w.input)
	rec, _, err := rt.ExecuteRecord()
	if err != nil {
		return nil, fmt.Errorf("task %d replay: %w", task.CheckpointIndex, err)
	}
	rec.BaseShard = task.BaseShard
	rec.PublicValues = task.PublicValues

	digest, err := rec.Digest()
	if err != nil {
		return nil, err
	}
	if digest != task.RecordDigest {
		return nil, fmt.Errorf("task %d: %w", task.CheckpointIndex, ErrReplayNonDeterminism)
	}

	shards, err := stark.ShardRecord(rec, w.sharding)
	if err != nil {
		return nil, err
	}

	cfg := w.machine.Config()
	proofs := make([]stark.ShardProof, 0, len(shards))
	for _, shard := range shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := stark.CommitMain(cfg, w.machine, shard)
		if err != nil {
			return nil, err
		}
		ch := stark.RestoreChallenger(cfg, task.ChallengerState)
		proof, err := stark.ProveShard(cfg, w.pk, data, ch)
		if err != nil {
			return nil, err
		}
		proofs = append(proofs, *proof)
	}
	return proofs, nil
}
