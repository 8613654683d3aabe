// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package prover

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/consensys/machina/runtime"
	"github.com/consensys/machina/stark"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) stark.Config {
	t.Helper()
	t.Setenv("FRI_QUERIES", "4")
	return stark.NewKeccakConfig()
}

// stepProgram performs steps accumulator additions, commits the result and
// halts. Total cycle count is steps+2.
func stepProgram(steps int) *runtime.Program {
	instructions := make([]runtime.Instruction, 0, steps+2)
	for i := 0; i < steps; i++ {
		instructions = append(instructions, runtime.Instruction{Op: runtime.OpAdd, Imm: uint64(i)})
	}
	instructions = append(instructions,
		runtime.Instruction{Op: runtime.OpCommit},
		runtime.Instruction{Op: runtime.OpHalt},
	)
	return runtime.NewProgram(instructions)
}

func expectedStream(steps int) []byte {
	acc := uint64(0)
	for i := 0; i < steps; i++ {
		acc += uint64(i)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], acc)
	return b[:]
}

func verifyResult(t *testing.T, cfg stark.Config, res *Result) {
	t.Helper()
	require.NoError(t, stark.NewMachine(cfg).Verify(res.VerifyingKey, res.Proof))
}

func TestProveFastPath(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	opts := DefaultOpts()
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 8}
	res, err := New(cfg, opts).Prove(context.Background(), stepProgram(20), nil)
	assert.NoError(err)

	assert.Equal(expectedStream(20), res.PublicStream)
	assert.Equal(uint64(22), res.Cycles)
	assert.Greater(len(res.Proof.ShardProofs), 1)
	verifyResult(t, cfg, res)
}

func TestConcreteTwoShardScenario(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	// 16 steps + commit + halt = 18 cycles; a batch of 9 yields exactly
	// two checkpoints, each producing one shard
	opts := DefaultOpts()
	opts.ShardBatchSize = 9
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 9}
	res, err := New(cfg, opts).Prove(context.Background(), stepProgram(16), nil)
	assert.NoError(err)

	assert.Equal(2, len(res.Proof.ShardProofs))
	assert.Equal(uint32(0), res.Proof.ShardProofs[0].Index)
	assert.Equal(uint32(1), res.Proof.ShardProofs[1].Index)
	assert.Equal(expectedStream(16), res.PublicStream)
	verifyResult(t, cfg, res)
}

func TestBatchingEquivalence(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)
	program := stepProgram(16)

	prove := func(batch uint64) *Result {
		opts := DefaultOpts()
		opts.ShardBatchSize = batch
		opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 9}
		res, err := New(cfg, opts).Prove(context.Background(), program, nil)
		assert.NoError(err)
		verifyResult(t, cfg, res)
		return res
	}

	fast := prove(0)
	batched := prove(5)
	single := prove(100)

	// proof shapes differ, semantics must not
	assert.Equal(fast.PublicStream, batched.PublicStream)
	assert.Equal(fast.PublicStream, single.PublicStream)
	assert.Equal(fast.Proof.PublicValues, batched.Proof.PublicValues)
	assert.Equal(fast.Proof.PublicValues, single.Proof.PublicValues)
	assert.Equal(fast.Cycles, batched.Cycles)
}

func TestSingleCheckpointReuse(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	// batch larger than the run: one checkpoint, shards proven from the
	// cached commit-pass data without replay
	opts := DefaultOpts()
	opts.ShardBatchSize = 1000
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 8}
	res, err := New(cfg, opts).Prove(context.Background(), stepProgram(20), nil)
	assert.NoError(err)
	assert.Greater(len(res.Proof.ShardProofs), 1)
	verifyResult(t, cfg, res)
}

func TestPartialProofReassembly(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)
	program := stepProgram(16)

	opts := DefaultOpts()
	opts.ShardBatchSize = 6
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 3}

	full, err := New(cfg, opts).Prove(context.Background(), program, nil)
	assert.NoError(err)
	verifyResult(t, cfg, full)

	var assembled stark.MachineProof
	for i := 0; ; i++ {
		partial, err := New(cfg, opts).ProvePartial(context.Background(), program, nil, i)
		if i >= 3 {
			assert.Error(err)
			break
		}
		assert.NoError(err)
		assembled.ShardProofs = append(assembled.ShardProofs, partial.Proof.ShardProofs...)
		assembled.PublicValues = partial.Proof.PublicValues
	}

	assert.Equal(len(full.Proof.ShardProofs), len(assembled.ShardProofs))
	assert.NoError(assembled.Validate())
	assert.NoError(stark.NewMachine(cfg).Verify(full.VerifyingKey, &assembled))
}

func TestParallelWorkers(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	opts := DefaultOpts()
	opts.ShardBatchSize = 4
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 4}
	opts.NumWorkers = 4
	res, err := New(cfg, opts).Prove(context.Background(), stepProgram(30), nil)
	assert.NoError(err)

	// regardless of completion order, shards come back sorted
	for i, sp := range res.Proof.ShardProofs {
		assert.Equal(uint32(i), sp.Index)
	}
	verifyResult(t, cfg, res)
}

func TestDiskCheckpoints(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	opts := DefaultOpts()
	opts.ShardBatchSize = 5
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 5}
	opts.CheckpointDir = t.TempDir()
	res, err := New(cfg, opts).Prove(context.Background(), stepProgram(16), nil)
	assert.NoError(err)
	verifyResult(t, cfg, res)
}

type unavailableWorker struct{}

func (unavailableWorker) Prove(context.Context, *Task) ([]stark.ShardProof, error) {
	return nil, ErrWorkerUnavailable
}

func TestWorkerUnavailableFallsBackLocally(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	opts := DefaultOpts()
	opts.ShardBatchSize = 6
	opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: 6}
	res, err := New(cfg, opts, unavailableWorker{}).Prove(context.Background(), stepProgram(16), nil)
	assert.NoError(err)
	verifyResult(t, cfg, res)
}

func TestProveCancellation(t *testing.T) {
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := DefaultOpts()
	opts.ShardBatchSize = 4
	_, err := New(cfg, opts).Prove(ctx, stepProgram(16), nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCheckpointStores(t *testing.T) {
	assert := require.New(t)

	for _, store := range []CheckpointStore{NewMemoryStore(), NewDiskStore(t.TempDir())} {
		assert.NoError(store.Put([]byte("first")))
		assert.NoError(store.Put([]byte("second")))
		assert.Equal(2, store.Count())

		got, err := store.Get(1)
		assert.NoError(err)
		assert.Equal([]byte("second"), got)

		_, err = store.Get(2)
		assert.Error(err)
		assert.NoError(store.Close())
		assert.Equal(0, store.Count())
	}
}

func TestTaskRoundTrip(t *testing.T) {
	assert := require.New(t)

	task := &Task{
		CheckpointIndex: 3,
		Checkpoint:      []byte{1, 2, 3},
		BaseShard:       7,
		PublicValues:    runtime.PublicValues{StreamDigest: [32]byte{9}, ExitCode: 1},
		ChallengerState: []byte{4, 5},
		RecordDigest:    [32]byte{8},
	}
	data, err := task.MarshalBinary()
	assert.NoError(err)

	var decoded Task
	assert.NoError(decoded.UnmarshalBinary(data))
	if diff := cmp.Diff(task, &decoded); diff != "" {
		t.Fatalf("task did not round-trip:\n%s", diff)
	}
}

func TestLocalWorkerDetectsCorruptCheckpoint(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	m := stark.NewMachine(cfg)
	program := stepProgram(4)
	pk, _, err := m.Setup(program)
	assert.NoError(err)

	w := NewLocalWorker(m, pk, program, nil, 4, stark.DefaultShardingConfig())
	_, err = w.Prove(context.Background(), &Task{Checkpoint: []byte("garbage")})
	assert.ErrorIs(err, runtime.ErrCheckpointCorrupt)
}

func TestLocalWorkerDetectsReplayDivergence(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t)

	m := stark.NewMachine(cfg)
	program := stepProgram(4)
	pk, _, err := m.Setup(program)
	assert.NoError(err)

	rt := runtime.New(program, runtime.Opts{BatchSize: 3})
	checkpoint, _, execErr := rt.ExecuteUntilCheckpoint()
	assert.NoError(execErr)
	blob, err := checkpoint.MarshalBinary()
	assert.NoError(err)

	w := NewLocalWorker(m, pk, program, nil, 3, stark.DefaultShardingConfig())
	_, err = w.Prove(context.Background(), &Task{
		Checkpoint:   blob,
		RecordDigest: [32]byte{0xde, 0xad}, // not what the replay produces
	})
	assert.ErrorIs(err, ErrReplayNonDeterminism)
}
