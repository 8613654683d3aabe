// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package prover orchestrates checkpoint-sharded proof construction: an
// execute pass snapshots the engine at cycle boundaries, a commit pass
// replays each snapshot and binds every shard commitment into one canonical
// transcript, and a prove pass fans shard proving out across workers using
// clones of that transcript.
package prover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/consensys/machina/logger"
	"github.com/consensys/machina/runtime"
	"github.com/consensys/machina/stark"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Opts configures a Prover.
type Opts struct {
	// ShardBatchSize is the number of cycles executed per checkpoint
	// segment. Zero disables checkpointing: the whole execution is run,
	// sharded and proven in one pass.
	ShardBatchSize uint64

	// Sharding bounds the number of events per shard.
	Sharding stark.ShardingConfig

	// CheckpointDir is where checkpoint snapshots are spilled. Empty
	// keeps them in memory.
	CheckpointDir string

	// NumWorkers bounds concurrent shard proving. Zero means one.
	NumWorkers int
}

// DefaultOpts returns the options used when none are supplied: in-memory
// checkpointing disabled, default shard capacity, sequential proving.
func DefaultOpts() Opts {
	return Opts{
		Sharding:   stark.DefaultShardingConfig(),
		NumWorkers: 1,
	}
}

// Result bundles the outcome of a proving run.
type Result struct {
	Proof        *stark.MachineProof
	VerifyingKey *stark.VerifyingKey
	PublicStream []byte
	Cycles       uint64
}

// Prover drives the three-pass protocol for one backend configuration.
// It is safe to reuse across programs.
type Prover struct {
	machine *stark.Machine
	opts    Opts
	workers []Worker
	log     zerolog.Logger
}

// New returns a Prover. Extra workers, if any, take part in the prove pass;
// a worker answering ErrWorkerUnavailable has its task re-proven locally.
func New(cfg stark.Config, opts Opts, workers ...Worker) *Prover {
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Sharding.MaxEventsPerShard == 0 {
		opts.Sharding = stark.DefaultShardingConfig()
	}
	return &Prover{
		machine: stark.NewMachine(cfg),
		opts:    opts,
		workers: workers,
		log:     logger.With("prover"),
	}
}

// Machine returns the underlying proving machine.
func (p *Prover) Machine() *stark.Machine { return p.machine }

// Prove executes the program on the given input and produces a machine
// proof of the run together with its public output stream. Peak memory is
// bounded by the shard batch size, not by total cycle count.
func (p *Prover) Prove(ctx context.Context, program *runtime.Program, input []byte) (*Result, error) {
	start := time.Now()

	pk, vk, err := p.machine.Setup(program)
	if err != nil {
		return nil, err
	}

	var res *Result
	if p.opts.ShardBatchSize == 0 {
		res, err = p.proveOneBatch(ctx, program, input, pk, vk)
	} else {
		res, err = p.proveCheckpointed(ctx, program, input, pk, vk, -1)
	}
	if err != nil {
		return nil, err
	}

	p.logSummary(res, time.Since(start))
	return res, nil
}

// ProvePartial proves only the shards belonging to one checkpoint segment.
// The execute and commit passes still cover the full run, so the returned
// shard proofs are bound to the complete transcript; concatenating partial
// results in checkpoint order reassembles a full machine proof.
func (p *Prover) ProvePartial(ctx context.Context, program *runtime.Program, input []byte, checkpointIndex int) (*Result, error) {
	if p.opts.ShardBatchSize == 0 {
		return nil, fmt.Errorf("prover: partial proving requires a nonzero shard batch size")
	}
	start := time.Now()

	pk, vk, err := p.machine.Setup(program)
	if err != nil {
		return nil, err
	}
	res, err := p.proveCheckpointed(ctx, program, input, pk, vk, checkpointIndex)
	if err != nil {
		return nil, err
	}
	p.logSummary(res, time.Since(start))
	return res, nil
}

// proveOneBatch is the fast path: no checkpointing, no replay. The whole
// record lives in memory and is sharded, committed and proven directly.
func (p *Prover) proveOneBatch(ctx context.Context, program *runtime.Program, input []byte, pk *stark.ProvingKey, vk *stark.VerifyingKey) (*Result, error) {
	rt := runtime.New(program, runtime.Opts{})
	rt.Write(input)
	if err := rt.Run(); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	rec := rt.Record

	shards, err := stark.ShardRecord(rec, p.opts.Sharding)
	if err != nil {
		return nil, err
	}

	cfg := p.machine.Config()
	ch := stark.NewChallenger(cfg)
	vk.ObserveInto(ch)
	openings := make([]*stark.OpeningData, len(shards))
	for i, shard := range shards {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := stark.CommitMain(cfg, p.machine, shard)
		if err != nil {
			return nil, err
		}
		ch.Observe(data.MainCommitment)
		ch.ObserveElements(shard.PublicValues())
		openings[i] = data
	}
	state := ch.State()

	proofs := make([]stark.ShardProof, len(openings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.NumWorkers)
	for i, data := range openings {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			proof, err := stark.ProveShard(cfg, pk, data, stark.RestoreChallenger(cfg, state))
			if err != nil {
				return err
			}
			proofs[i] = *proof
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	proof := &stark.MachineProof{ShardProofs: proofs, PublicValues: rec.PublicValues}
	if err := proof.Validate(); err != nil {
		return nil, err
	}
	return &Result{
		Proof:        proof,
		VerifyingKey: vk,
		PublicStream: rt.PublicValuesStream(),
		Cycles:       rec.NbCycles(),
	}, nil
}

// segment is the per-checkpoint outcome of the commit pass.
type segment struct {
	baseShard    uint32
	nbShards     int
	recordDigest [32]byte
}

// proveCheckpointed runs the three-pass protocol. If only is >= 0, the
// prove pass covers that checkpoint segment alone.
func (p *Prover) proveCheckpointed(ctx context.Context, program *runtime.Program, input []byte, pk *stark.ProvingKey, vk *stark.VerifyingKey, only int) (*Result, error) {
	store := p.newStore()
	defer store.Close()

	// execute pass: snapshot, advance, repeat
	rt := runtime.New(program, runtime.Opts{BatchSize: p.opts.ShardBatchSize})
	rt.Write(input)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		checkpoint, done, err := rt.ExecuteUntilCheckpoint()
		if err != nil {
			return nil, fmt.Errorf("execute: %w", err)
		}
		blob, err := checkpoint.MarshalBinary()
		if err != nil {
			return nil, err
		}
		if err := store.Put(blob); err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	pv := rt.PublicValues()
	stream := rt.PublicValuesStream()
	p.log.Debug().Int("checkpoints", store.Count()).Msg("execute pass done")

	if only >= 0 && only >= store.Count() {
		return nil, fmt.Errorf("prover: checkpoint index %d out of range [0, %d)", only, store.Count())
	}

	// commit pass: replay each checkpoint and observe every shard
	// commitment into the canonical challenger, in shard order
	cfg := p.machine.Config()
	ch := stark.NewChallenger(cfg)
	vk.ObserveInto(ch)

	segments := make([]segment, 0, store.Count())
	var cached []*stark.OpeningData
	nextShard := uint32(0)
	var cycles uint64
	for i := 0; i < store.Count(); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, report, err := p.replay(store, i, program, input, nextShard, pv)
		if err != nil {
			return nil, err
		}
		digest, err := rec.Digest()
		if err != nil {
			return nil, err
		}
		shards, err := stark.ShardRecord(rec, p.opts.Sharding)
		if err != nil {
			return nil, err
		}
		for _, shard := range shards {
			data, err := stark.CommitMain(cfg, p.machine, shard)
			if err != nil {
				return nil, err
			}
			ch.Observe(data.MainCommitment)
			ch.ObserveElements(shard.PublicValues())
			if store.Count() == 1 {
				// single checkpoint: the whole trace is already in
				// memory, the prove pass reuses it instead of replaying
				cached = append(cached, data)
			}
		}
		segments = append(segments, segment{baseShard: nextShard, nbShards: len(shards), recordDigest: digest})
		nextShard += uint32(len(shards))
		cycles += report.Cycles
	}
	state := ch.State()

	// prove pass
	var shardProofs []stark.ShardProof
	var err error
	if cached != nil && only <= 0 {
		shardProofs = make([]stark.ShardProof, len(cached))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.NumWorkers)
		for i, data := range cached {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				proof, err := stark.ProveShard(cfg, pk, data, stark.RestoreChallenger(cfg, state))
				if err != nil {
					return err
				}
				shardProofs[i] = *proof
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		tasks, terr := p.buildTasks(store, segments, pv, state, only)
		if terr != nil {
			return nil, terr
		}
		shardProofs, err = p.dispatch(ctx, pk, program, input, tasks)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(shardProofs, func(i, j int) bool { return shardProofs[i].Index < shardProofs[j].Index })

	proof := &stark.MachineProof{ShardProofs: shardProofs, PublicValues: pv}
	if err := proof.Validate(); err != nil {
		return nil, err
	}
	return &Result{
		Proof:        proof,
		VerifyingKey: vk,
		PublicStream: stream,
		Cycles:       cycles,
	}, nil
}

func (p *Prover) replay(store CheckpointStore, i int, program *runtime.Program, input []byte, baseShard uint32, pv runtime.PublicValues) (*runtime.ExecutionRecord, *runtime.Report, error) {
	blob, err := store.Get(i)
	if err != nil {
		return nil, nil, err
	}
	var checkpoint runtime.Checkpoint
	if err := checkpoint.UnmarshalBinary(blob); err != nil {
		return nil, nil, fmt.Errorf("checkpoint %d: %w", i, err)
	}
	rt := runtime.Recover(program, &checkpoint, runtime.Opts{BatchSize: p.opts.ShardBatchSize})
	rt.Write(input)
	rec, report, err := rt.ExecuteRecord()
	if err != nil {
		return nil, nil, fmt.Errorf("replay checkpoint %d: %w", i, err)
	}
	rec.BaseShard = baseShard
	rec.PublicValues = pv
	return rec, report, nil
}

func (p *Prover) buildTasks(store CheckpointStore, segments []segment, pv runtime.PublicValues, state []byte, only int) ([]*Task, error) {
	lo, hi := 0, store.Count()
	if only >= 0 {
		lo, hi = only, only+1
	}
	tasks := make([]*Task, 0, hi-lo)
	for i := lo; i < hi; i++ {
		blob, err := store.Get(i)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, &Task{
			CheckpointIndex: i,
			Checkpoint:      blob,
			BaseShard:       segments[i].baseShard,
			PublicValues:    pv,
			ChallengerState: state,
			RecordDigest:    segments[i].recordDigest,
		})
	}
	return tasks, nil
}

// dispatch fans tasks out across the configured workers and reassembles the
// results. Workers may finish in any order; the caller re-sorts by shard
// index before aggregation.
func (p *Prover) dispatch(ctx context.Context, pk *stark.ProvingKey, program *runtime.Program, input []byte, tasks []*Task) ([]stark.ShardProof, error) {
	local := NewLocalWorker(p.machine, pk, program, input, p.opts.ShardBatchSize, p.opts.Sharding)

	results := make([][]stark.ShardProof, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.NumWorkers)
	for i, task := range tasks {
		g.Go(func() error {
			w := p.workerFor(i, local)
			proofs, err := w.Prove(gctx, task)
			if errors.Is(err, ErrWorkerUnavailable) {
				p.log.Warn().Int("checkpoint", task.CheckpointIndex).Msg("worker unavailable, proving locally")
				proofs, err = local.Prove(gctx, task)
			}
			if err != nil {
				return err
			}
			results[i] = proofs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []stark.ShardProof
	for _, proofs := range results {
		out = append(out, proofs...)
	}
	return out, nil
}

func (p *Prover) workerFor(i int, local Worker) Worker {
	if len(p.workers) == 0 {
		return local
	}
	return p.workers[i%len(p.workers)]
}

func (p *Prover) newStore() CheckpointStore {
	if p.opts.CheckpointDir != "" {
		return NewDiskStore(p.opts.CheckpointDir)
	}
	return NewMemoryStore()
}

func (p *Prover) logSummary(res *Result, took time.Duration) {
	proofBytes := 0
	var sizer countingWriter
	if _, err := res.Proof.WriteTo(&sizer); err == nil {
		proofBytes = int(sizer.n)
	}
	khz := float64(res.Cycles) / float64(took.Milliseconds()+1)
	p.log.Info().
		Uint64("cycles", res.Cycles).
		Int("shards", len(res.Proof.ShardProofs)).
		Int64("took_ms", took.Milliseconds()).
		Float64("khz", khz).
		Int("proof_bytes", proofBytes).
		Msg("proving done")
}

type countingWriter struct{ n int64 }

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
