// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/machina/runtime"
)

// ShardingConfig is the sharding policy. It is a pure function input and
// is never mutated during a run.
type ShardingConfig struct {
	// MaxEventsPerShard caps the number of processor events per shard.
	MaxEventsPerShard int
}

// DefaultShardingConfig matches the default checkpoint size.
func DefaultShardingConfig() ShardingConfig {
	return ShardingConfig{MaxEventsPerShard: 1 << 19}
}

// Shard is a contiguous slice of an execution record together with its
// position in global execution order.
type Shard struct {
	Index  uint32
	Record *runtime.ExecutionRecord
}

// PublicValues derives the shard's public-values vector: the record's
// public values followed by the shard index.
func (s *Shard) PublicValues() []fr.Element {
	res := s.Record.PublicValues.ToElements()
	var idx fr.Element
	idx.SetUint64(uint64(s.Index))
	return append(res, idx)
}

// ShardRecord splits a record into shards of at most
// cfg.MaxEventsPerShard processor events, assigning contiguous increasing
// indices starting at rec.BaseShard. Memory events follow the cycle range
// of their shard.
//
// It is a pure function: identical (record, config) inputs always yield
// identical shards, byte for byte. The commit and the prove pass both
// rely on that.
func ShardRecord(rec *runtime.ExecutionRecord, cfg ShardingConfig) ([]Shard, error) {
	if cfg.MaxEventsPerShard <= 0 {
		return nil, fmt.Errorf("%w: max events per shard must be positive, got %d", ErrShardingViolation, cfg.MaxEventsPerShard)
	}

	n := len(rec.CPUEvents)
	nbShards := (n + cfg.MaxEventsPerShard - 1) / cfg.MaxEventsPerShard
	if nbShards == 0 {
		// an empty record still produces one (empty) shard so the public
		// values stay bound to the transcript
		nbShards = 1
	}

	shards := make([]Shard, 0, nbShards)
	memPos := 0
	for i := 0; i < nbShards; i++ {
		lo := i * cfg.MaxEventsPerShard
		hi := lo + cfg.MaxEventsPerShard
		if hi > n {
			hi = n
		}
		sub := &runtime.ExecutionRecord{
			BaseShard:    rec.BaseShard,
			CPUEvents:    rec.CPUEvents[lo:hi],
			PublicValues: rec.PublicValues,
		}
		// memory events are ordered by cycle; take those within the cpu
		// cycle range of this shard
		if hi > lo {
			endCycle := rec.CPUEvents[hi-1].Cycle
			memLo := memPos
			for memPos < len(rec.MemEvents) && rec.MemEvents[memPos].Cycle <= endCycle {
				memPos++
			}
			sub.MemEvents = rec.MemEvents[memLo:memPos]
		}
		shards = append(shards, Shard{
			Index:  rec.BaseShard + uint32(i),
			Record: sub,
		})
	}
	return shards, nil
}
