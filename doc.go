// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// Package machina is a checkpoint-sharded STARK proving pipeline: it splits
// a program execution into memory-bounded shards, commits every shard under
// a single Fiat-Shamir transcript, proves the shards independently (locally
// or on distributed workers) and reassembles the results into one
// verifiable machine proof.
//
// The runtime package holds the reference execution engine, stark the
// shard-level proving protocol, and prover the multi-pass orchestration.
package machina
