// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/machina/runtime"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, preset Preset) Config {
	t.Helper()
	t.Setenv(friQueriesEnv, "4")
	cfg, err := NewConfig(preset)
	require.NoError(t, err)
	return cfg
}

func runProgram(t *testing.T, steps int) (*runtime.Program, *runtime.ExecutionRecord) {
	t.Helper()
	instructions := make([]runtime.Instruction, 0, steps+2)
	for i := 0; i < steps; i++ {
		instructions = append(instructions, runtime.Instruction{Op: runtime.OpAdd, Imm: uint64(i)})
	}
	instructions = append(instructions,
		runtime.Instruction{Op: runtime.OpCommit},
		runtime.Instruction{Op: runtime.OpHalt},
	)
	program := runtime.NewProgram(instructions)
	rt := runtime.New(program, runtime.Opts{})
	require.NoError(t, rt.Run())
	return program, rt.Record
}

// proveRecord drives the shard-level protocol by hand: commit every shard,
// observe commitments in shard order, then prove with challenger clones.
func proveRecord(t *testing.T, cfg Config, m *Machine, pk *ProvingKey, vk *VerifyingKey, rec *runtime.ExecutionRecord, sharding ShardingConfig) *MachineProof {
	t.Helper()
	assert := require.New(t)

	shards, err := ShardRecord(rec, sharding)
	assert.NoError(err)

	ch := NewChallenger(cfg)
	vk.ObserveInto(ch)
	openings := make([]*OpeningData, len(shards))
	for i, shard := range shards {
		data, err := CommitMain(cfg, m, shard)
		assert.NoError(err)
		ch.Observe(data.MainCommitment)
		ch.ObserveElements(shard.PublicValues())
		openings[i] = data
	}

	proofs := make([]ShardProof, len(openings))
	for i, data := range openings {
		proof, err := ProveShard(cfg, pk, data, ch.Clone())
		assert.NoError(err)
		proofs[i] = *proof
	}
	return &MachineProof{ShardProofs: proofs, PublicValues: rec.PublicValues}
}

func TestProveVerify(t *testing.T) {
	for _, preset := range []Preset{KECCAK_256, BLAKE2B_256} {
		t.Run(preset.String(), func(t *testing.T) {
			assert := require.New(t)
			cfg := testConfig(t, preset)
			m := NewMachine(cfg)

			program, rec := runProgram(t, 20)
			pk, vk, err := m.Setup(program)
			assert.NoError(err)

			proof := proveRecord(t, cfg, m, pk, vk, rec, ShardingConfig{MaxEventsPerShard: 8})
			assert.Greater(len(proof.ShardProofs), 1)
			assert.NoError(m.Verify(vk, proof))
		})
	}
}

func TestProveVerifyMiMC(t *testing.T) {
	if testing.Short() {
		t.Skip("mimc commitment hashing is slow")
	}
	assert := require.New(t)
	cfg := testConfig(t, MIMC_BN254)
	m := NewMachine(cfg)

	program, rec := runProgram(t, 6)
	pk, vk, err := m.Setup(program)
	assert.NoError(err)

	proof := proveRecord(t, cfg, m, pk, vk, rec, DefaultShardingConfig())
	assert.NoError(m.Verify(vk, proof))
}

func TestVerifyRejectsTamperedCommitment(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, KECCAK_256)
	m := NewMachine(cfg)

	program, rec := runProgram(t, 10)
	pk, vk, err := m.Setup(program)
	assert.NoError(err)
	proof := proveRecord(t, cfg, m, pk, vk, rec, DefaultShardingConfig())

	proof.ShardProofs[0].MainCommitment[0] ^= 1
	assert.ErrorIs(m.Verify(vk, proof), ErrVerificationFailed)
}

func TestVerifyRejectsTamperedEvaluation(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, KECCAK_256)
	m := NewMachine(cfg)

	program, rec := runProgram(t, 10)
	pk, vk, err := m.Setup(program)
	assert.NoError(err)
	proof := proveRecord(t, cfg, m, pk, vk, rec, DefaultShardingConfig())

	var one fr.Element
	one.SetOne()
	proof.ShardProofs[0].Evaluations[0].Add(&proof.ShardProofs[0].Evaluations[0], &one)
	assert.ErrorIs(m.Verify(vk, proof), ErrVerificationFailed)
}

func TestVerifyRejectsTamperedPublicValues(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, KECCAK_256)
	m := NewMachine(cfg)

	program, rec := runProgram(t, 10)
	pk, vk, err := m.Setup(program)
	assert.NoError(err)
	proof := proveRecord(t, cfg, m, pk, vk, rec, DefaultShardingConfig())

	proof.PublicValues.ExitCode++
	assert.ErrorIs(m.Verify(vk, proof), ErrPublicValuesMismatch)
}

func TestVerifyRejectsWrongNonce(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, KECCAK_256)
	m := NewMachine(cfg)

	program, rec := runProgram(t, 10)
	pk, vk, err := m.Setup(program)
	assert.NoError(err)
	proof := proveRecord(t, cfg, m, pk, vk, rec, DefaultShardingConfig())

	proof.ShardProofs[0].PowNonce++
	err = m.Verify(vk, proof)
	assert.ErrorIs(err, ErrProofOfWork)
	assert.ErrorIs(err, ErrVerificationFailed)
}

func TestCommitMainDeterminism(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, BLAKE2B_256)
	m := NewMachine(cfg)

	_, rec := runProgram(t, 12)
	shards, err := ShardRecord(rec, DefaultShardingConfig())
	assert.NoError(err)

	a, err := CommitMain(cfg, m, shards[0])
	assert.NoError(err)
	b, err := CommitMain(cfg, m, shards[0])
	assert.NoError(err)
	assert.Equal(a.MainCommitment, b.MainCommitment)
	assert.Equal(a.ColumnRoots, b.ColumnRoots)
	assert.Equal(a.PaddedSize, b.PaddedSize)
}

func TestSetupDeterminism(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, KECCAK_256)

	p := runtime.NewProgram([]runtime.Instruction{
		{Op: runtime.OpAdd, Imm: 1},
		{Op: runtime.OpHalt},
	})
	_, vk1, err := NewMachine(cfg).Setup(p)
	assert.NoError(err)
	_, vk2, err := NewMachine(cfg).Setup(p)
	assert.NoError(err)
	assert.Equal(vk1.ProgramDigest, vk2.ProgramDigest)

	q := runtime.NewProgram([]runtime.Instruction{
		{Op: runtime.OpAdd, Imm: 2},
		{Op: runtime.OpHalt},
	})
	_, vk3, err := NewMachine(cfg).Setup(q)
	assert.NoError(err)
	assert.NotEqual(vk1.ProgramDigest, vk3.ProgramDigest)
}

func TestVerifyingKeyRoundTrip(t *testing.T) {
	assert := require.New(t)
	cfg := testConfig(t, BLAKE2B_256)

	_, vk, err := NewMachine(cfg).Setup(runtime.NewProgram([]runtime.Instruction{{Op: runtime.OpHalt}}))
	assert.NoError(err)

	data, err := vk.MarshalBinary()
	assert.NoError(err)
	var decoded VerifyingKey
	assert.NoError(decoded.UnmarshalBinary(data))
	assert.Equal(*vk, decoded)
}
