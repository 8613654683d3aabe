// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/machina/prover"
	"github.com/consensys/machina/runtime"
	"github.com/consensys/machina/stark"
	"github.com/spf13/cobra"
)

var proveCmd = &cobra.Command{
	Use:   "prove [program.bin]",
	Short: "executes a program and produces a machine proof of the run",
	Run:   cmdProve,
}

var (
	fProofPath     string
	fVkPath        string
	fInputPath     string
	fPreset        string
	fBatchSize     uint64
	fMaxEvents     int
	fWorkers       int
	fCheckpointDir string
)

func init() {
	rootCmd.AddCommand(proveCmd)
	proveCmd.PersistentFlags().StringVar(&fProofPath, "proof", "", "specifies full path for proof -- default is ./[program].proof")
	proveCmd.PersistentFlags().StringVar(&fVkPath, "vk", "", "specifies full path for verifying key -- default is ./[program].vk")
	proveCmd.PersistentFlags().StringVar(&fInputPath, "input", "", "specifies full path for input file")
	proveCmd.PersistentFlags().StringVar(&fPreset, "preset", "keccak", "backend preset (mimc | keccak | blake2b)")
	proveCmd.PersistentFlags().Uint64Var(&fBatchSize, "batch", 0, "cycles per checkpoint segment, 0 proves in one pass")
	proveCmd.PersistentFlags().IntVar(&fMaxEvents, "max-events", 0, "maximum events per shard, 0 uses the default")
	proveCmd.PersistentFlags().IntVar(&fWorkers, "workers", 1, "number of concurrent shard provers")
	proveCmd.PersistentFlags().StringVar(&fCheckpointDir, "checkpoint-dir", "", "spill checkpoints to this directory instead of memory")
}

func cmdProve(cmd *cobra.Command, args []string) {
	if len(args) < 1 {
		fmt.Println("missing program path -- machina prove -h for help")
		os.Exit(-1)
	}
	programPath := filepath.Clean(args[0])
	programName := programBaseName(programPath)

	program, err := loadProgram(programPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(-1)
	}
	fmt.Printf("%-30s %-30s %-d instructions\n", "loaded program", programPath, len(program.Instructions))

	var input []byte
	if fInputPath != "" {
		input, err = os.ReadFile(filepath.Clean(fInputPath))
		if err != nil {
			fmt.Println("can't read input", err)
			os.Exit(-1)
		}
	}

	cfg, err := configFromPreset(fPreset)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(-1)
	}

	opts := prover.DefaultOpts()
	opts.ShardBatchSize = fBatchSize
	opts.NumWorkers = fWorkers
	opts.CheckpointDir = fCheckpointDir
	if fMaxEvents > 0 {
		opts.Sharding = stark.ShardingConfig{MaxEventsPerShard: fMaxEvents}
	}

	start := time.Now()
	res, err := prover.New(cfg, opts).Prove(context.Background(), program, input)
	if err != nil {
		fmt.Println("proof generation failed:", err)
		os.Exit(-1)
	}
	duration := time.Since(start)

	proofPath := filepath.Join(".", programName+".proof")
	if fProofPath != "" {
		proofPath = fProofPath
	}
	if err := writeProof(proofPath, res.Proof); err != nil {
		fmt.Println("error:", err)
		os.Exit(-1)
	}
	vkPath := filepath.Join(".", programName+".vk")
	if fVkPath != "" {
		vkPath = fVkPath
	}
	if err := writeVerifyingKey(vkPath, res.VerifyingKey); err != nil {
		fmt.Println("error:", err)
		os.Exit(-1)
	}

	fmt.Printf("%-30s %-30s %-30s\n", "generated proof", proofPath, duration)
	fmt.Printf("%-30s %-30s\n", "generated verifying key", vkPath)
	fmt.Printf("%-30s %d shards, %d cycles\n", "execution", len(res.Proof.ShardProofs), res.Cycles)
	fmt.Printf("%-30s %s\n", "public output", hex.EncodeToString(res.PublicStream))
}

func programBaseName(path string) string {
	name := filepath.Base(path)
	return name[:len(name)-len(filepath.Ext(name))]
}

func loadProgram(path string) (*runtime.Program, error) {
	if !fileExists(path) {
		return nil, fmt.Errorf("%s: no such file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var program runtime.Program
	if err := program.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &program, nil
}

func configFromPreset(name string) (stark.Config, error) {
	preset, err := stark.PresetFromString(name)
	if err != nil {
		return stark.Config{}, err
	}
	return stark.NewConfig(preset)
}

func writeProof(path string, proof *stark.MachineProof) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := proof.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeVerifyingKey(path string, vk *stark.VerifyingKey) error {
	data, err := vk.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
