// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/consensys/machina/stark"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [proof]",
	Short: "verifies a machine proof against a verifying key",
	Run:   cmdVerify,
}

var fVerifyVkPath string

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.PersistentFlags().StringVar(&fVerifyVkPath, "vk", "", "specifies full path for verifying key")
	_ = verifyCmd.MarkPersistentFlagRequired("vk")
}

func cmdVerify(cmd *cobra.Command, args []string) {
	if len(args) < 1 {
		fmt.Println("missing proof path -- machina verify -h for help")
		os.Exit(-1)
	}
	proofPath := filepath.Clean(args[0])
	if !fileExists(proofPath) {
		fmt.Println(proofPath, "no such file")
		os.Exit(-1)
	}
	vkPath := filepath.Clean(fVerifyVkPath)
	if !fileExists(vkPath) {
		fmt.Println(vkPath, "no such file")
		os.Exit(-1)
	}

	vkData, err := os.ReadFile(vkPath)
	if err != nil {
		fmt.Println("can't read verifying key", err)
		os.Exit(-1)
	}
	var vk stark.VerifyingKey
	if err := vk.UnmarshalBinary(vkData); err != nil {
		fmt.Println("can't parse verifying key", err)
		os.Exit(-1)
	}
	fmt.Printf("%-30s %-30s\n", "loaded verifying key", vkPath)

	f, err := os.Open(proofPath)
	if err != nil {
		fmt.Println("can't open proof", err)
		os.Exit(-1)
	}
	var proof stark.MachineProof
	_, err = proof.ReadFrom(f)
	f.Close()
	if err != nil {
		fmt.Println("can't parse proof", err)
		os.Exit(-1)
	}

	cfg, err := stark.NewConfig(vk.Preset)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(-1)
	}

	start := time.Now()
	if err := stark.NewMachine(cfg).Verify(&vk, &proof); err != nil {
		fmt.Printf("%-30s %-30s %-30s\n", "proof is invalid", proofPath, time.Since(start))
		fmt.Println(err)
		os.Exit(-1)
	}
	fmt.Printf("%-30s %-30s %-30s\n", "proof is valid", proofPath, time.Since(start))
}
