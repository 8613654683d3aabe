// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

// machina is a CLI around the checkpoint-sharded proving pipeline: setup,
// prove and verify for serialized programs.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version of the machina binary.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "machina",
	Short:   "machina proves and verifies program executions",
	Version: buildString(),
}

func buildString() string {
	return fmt.Sprintf("machina v%s", Version)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
