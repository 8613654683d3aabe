// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package prover

import (
	"fmt"
	"os"
)

// CheckpointStore holds the serialized engine snapshots produced by the
// execution pass until the proving pass replays them.
type CheckpointStore interface {
	Put(data []byte) error
	Get(i int) ([]byte, error)
	Count() int
	Close() error
}

// NewMemoryStore keeps checkpoints in memory. Suitable for tests and for
// executions whose state fits comfortably in RAM.
func NewMemoryStore() CheckpointStore {
	return &memoryStore{}
}

type memoryStore struct {
	checkpoints [][]byte
}

func (s *memoryStore) Put(data []byte) error {
	s.checkpoints = append(s.checkpoints, append([]byte(nil), data...))
	return nil
}

func (s *memoryStore) Get(i int) ([]byte, error) {
	if i < 0 || i >= len(s.checkpoints) {
		return nil, fmt.Errorf("checkpoint %d out of range [0, %d)", i, len(s.checkpoints))
	}
	return s.checkpoints[i], nil
}

func (s *memoryStore) Count() int { return len(s.checkpoints) }

func (s *memoryStore) Close() error {
	s.checkpoints = nil
	return nil
}

// NewDiskStore spills checkpoints to temporary files under dir (the system
// temp directory if dir is empty), so long executions do not hold every
// snapshot in memory at once. Close removes the files.
func NewDiskStore(dir string) CheckpointStore {
	return &diskStore{dir: dir}
}

type diskStore struct {
	dir   string
	paths []string
}

func (s *diskStore) Put(data []byte) error {
	f, err := os.CreateTemp(s.dir, "machina-checkpoint-*")
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	s.paths = append(s.paths, f.Name())
	return nil
}

func (s *diskStore) Get(i int) ([]byte, error) {
	if i < 0 || i >= len(s.paths) {
		return nil, fmt.Errorf("checkpoint %d out of range [0, %d)", i, len(s.paths))
	}
	return os.ReadFile(s.paths[i])
}

func (s *diskStore) Count() int { return len(s.paths) }

func (s *diskStore) Close() error {
	var firstErr error
	for _, p := range s.paths {
		if err := os.Remove(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.paths = nil
	return firstErr
}
