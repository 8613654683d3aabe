// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"encoding/binary"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	fiatshamir "github.com/consensys/gnark-crypto/fiat-shamir"
)

// Challenger accumulates commitments and public values in a strict append
// order and derives pseudorandom challenges bound to everything observed
// so far. There is exactly one canonical challenger per proof; Clone takes
// an independent copy so shard proving can fan out without mutating it.
type Challenger struct {
	cfg   Config
	state []byte
}

// NewChallenger returns a challenger with an empty transcript.
func NewChallenger(cfg Config) *Challenger {
	h := cfg.NewChallengeHash()
	return &Challenger{cfg: cfg, state: h.Sum(nil)}
}

// RestoreChallenger rebuilds a challenger from a serialized state, e.g. on
// a remote worker.
func RestoreChallenger(cfg Config, state []byte) *Challenger {
	return &Challenger{cfg: cfg, state: append([]byte(nil), state...)}
}

// Observe folds data into the transcript. Every observation changes all
// subsequently derived challenges.
func (c *Challenger) Observe(data ...[]byte) {
	h := c.cfg.NewChallengeHash()
	_, _ = h.Write(c.state)
	for _, d := range data {
		_, _ = h.Write(d)
	}
	c.state = h.Sum(nil)
}

// ObserveElements folds field elements into the transcript in canonical
// encoding.
func (c *Challenger) ObserveElements(els []fr.Element) {
	data := make([][]byte, len(els))
	for i := range els {
		b := els[i].Bytes()
		data[i] = b[:]
	}
	c.Observe(data...)
}

// State returns a copy of the accumulated transcript state.
func (c *Challenger) State() []byte {
	return append([]byte(nil), c.state...)
}

// Clone returns an independent copy; mutations of the clone never affect
// the original.
func (c *Challenger) Clone() *Challenger {
	return RestoreChallenger(c.cfg, c.state)
}

// deriveGammaZeta draws the folding challenge and the evaluation point for
// one shard, bound to the transcript state and the shard's commitment.
func deriveGammaZeta(cfg Config, state, commitment []byte) (gamma, zeta fr.Element, err error) {
	fs := fiatshamir.NewTranscript(cfg.NewChallengeHash(), "gamma", "zeta")
	if err = fs.Bind("gamma", state); err != nil {
		return
	}
	if err = fs.Bind("gamma", commitment); err != nil {
		return
	}
	var b []byte
	if b, err = fs.ComputeChallenge("gamma"); err != nil {
		return
	}
	gamma.SetBytes(b)
	if b, err = fs.ComputeChallenge("zeta"); err != nil {
		return
	}
	zeta.SetBytes(b)
	return
}

// deriveQueryPositions draws the opening query positions. The claimed
// evaluations and the grinding nonce are bound first, so tampering with
// either re-randomizes every expected position.
func deriveQueryPositions(cfg Config, state, commitment []byte, evals []fr.Element, nonce uint64, domainSize uint64) ([]uint64, error) {
	fs := fiatshamir.NewTranscript(cfg.NewChallengeHash(), "queries")
	if err := fs.Bind("queries", state); err != nil {
		return nil, err
	}
	if err := fs.Bind("queries", commitment); err != nil {
		return nil, err
	}
	for i := range evals {
		b := evals[i].Bytes()
		if err := fs.Bind("queries", b[:]); err != nil {
			return nil, err
		}
	}
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
	if err := fs.Bind("queries", nonceBytes[:]); err != nil {
		return nil, err
	}
	seed, err := fs.ComputeChallenge("queries")
	if err != nil {
		return nil, err
	}

	positions := make([]uint64, cfg.NbQueries())
	for i := range positions {
		h := cfg.NewChallengeHash()
		_, _ = h.Write(seed)
		var idx [4]byte
		binary.LittleEndian.PutUint32(idx[:], uint32(i))
		_, _ = h.Write(idx[:])
		digest := h.Sum(nil)
		positions[i] = binary.LittleEndian.Uint64(digest[:8]) % domainSize
	}
	return positions, nil
}

// powSeed derives the grinding target for one shard.
func powSeed(cfg Config, state, commitment []byte, evals []fr.Element) []byte {
	h := cfg.NewChallengeHash()
	_, _ = h.Write(state)
	_, _ = h.Write(commitment)
	for i := range evals {
		b := evals[i].Bytes()
		_, _ = h.Write(b[:])
	}
	return h.Sum(nil)
}

// checkPow reports whether the nonce meets the difficulty for the seed.
func checkPow(cfg Config, seed []byte, nonce uint64) bool {
	h := cfg.NewChallengeHash()
	_, _ = h.Write(seed)
	var nonceBytes [8]byte
	binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
	_, _ = h.Write(nonceBytes[:])
	digest := h.Sum(nil)

	bits := cfg.PowBits()
	for i := 0; bits > 0; i++ {
		if bits >= 8 {
			if digest[i] != 0 {
				return false
			}
			bits -= 8
			continue
		}
		if digest[i]>>(8-bits) != 0 {
			return false
		}
		bits = 0
	}
	return true
}

// grindPow searches the smallest nonce meeting the difficulty.
func grindPow(cfg Config, seed []byte) uint64 {
	for nonce := uint64(0); ; nonce++ {
		if checkPow(cfg, seed, nonce) {
			return nonce
		}
	}
}
