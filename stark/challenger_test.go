// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"testing"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/stretchr/testify/require"
)

func TestChallengerDeterminism(t *testing.T) {
	assert := require.New(t)
	cfg := NewKeccakConfig()

	a := NewChallenger(cfg)
	b := NewChallenger(cfg)
	assert.Equal(a.State(), b.State())

	a.Observe([]byte("commitment-1"))
	b.Observe([]byte("commitment-1"))
	assert.Equal(a.State(), b.State())

	a.Observe([]byte("commitment-2"))
	assert.NotEqual(a.State(), b.State())
}

func TestChallengerObservationOrder(t *testing.T) {
	assert := require.New(t)
	cfg := NewBlake2bConfig()

	a := NewChallenger(cfg)
	a.Observe([]byte("x"))
	a.Observe([]byte("y"))

	b := NewChallenger(cfg)
	b.Observe([]byte("y"))
	b.Observe([]byte("x"))

	assert.NotEqual(a.State(), b.State())
}

func TestChallengerCloneIndependence(t *testing.T) {
	assert := require.New(t)
	cfg := NewKeccakConfig()

	canonical := NewChallenger(cfg)
	canonical.Observe([]byte("shared prefix"))

	clone := canonical.Clone()
	assert.Equal(canonical.State(), clone.State())

	clone.Observe([]byte("clone only"))
	assert.NotEqual(canonical.State(), clone.State())

	// a second clone of the untouched canonical still matches it
	assert.Equal(canonical.State(), canonical.Clone().State())
}

func TestChallengerRestore(t *testing.T) {
	assert := require.New(t)
	cfg := NewBlake2bConfig()

	ch := NewChallenger(cfg)
	ch.ObserveElements([]fr.Element{fr.NewElement(1), fr.NewElement(2)})
	state := ch.State()

	restored := RestoreChallenger(cfg, state)
	assert.Equal(ch.State(), restored.State())

	ch.Observe([]byte("more"))
	restored.Observe([]byte("more"))
	assert.Equal(ch.State(), restored.State())
}

func TestDeriveChallengesBinding(t *testing.T) {
	assert := require.New(t)
	cfg := NewKeccakConfig()

	state := NewChallenger(cfg).State()
	g1, z1, err := deriveGammaZeta(cfg, state, []byte("commitment"))
	assert.NoError(err)
	g2, z2, err := deriveGammaZeta(cfg, state, []byte("commitment"))
	assert.NoError(err)
	assert.True(g1.Equal(&g2))
	assert.True(z1.Equal(&z2))
	assert.False(g1.Equal(&z1))

	g3, _, err := deriveGammaZeta(cfg, state, []byte("other commitment"))
	assert.NoError(err)
	assert.False(g1.Equal(&g3))
}

func TestQueryPositionsBinding(t *testing.T) {
	assert := require.New(t)
	cfg := NewKeccakConfig()

	state := NewChallenger(cfg).State()
	evals := []fr.Element{fr.NewElement(11), fr.NewElement(12)}
	const domain = 1 << 10

	p1, err := deriveQueryPositions(cfg, state, []byte("c"), evals, 4, domain)
	assert.NoError(err)
	assert.Equal(cfg.NbQueries(), len(p1))
	for _, pos := range p1 {
		assert.Less(pos, uint64(domain))
	}

	p2, err := deriveQueryPositions(cfg, state, []byte("c"), evals, 4, domain)
	assert.NoError(err)
	assert.Equal(p1, p2)

	// tampering with an evaluation re-randomizes the positions
	tampered := []fr.Element{fr.NewElement(11), fr.NewElement(13)}
	p3, err := deriveQueryPositions(cfg, state, []byte("c"), tampered, 4, domain)
	assert.NoError(err)
	assert.NotEqual(p1, p3)

	// so does a different nonce
	p4, err := deriveQueryPositions(cfg, state, []byte("c"), evals, 5, domain)
	assert.NoError(err)
	assert.NotEqual(p1, p4)
}

func TestProofOfWork(t *testing.T) {
	assert := require.New(t)

	// low difficulty keeps the grind fast
	cfg := NewKeccakConfig()
	cfg.powBits = 8

	seed := []byte("pow seed")
	nonce := grindPow(cfg, seed)
	assert.True(checkPow(cfg, seed, nonce))

	// grindPow returns the smallest admissible nonce
	if nonce > 0 {
		assert.False(checkPow(cfg, seed, nonce-1))
	}
}
