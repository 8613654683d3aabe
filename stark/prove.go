// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr/fri"
)

// ProveShard produces a proof for one committed shard. The challenger must
// carry the state reached after observing the verifying key and every shard
// commitment of the execution, in shard order; callers pass a Clone so the
// canonical challenger is not consumed.
func ProveShard(cfg Config, pk *ProvingKey, data *OpeningData, ch *Challenger) (*ShardProof, error) {
	state := ch.State()

	gamma, zeta, err := deriveGammaZeta(cfg, state, data.MainCommitment)
	if err != nil {
		return nil, err
	}

	// random linear combination of the trace columns; its low-degreeness
	// vouches for every column at once
	combined := make([]fr.Element, data.PaddedSize)
	var coeff fr.Element
	coeff.SetOne()
	var tmp fr.Element
	for i := range data.Columns {
		for j := range combined {
			tmp.Mul(&data.Columns[i][j], &coeff)
			combined[j].Add(&combined[j], &tmp)
		}
		coeff.Mul(&coeff, &gamma)
	}

	evals := make([]fr.Element, len(data.Columns))
	for i := range data.Columns {
		evals[i] = evalPoly(data.Columns[i], zeta)
	}

	iopp := fri.RADIX_2_FRI.New(data.PaddedSize, cfg.NewCommitmentHash())
	proximity, err := iopp.BuildProofOfProximity(combined)
	if err != nil {
		return nil, fmt.Errorf("shard %d proximity: %w", data.Shard.Index, err)
	}

	nonce := grindPow(cfg, powSeed(cfg, state, data.MainCommitment, evals))

	positions, err := deriveQueryPositions(cfg, state, data.MainCommitment, evals, nonce, data.PaddedSize*friRho)
	if err != nil {
		return nil, err
	}
	openings := make([]fri.OpeningProof, len(positions))
	for i, pos := range positions {
		openings[i], err = iopp.Open(combined, pos)
		if err != nil {
			return nil, fmt.Errorf("shard %d opening at %d: %w", data.Shard.Index, pos, err)
		}
	}

	return &ShardProof{
		Index:          data.Shard.Index,
		PublicValues:   data.Shard.PublicValues(),
		MainCommitment: data.MainCommitment,
		ColumnRoots:    data.ColumnRoots,
		Evaluations:    evals,
		PaddedSize:     data.PaddedSize,
		PowNonce:       nonce,
		Proximity:      proximity,
		Openings:       openings,
	}, nil
}

// evalPoly evaluates the polynomial whose coefficients are p at x.
func evalPoly(p []fr.Element, x fr.Element) fr.Element {
	var r fr.Element
	for i := len(p) - 1; i >= 0; i-- {
		r.Mul(&r, &x).Add(&r, &p[i])
	}
	return r
}
