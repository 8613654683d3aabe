// Copyright 2020-2025 Consensys Software Inc.
// Licensed under the Apache License, Version 2.0. See the LICENSE file for details.

package stark

import (
	"errors"
	"fmt"
)

var (
	// ErrVerificationFailed wraps every proof rejection. Callers can rely
	// on errors.Is(err, ErrVerificationFailed) to distinguish an invalid
	// proof from an infrastructure fault; the sentinels below refine the
	// reason and all wrap it.
	ErrVerificationFailed = errors.New("verification failed")

	// ErrProofOfWork signals a grinding nonce that does not meet the
	// configured difficulty.
	ErrProofOfWork = fmt.Errorf("%w: proof of work check failed", ErrVerificationFailed)

	// ErrLowDegree signals a failed proof of proximity.
	ErrLowDegree = fmt.Errorf("%w: proof of proximity rejected", ErrVerificationFailed)

	// ErrOpeningMismatch signals a query opening inconsistent with the
	// committed oracle.
	ErrOpeningMismatch = fmt.Errorf("%w: opening proof rejected", ErrVerificationFailed)

	// ErrPublicValuesMismatch signals shard public values that disagree
	// with the machine proof's claimed public values.
	ErrPublicValuesMismatch = fmt.Errorf("%w: public values mismatch", ErrVerificationFailed)

	// ErrShardingViolation signals shard indices that are not contiguous
	// and strictly increasing.
	ErrShardingViolation = errors.New("shard indices not contiguous")

	// ErrDegreeBound signals a trace larger than the configured bound, or
	// a padded size that is not a power of two.
	ErrDegreeBound = errors.New("degree bound exceeded")

	// ErrInvalidPreset signals an unknown backend configuration tag.
	ErrInvalidPreset = errors.New("unknown backend preset")
)
