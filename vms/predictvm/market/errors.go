// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package market

import "errors"

var (
	ErrInvalidOptionCount      = errors.New("invalid option count")
	ErrInvalidOption           = errors.New("invalid option label")
	ErrInvalidTitle            = errors.New("invalid title")
	ErrInvalidOptionIndex      = errors.New("invalid option index")
	ErrInvalidStakeGranularity = errors.New("invalid stake granularity")
	ErrStakeTooLarge           = errors.New("stake too large")
	ErrProofVerificationFailed = errors.New("proof verification failed")
	ErrDuplicateBet            = errors.New("duplicate bet")
	ErrBetNotFound             = errors.New("bet not found")
	ErrPredictionAlreadyEnded  = errors.New("prediction already ended")
	ErrPredictionNotEnded      = errors.New("prediction not ended")
	ErrNotCreator              = errors.New("not creator")
	ErrAlreadyClaimed          = errors.New("already claimed")
)
