package types

import "errors"

var (
	// ErrEmptyRound is returned when a round carries no miner at all.
	ErrEmptyRound = errors.New("round has no miners")

	// ErrNoFirstMiner is returned when no slot holds order 1; such a round
	// cannot be scheduled from.
	ErrNoFirstMiner = errors.New("round has no miner at order 1")

	ErrBadRoundNumber  = errors.New("round/term number must be positive")
	ErrNilExpectedTime = errors.New("miner has no expected mining time")
	ErrDuplicateOrder  = errors.New("duplicate mining order")
	ErrOrderOutOfRange = errors.New("mining order out of range")

	ErrMultipleExtraProducers = errors.New("more than one extra block producer")
	ErrMinerKeyMismatch       = errors.New("slot key does not match slot pubkey")
	ErrMinerNotFound          = errors.New("miner not found in round")
)
