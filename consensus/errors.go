package consensus

import "errors"

var (
	// ErrValidationFailed wraps a validation pipeline rejection; the block
	// carrying the header must not extend the chain.
	ErrValidationFailed = errors.New("header validation failed")

	// ErrGenerateRound is returned when the current round is structurally
	// unable to produce a successor (no first miner, null expected time).
	ErrGenerateRound = errors.New("can not generate next round")

	// ErrOrderConflictUnresolved means order conflict resolution ran out of
	// free orders; with a full-range scan this indicates corrupted input.
	ErrOrderConflictUnresolved = errors.New("mining order conflict left unresolved")

	ErrBrokenFinalOrders = errors.New("final orders of next round are not distinct in-range values")

	// ErrBadCandidate rejects an election answer that would put a pubkey in
	// the committee twice.
	ErrBadCandidate = errors.New("replacement candidate conflicts with committee")
)
