package secretshare

import (
	"bytes"
	"errors"

	"chaindpos/election"
	"chaindpos/types"

	"github.com/tendermint/tendermint/libs/log"
)

var (
	// ErrRevealMismatch is returned when a supplied previous in value does
	// not hash to the out value committed one round earlier. A block carrying
	// such a value is invalid.
	ErrRevealMismatch = errors.New("revealed previous in value does not match committed out value")

	ErrNotEnoughPieces = errors.New("not enough decrypted pieces to reconstruct")
)

// Reveal is the outcome of resolving a miner's previous in value.
type Reveal struct {
	Value []byte
	// Verified is true only when the value hash-matches the prior
	// commitment (self reveal or reconstruction). The pseudo fallback is
	// never verified: it keeps the signature chain going, nothing more.
	Verified bool
}

// Reconciler resolves every miner's previous-round in value while an
// UpdateValue block executes: self reveal first, threshold reconstruction
// second, deterministic pseudo value last.
type Reconciler struct {
	gov    election.Governance
	logger log.Logger
}

func NewReconciler(gov election.Governance) *Reconciler {
	return &Reconciler{gov: gov, logger: log.NewNopLogger()}
}

func (rc *Reconciler) SetLogger(logger log.Logger) {
	rc.logger = logger
}

// ResolvePreviousInValue determines the previous in value of the given miner
// for the current round. prev is the superseded round holding the miner's
// commitment; it is read-only here.
//
// A supplied PreviousInValue failing the hash check is a hard error - the
// caller must reject the block. Omitting the value entirely carries no
// penalty; resolution just moves down the chain.
func (rc *Reconciler) ResolvePreviousInValue(cur, prev *types.Round, pubkey string, height int64) (Reveal, error) {
	slot := cur.Slot(pubkey)
	if slot == nil {
		return Reveal{}, types.ErrMinerNotFound
	}

	var committed []byte
	if prev != nil {
		if prevSlot := prev.Slot(pubkey); prevSlot != nil {
			committed = prevSlot.OutValue
		}
	}

	// 1. 自己公布的reveal
	if len(slot.PreviousInValue) != 0 {
		if len(committed) != 0 && !bytes.Equal(Commit(slot.PreviousInValue), committed) {
			return Reveal{}, ErrRevealMismatch
		}
		return Reveal{Value: slot.PreviousInValue, Verified: len(committed) != 0}, nil
	}

	// 2. 门限重构
	if rc.gov != nil && rc.gov.IsSecretSharingEnabled() && len(committed) != 0 {
		if value, ok := rc.reconstruct(cur, pubkey, committed); ok {
			return Reveal{Value: value, Verified: true}, nil
		}
	}

	// 3. 确定性兜底值
	return Reveal{Value: PseudoInValue(pubkey, height), Verified: false}, nil
}

// reconstruct gathers the pieces of pubkey's secret that other miners
// published decrypted in the current round.
func (rc *Reconciler) reconstruct(cur *types.Round, pubkey string, committed []byte) ([]byte, bool) {
	n := cur.MinersCount()
	pieces := make([][]byte, 0, n)
	for _, holder := range cur.SortedPubkeys() {
		if holder == pubkey {
			continue
		}
		if piece, ok := cur.Miners[holder].DecryptedPieces[pubkey]; ok {
			pieces = append(pieces, piece)
		}
	}

	value, err := Reconstruct(pieces, n)
	if err != nil {
		rc.logger.Debug("secret reconstruction unavailable", "miner", pubkey, "err", err)
		return nil, false
	}
	if !bytes.Equal(Commit(value), committed) {
		rc.logger.Error("reconstructed in value does not match commitment", "miner", pubkey)
		return nil, false
	}
	return value, true
}
