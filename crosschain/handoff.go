// Package crosschain carries the minimal consensus summary a side chain
// needs from its parent: the committee and the round/term counters, nothing
// about slots or secrets.
package crosschain

import (
	"fmt"

	"chaindpos/types"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	ErrStaleHandoff = errors.New("handoff does not advance the round number")
	ErrHandoffJump  = errors.New("handoff skips too many rounds")
	ErrEmptyHandoff = errors.New("handoff carries no committee")
	ErrLibRegress   = errors.New("handoff moves the irreversible height backwards")
	ErrLibJump      = errors.New("handoff skips too many irreversible heights")
)

// MaxRoundJump bounds how far a single handoff may move the round counter.
// 父链一轮一个handoff，跳太远说明中间丢了或者被伪造
const MaxRoundJump = 1024

// MaxLibHeightJump bounds how far a single handoff may move the
// irreversible height. A round confirms at most a handful of blocks per
// miner, so anything past this is a lost stream or a forgery.
const MaxLibHeightJump = 1 << 20

// Handoff is one parent-chain consensus summary.
type Handoff struct {
	RoundNumber    int64            `json:"round_number"`
	TermNumber     int64            `json:"term_number"`
	LibHeight      int64            `json:"lib_height"`
	LibRoundNumber int64            `json:"lib_round_number"`
	Committee      *types.MinerList `json:"committee"`
}

// ExportHandoff condenses a round into the cross-chain summary.
func ExportHandoff(r *types.Round) (*Handoff, error) {
	if err := r.ValidateBasic(); err != nil {
		return nil, errors.Wrap(err, "export handoff")
	}
	return &Handoff{
		RoundNumber:    r.RoundNumber,
		TermNumber:     r.TermNumber,
		LibHeight:      r.ConfirmedIrreversibleBlockHeight,
		LibRoundNumber: r.ConfirmedIrreversibleBlockRoundNumber,
		Committee:      r.MinerList(),
	}, nil
}

func (h *Handoff) ValidateBasic() error {
	if h.RoundNumber < 1 || h.TermNumber < 1 {
		return fmt.Errorf("bad handoff counters: round %d term %d", h.RoundNumber, h.TermNumber)
	}
	if h.LibHeight < 0 || h.LibRoundNumber < 0 {
		return fmt.Errorf("bad handoff lib: height %d round %d", h.LibHeight, h.LibRoundNumber)
	}
	if h.LibRoundNumber >= h.RoundNumber {
		return fmt.Errorf("handoff lib round %d not behind round %d", h.LibRoundNumber, h.RoundNumber)
	}
	if h.Committee.IsNilOrEmpty() {
		return ErrEmptyHandoff
	}
	return h.Committee.ValidateBasic()
}

// Bytes serializes the handoff for the cross-chain transport.
func (h *Handoff) Bytes() ([]byte, error) {
	return json.Marshal(h)
}

// ParseHandoff deserializes and structurally checks a received handoff.
func ParseHandoff(bz []byte) (*Handoff, error) {
	h := new(Handoff)
	if err := json.Unmarshal(bz, h); err != nil {
		return nil, errors.Wrap(err, "parse handoff")
	}
	if err := h.ValidateBasic(); err != nil {
		return nil, err
	}
	return h, nil
}

// Tracker accepts a stream of parent-chain handoffs in order: the round
// number must strictly increase and may not jump more than MaxRoundJump at
// once.
//
// NOTE: Not goroutine-safe.
type Tracker struct {
	latest *Handoff
}

func NewTracker() *Tracker { return &Tracker{} }

// Latest returns the last accepted handoff, or nil.
func (t *Tracker) Latest() *Handoff { return t.latest }

// Accept takes the next handoff or explains why it cannot.
func (t *Tracker) Accept(h *Handoff) error {
	if err := h.ValidateBasic(); err != nil {
		return err
	}
	if t.latest != nil {
		if h.RoundNumber <= t.latest.RoundNumber {
			return errors.Wrapf(ErrStaleHandoff, "round %d, have %d", h.RoundNumber, t.latest.RoundNumber)
		}
		if h.RoundNumber-t.latest.RoundNumber > MaxRoundJump {
			return errors.Wrapf(ErrHandoffJump, "round %d, have %d", h.RoundNumber, t.latest.RoundNumber)
		}
		if h.TermNumber < t.latest.TermNumber {
			return fmt.Errorf("handoff term regresses: %d < %d", h.TermNumber, t.latest.TermNumber)
		}
		if h.LibHeight < t.latest.LibHeight || h.LibRoundNumber < t.latest.LibRoundNumber {
			return errors.Wrapf(ErrLibRegress, "lib (%d, %d), have (%d, %d)",
				h.LibHeight, h.LibRoundNumber, t.latest.LibHeight, t.latest.LibRoundNumber)
		}
		if h.LibHeight-t.latest.LibHeight > MaxLibHeightJump {
			return errors.Wrapf(ErrLibJump, "lib height %d, have %d", h.LibHeight, t.latest.LibHeight)
		}
	}
	t.latest = h
	return nil
}
