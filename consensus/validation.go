package consensus

import (
	"bytes"
	"fmt"
	"time"

	"chaindpos/libs/utils"
	"chaindpos/types"

	tmbytes "github.com/tendermint/tendermint/libs/bytes"
	"github.com/tendermint/tendermint/crypto/tmhash"
)

// hashInValue recomputes the commitment of an in value; must stay in sync
// with secretshare.Commit.
func hashInValue(in []byte) []byte { return tmhash.Sum(in) }

// HeaderInfo is the consensus payload of an incoming block, checked before
// the round transition it proposes is executed.
type HeaderInfo struct {
	Behavior     types.Behavior
	SenderPubKey string
	BlockTime    time.Time
	BlockHeight  int64

	// ProvidedRound is the round state the block wants stored: the mutated
	// current round for UpdateValue/TinyBlock, the successor round for
	// NextRound/NextTerm.
	ProvidedRound *types.Round

	// RoundHash is the full content hash the header claims ProvidedRound
	// hashes to after execution.
	RoundHash tmbytes.HexBytes
}

// Result is a validation outcome. Retry marks rejections caused purely by a
// slow local clock (slot already passed) - a local re-schedule, never a
// chain-level error.
type Result struct {
	OK     bool
	Reason string
	Retry  bool
}

func accept() Result                { return Result{OK: true} }
func reject(reason string) Result   { return Result{Reason: reason} }
func rejectRetry(r string) Result   { return Result{Reason: r, Retry: true} }

type validationContext struct {
	cfg    *Config
	header *HeaderInfo
	base   *types.Round // 本地存储的当前round
	prev   *types.Round // 上一轮，可能为nil
}

func (ctx *validationContext) interval() time.Duration {
	if iv := ctx.base.MiningInterval(); iv > 0 {
		return iv
	}
	return ctx.cfg.MiningInterval
}

type headerValidator interface {
	Name() string
	Validate(ctx *validationContext) Result
}

// newValidationPipeline wires the fixed, explicit validator chain of each
// behavior. Order matters and is part of consensus.
func newValidationPipeline(cfg *Config) map[types.Behavior][]headerValidator {
	return map[types.Behavior][]headerValidator{
		types.BehaviorUpdateValue: {
			permissionValidator{},
			structureValidator{},
			timeSlotValidator{cfg: cfg},
			roundContinuityValidator{},
			revealValidator{},
			libValidator{},
		},
		types.BehaviorTinyBlock: {
			permissionValidator{},
			structureValidator{},
			timeSlotValidator{cfg: cfg},
			tinyBlockContinuityValidator{cfg: cfg},
			roundContinuityValidator{},
		},
		types.BehaviorNextRound: {
			permissionValidator{},
			structureValidator{},
			roundTerminateValidator{},
			slotSpacingValidator{cfg: cfg},
			orderDistinctnessValidator{},
			libValidator{},
		},
		types.BehaviorNextTerm: {
			permissionValidator{},
			structureValidator{},
			termTerminateValidator{},
			slotSpacingValidator{cfg: cfg},
			libValidator{},
		},
	}
}

func runChain(chain []headerValidator, ctx *validationContext) Result {
	for _, v := range chain {
		if res := v.Validate(ctx); !res.OK {
			res.Reason = fmt.Sprintf("%s: %s", v.Name(), res.Reason)
			return res
		}
	}
	return accept()
}

// ValidateAfterExecution re-derives the stored round's content hash and
// compares it with the header's claim - the symmetry check run after the
// transition was applied.
func ValidateAfterExecution(h *HeaderInfo, applied *types.Round) Result {
	if len(h.RoundHash) == 0 {
		return reject("header claims no round hash")
	}
	if !bytes.Equal(applied.Hash(), h.RoundHash) {
		return reject("applied round hash differs from header claim")
	}
	return accept()
}

//---------------------------------------------------------------------------
// validators

// permissionValidator: the sender must belong to the stored committee, or to
// the immediately previous round's one - a miner dropped at a term boundary
// may still finish the term-ending block.
type permissionValidator struct{}

func (permissionValidator) Name() string { return "permission" }

func (permissionValidator) Validate(ctx *validationContext) Result {
	pk := ctx.header.SenderPubKey
	if ctx.base.Slot(pk) != nil {
		return accept()
	}
	if ctx.prev != nil && ctx.prev.Slot(pk) != nil {
		return accept()
	}
	return reject(fmt.Sprintf("sender %v is not a committee member", pk))
}

// structureValidator runs the structural checks on the provided round.
type structureValidator struct{}

func (structureValidator) Name() string { return "structure" }

func (structureValidator) Validate(ctx *validationContext) Result {
	r := ctx.header.ProvidedRound
	if r == nil {
		return reject("header carries no round")
	}
	if err := r.ValidateBasic(); err != nil {
		return reject(err.Error())
	}
	switch ctx.header.Behavior {
	case types.BehaviorUpdateValue, types.BehaviorTinyBlock:
		if r.Slot(ctx.header.SenderPubKey) == nil {
			return reject("sender has no slot in the provided round")
		}
	}
	return accept()
}

// timeSlotValidator checks the declared mining time against the sender's
// slot window. Skipped only for the literal single bootstrap producer of a
// term's first round, never for arbitrary senders.
type timeSlotValidator struct{ cfg *Config }

func (timeSlotValidator) Name() string { return "time_slot" }

func (v timeSlotValidator) Validate(ctx *validationContext) Result {
	slot := ctx.base.Slot(ctx.header.SenderPubKey)
	if slot == nil {
		return reject("sender has no slot in the stored round")
	}

	if isBootstrapRound(ctx.base, ctx.prev) {
		if first, err := ctx.base.FirstMiner(); err == nil && first.PubKey == slot.PubKey {
			return accept()
		}
	}

	interval := ctx.interval()
	bt := ctx.header.BlockTime

	winStart := slot.ExpectedMiningTime
	winEnd := winStart.Add(interval)
	if slot.IsExtraBlockProducer {
		if end, err := ctx.base.RoundEndTime(interval); err == nil && !bt.Before(end) {
			// 额外出块人的extra slot紧跟在round结束之后
			winStart, winEnd = end, end.Add(interval)
		}
	}

	if bt.Before(winStart) {
		return reject(fmt.Sprintf("time slot not open until %v", winStart))
	}
	if !bt.Before(winEnd) {
		return rejectRetry(fmt.Sprintf("time slot closed at %v", winEnd))
	}
	if k := len(slot.ActualMiningTimes); k > 0 && !bt.After(slot.ActualMiningTimes[k-1]) {
		return reject("declared mining time does not advance")
	}
	return accept()
}

// isBootstrapRound is true only for the chain's first round and a term's
// first round. A mid-term replacement also flips IsMinerListJustChanged,
// but those rounds keep a real schedule and get no time-slot exemption.
func isBootstrapRound(r, prev *types.Round) bool {
	if r.RoundNumber == 1 {
		return true
	}
	return prev != nil && prev.TermNumber < r.TermNumber
}

// tinyBlockContinuityValidator caps the extra blocks a sender may stack into
// one slot.
type tinyBlockContinuityValidator struct{ cfg *Config }

func (tinyBlockContinuityValidator) Name() string { return "continuity" }

func (v tinyBlockContinuityValidator) Validate(ctx *validationContext) Result {
	slot := ctx.base.Slot(ctx.header.SenderPubKey)
	if slot == nil {
		return reject("sender has no slot in the stored round")
	}
	if slot.ProducedTinyBlocks >= v.cfg.TinyBlockCeiling {
		return reject(fmt.Sprintf("tiny block ceiling %d reached", v.cfg.TinyBlockCeiling))
	}
	return accept()
}

// roundContinuityValidator pins in-round mutation to the stored round: same
// numbers, same scheduling identity.
type roundContinuityValidator struct{}

func (roundContinuityValidator) Name() string { return "round_continuity" }

func (roundContinuityValidator) Validate(ctx *validationContext) Result {
	r := ctx.header.ProvidedRound
	if r.RoundNumber != ctx.base.RoundNumber || r.TermNumber != ctx.base.TermNumber {
		return reject("in-round mutation must keep round and term numbers")
	}
	if !bytes.Equal(r.RoundID(), ctx.base.RoundID()) {
		return reject("in-round mutation must keep the round id")
	}
	return accept()
}

// revealValidator checks every supplied previous in value against the out
// value committed one round earlier. Omission is free; a wrong value kills
// the block.
type revealValidator struct{}

func (revealValidator) Name() string { return "reveal" }

func (revealValidator) Validate(ctx *validationContext) Result {
	if ctx.prev == nil {
		return accept()
	}
	r := ctx.header.ProvidedRound
	for _, pk := range r.SortedPubkeys() {
		supplied := r.Miners[pk].PreviousInValue
		if len(supplied) == 0 {
			continue
		}
		prevSlot := ctx.prev.Slot(pk)
		if prevSlot == nil || len(prevSlot.OutValue) == 0 {
			continue // 上一轮没有commitment就无从校验
		}
		if !bytes.Equal(hashInValue(supplied), prevSlot.OutValue) {
			return reject(fmt.Sprintf("previous in value of %v does not match its commitment", pk))
		}
	}
	return accept()
}

// roundTerminateValidator checks the numbers of a NextRound proposal, and
// that no same-round in value leaked into it - values are revealed one round
// later, never in the round that committed them.
type roundTerminateValidator struct{}

func (roundTerminateValidator) Name() string { return "round_terminate" }

func (roundTerminateValidator) Validate(ctx *validationContext) Result {
	r := ctx.header.ProvidedRound
	if r.RoundNumber != ctx.base.RoundNumber+1 {
		return reject(fmt.Sprintf("round number %d does not follow %d", r.RoundNumber, ctx.base.RoundNumber))
	}
	if r.TermNumber != ctx.base.TermNumber {
		return reject("term number must not change on NextRound")
	}
	for _, pk := range r.SortedPubkeys() {
		if len(r.Miners[pk].InValue) != 0 {
			return reject(fmt.Sprintf("miner %v carries a same-round in value", pk))
		}
	}
	return accept()
}

// termTerminateValidator checks the numbers of a NextTerm proposal.
type termTerminateValidator struct{}

func (termTerminateValidator) Name() string { return "term_terminate" }

func (termTerminateValidator) Validate(ctx *validationContext) Result {
	r := ctx.header.ProvidedRound
	if r.RoundNumber != ctx.base.RoundNumber+1 {
		return reject(fmt.Sprintf("round number %d does not follow %d", r.RoundNumber, ctx.base.RoundNumber))
	}
	if r.TermNumber != ctx.base.TermNumber+1 {
		return reject(fmt.Sprintf("term number %d does not follow %d", r.TermNumber, ctx.base.TermNumber))
	}
	return accept()
}

// slotSpacingValidator requires near-equal intervals between consecutive
// orders of a proposed round.
type slotSpacingValidator struct{ cfg *Config }

func (slotSpacingValidator) Name() string { return "slot_spacing" }

func (v slotSpacingValidator) Validate(ctx *validationContext) Result {
	slots := ctx.header.ProvidedRound.SlotsByOrder()
	if len(slots) < 2 {
		return accept()
	}
	diffs := make([]time.Duration, 0, len(slots)-1)
	for i := 1; i < len(slots); i++ {
		d := slots[i].ExpectedMiningTime.Sub(slots[i-1].ExpectedMiningTime)
		if d <= 0 {
			return reject("expected mining times do not increase with order")
		}
		diffs = append(diffs, d)
	}
	if utils.MaxDuration(diffs...)-utils.MinDuration(diffs...) > v.cfg.SlotSpacingTolerance {
		return reject("slot spacing is not uniform")
	}
	return accept()
}

// orderDistinctnessValidator: the count of distinct final order values among
// the terminating round's producers must equal the producer count.
type orderDistinctnessValidator struct{}

func (orderDistinctnessValidator) Name() string { return "order_distinctness" }

func (orderDistinctnessValidator) Validate(ctx *validationContext) Result {
	mined := ctx.base.MinedMiners()
	distinct := make(map[int]struct{}, len(mined))
	for _, ms := range mined {
		distinct[ms.FinalOrderOfNextRound] = struct{}{}
	}
	if len(distinct) != len(mined) {
		return reject("duplicate final order values among producers")
	}
	return accept()
}

// libValidator enforces finality forward motion for every behavior that
// carries a LIB pointer: never below the stored values, never at or past the
// proposed round's own number.
type libValidator struct{}

func (libValidator) Name() string { return "lib_non_regression" }

func (libValidator) Validate(ctx *validationContext) Result {
	r := ctx.header.ProvidedRound
	if r.ConfirmedIrreversibleBlockHeight < ctx.base.ConfirmedIrreversibleBlockHeight {
		return reject(fmt.Sprintf("LIB height regresses: %d < %d",
			r.ConfirmedIrreversibleBlockHeight, ctx.base.ConfirmedIrreversibleBlockHeight))
	}
	if r.ConfirmedIrreversibleBlockRoundNumber < ctx.base.ConfirmedIrreversibleBlockRoundNumber {
		return reject(fmt.Sprintf("LIB round regresses: %d < %d",
			r.ConfirmedIrreversibleBlockRoundNumber, ctx.base.ConfirmedIrreversibleBlockRoundNumber))
	}
	if r.ConfirmedIrreversibleBlockRoundNumber >= r.RoundNumber {
		return reject("LIB round must stay behind the round establishing it")
	}
	return accept()
}
