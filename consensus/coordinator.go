package consensus

import (
	"fmt"
	"time"

	"chaindpos/election"
	"chaindpos/libs/metric"
	"chaindpos/libs/utils"
	"chaindpos/secretshare"
	"chaindpos/store"
	"chaindpos/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
)

// Core is the consensus coordinator: it answers "what should this miner do
// now?" against the stored round and wall-clock time, and drives the four
// state transitions during block execution.
//
// All round/committee state lives in the store handle; Core keeps no
// ambient copy. Execution is single-threaded per block - the chain itself
// imposes the ordering, Core adds no locking.
type Core struct {
	cfg *Config

	store    store.RoundStore
	election election.Election
	gov      election.Governance

	reconciler *secretshare.Reconciler
	pipeline   map[types.Behavior][]headerValidator

	metric    *consensusMetric
	metricSet *metric.MetricSet

	logger log.Logger
}

func NewCore(cfg *Config, rs store.RoundStore, el election.Election, gov election.Governance) *Core {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Core{
		cfg:        cfg,
		store:      rs,
		election:   el,
		gov:        gov,
		reconciler: secretshare.NewReconciler(gov),
		pipeline:   newValidationPipeline(cfg),
		metric:     newConsensusMetric(),
		metricSet:  metric.NewMetricSet(),
		logger:     log.NewNopLogger(),
	}
	_ = c.metricSet.SetMetrics("consensus", c.metric)
	return c
}

func (c *Core) SetLogger(logger log.Logger) {
	c.logger = logger
	c.reconciler.SetLogger(logger)
}

// Metrics exposes the coordinator's metric registry.
func (c *Core) Metrics() *metric.MetricSet { return c.metricSet }

// CurrentRound returns the stored round driving all decisions.
func (c *Core) CurrentRound() (*types.Round, error) {
	return c.store.LatestRound()
}

// InstallFirstRound bootstraps a fresh chain with round 1 of term 1.
func (c *Core) InstallFirstRound(committee *types.MinerList, start time.Time) (*types.Round, error) {
	r, err := GenerateFirstRound(committee, start, c.cfg.MiningInterval)
	if err != nil {
		return nil, err
	}
	if err := c.store.SaveRound(r); err != nil {
		return nil, errors.Wrap(err, "persist first round")
	}
	c.metric.MarkRound(r.RoundNumber, r.TermNumber, start, r.MinersCount())
	c.logger.Info("installed first round", "committee", r.MinersCount())
	return r, nil
}

//---------------------------------------------------------------------------
// command generation (read-only)

// GetConsensusCommand answers the mining node's poll: the behavior to author
// next and the wall-clock window to author it in. Pure function of (stored
// round, now); every node with the same state gives the same answer.
func (c *Core) GetConsensusCommand(pubkey string, now time.Time) (*types.ConsensusCommand, error) {
	cur, err := c.store.LatestRound()
	if err != nil {
		return nil, errors.Wrap(err, "no round to schedule from")
	}
	slot := cur.Slot(pubkey)
	if slot == nil {
		return &types.ConsensusCommand{Behavior: types.BehaviorNothing, Hint: "not a committee member"}, nil
	}

	interval := c.intervalOf(cur)
	end, err := cur.RoundEndTime(interval)
	if err != nil {
		return nil, err
	}
	extraEnd := end.Add(interval)

	switch {
	case !slot.HasMined() && now.Before(slot.ExpectedMiningTime):
		return &types.ConsensusCommand{
			Behavior:           types.BehaviorUpdateValue,
			ArrangedMiningTime: slot.ExpectedMiningTime,
			MiningDueTime:      slot.ExpectedMiningTime.Add(interval),
			Hint:               "wait for own time slot",
		}, nil

	case !slot.HasMined() && !cur.IsTimeSlotPassed(pubkey, now, interval):
		return &types.ConsensusCommand{
			Behavior:           types.BehaviorUpdateValue,
			ArrangedMiningTime: now,
			MiningDueTime:      slot.ExpectedMiningTime.Add(interval),
			Hint:               "own time slot is open",
		}, nil

	case now.Before(end):
		hint := "already produced this round"
		if !slot.HasMined() {
			hint = "own time slot passed, wait for the round to end"
		}
		return &types.ConsensusCommand{Behavior: types.BehaviorNothing, Hint: hint}, nil

	case slot.IsExtraBlockProducer && slot.HasMined() &&
		slot.ProducedTinyBlocks < c.cfg.TinyBlockCeiling && now.Before(extraEnd):
		return &types.ConsensusCommand{
			Behavior:           types.BehaviorTinyBlock,
			ArrangedMiningTime: utils.LaterTime(end, now),
			MiningDueTime:      extraEnd,
			Hint:               "extra block slot is open",
		}, nil

	default:
		behavior := types.BehaviorNextRound
		if c.isTermEnded(cur, now) {
			behavior = types.BehaviorNextTerm
		}
		// 额外出块人最先终结本轮，其余矿工按order错开兜底
		arranged := utils.LaterTime(extraEnd, now)
		if !slot.IsExtraBlockProducer {
			arranged = utils.LaterTime(extraEnd.Add(time.Duration(slot.Order)*interval), now)
		}
		return &types.ConsensusCommand{
			Behavior:           behavior,
			ArrangedMiningTime: arranged,
			MiningDueTime:      arranged.Add(interval),
			Hint:               "round ended",
		}, nil
	}
}

//---------------------------------------------------------------------------
// proposal building (read-only against the store)

// PrepareUpdateValue builds the acting miner's in-slot contribution on a
// copy of the current round: commitment, signature, next-round order,
// reveal/reconstruction of previous in values and the secret share
// transport. Returns the proposed round and the fresh in value the miner
// must keep for next round's reveal.
func (c *Core) PrepareUpdateValue(pubkey string, now time.Time, height, impliedHeight int64, previousInValue []byte) (*types.Round, []byte, error) {
	base, prev, err := c.currentRounds()
	if err != nil {
		return nil, nil, err
	}
	proposed := base.Copy()
	ms := proposed.Slot(pubkey)
	if ms == nil {
		return nil, nil, types.ErrMinerNotFound
	}
	if ms.HasMined() {
		return nil, nil, fmt.Errorf("miner %v already produced in round %d", pubkey, base.RoundNumber)
	}

	in := secretshare.GenerateInValue()
	var prevXORed []byte
	if prev != nil {
		prevXORed = prev.XORedSignatures()
	}
	sig := secretshare.NextSignature(in, prevXORed)

	ms.OutValue = secretshare.Commit(in)
	ms.Signature = sig
	ms.ActualMiningTimes = append(ms.ActualMiningTimes, now)
	ms.ProducedBlocks++
	ms.ImpliedIrreversibleBlockHeight = impliedHeight
	if len(previousInValue) != 0 {
		ms.PreviousInValue = previousInValue
	}

	if err := AssignOrder(proposed, pubkey, sig); err != nil {
		return nil, nil, err
	}

	if c.gov != nil && c.gov.IsSecretSharingEnabled() {
		if err := c.publishShares(proposed, prev, ms, in); err != nil {
			return nil, nil, err
		}
		c.recoverMissingReveals(proposed, prev, pubkey, height)
	}
	return proposed, in, nil
}

// publishShares splits the fresh in value into per-miner encrypted pieces
// and re-publishes, decrypted, the pieces of other miners' secrets this
// miner received in the previous round.
func (c *Core) publishShares(proposed, prev *types.Round, ms *types.MinerSlot, in []byte) error {
	keys := proposed.SortedPubkeys()
	pieces, err := secretshare.Split(in, len(keys))
	if err != nil {
		return err
	}
	ms.EncryptedPieces = make(map[string][]byte, len(keys)-1)
	for i, receiver := range keys {
		if receiver == ms.PubKey {
			continue
		}
		ms.EncryptedPieces[receiver] = pieces[i]
	}

	if prev == nil {
		return nil
	}
	ms.DecryptedPieces = make(map[string][]byte)
	for _, owner := range prev.SortedPubkeys() {
		if owner == ms.PubKey {
			continue
		}
		if piece, ok := prev.Miners[owner].EncryptedPieces[ms.PubKey]; ok {
			ms.DecryptedPieces[owner] = piece
		}
	}
	return nil
}

// recoverMissingReveals writes, on behalf of silent miners, the previous in
// values the committee can already reconstruct. Only verified
// reconstructions are written - the pseudo fallback never enters the round.
func (c *Core) recoverMissingReveals(proposed, prev *types.Round, acting string, height int64) {
	if prev == nil {
		return
	}
	for _, pk := range proposed.SortedPubkeys() {
		if pk == acting || len(proposed.Miners[pk].PreviousInValue) != 0 {
			continue
		}
		rev, err := c.reconciler.ResolvePreviousInValue(proposed, prev, pk, height)
		if err != nil || !rev.Verified {
			continue
		}
		proposed.Miners[pk].PreviousInValue = rev.Value
		c.logger.Debug("reconstructed previous in value", "miner", pk, "by", acting)
	}
}

// PrepareTinyBlock appends one extra block to the acting miner's slot.
func (c *Core) PrepareTinyBlock(pubkey string, now time.Time) (*types.Round, error) {
	base, _, err := c.currentRounds()
	if err != nil {
		return nil, err
	}
	proposed := base.Copy()
	ms := proposed.Slot(pubkey)
	if ms == nil {
		return nil, types.ErrMinerNotFound
	}
	ms.ActualMiningTimes = append(ms.ActualMiningTimes, now)
	ms.ProducedTinyBlocks++
	ms.ProducedBlocks++
	return proposed, nil
}

// PrepareNextRound generates the successor round: scheduling, LIB pointer,
// evil-miner replacement.
func (c *Core) PrepareNextRound(now time.Time) (*types.Round, error) {
	base, prev, err := c.currentRounds()
	if err != nil {
		return nil, err
	}
	interval := c.intervalOf(base)

	next, err := GenerateNextRound(base, now, interval)
	if err != nil {
		return nil, err
	}
	c.adoptLib(next, base, prev)

	charged := ChargeMissedSlots(base)
	evil := DetectEvilMiners(charged, c.cfg.MissedSlotTolerance)
	if len(evil) > 0 {
		_, pairs, removed, err := ReplaceEvilMiners(base.MinerList(), evil, c.election)
		if err != nil {
			return nil, errors.Wrap(err, "replace evil miners")
		}
		ApplyReplacements(next, pairs, removed, now, interval)
	}
	return next, nil
}

// PrepareNextTerm generates the first round of the next term with the
// evil-adjusted committee from the membership collaborator.
func (c *Core) PrepareNextTerm(now time.Time) (*types.Round, error) {
	base, prev, err := c.currentRounds()
	if err != nil {
		return nil, err
	}
	interval := c.intervalOf(base)

	charged := ChargeMissedSlots(base)
	evil := DetectEvilMiners(charged, c.cfg.MissedSlotTolerance)
	committee, _, _, err := ReplaceEvilMiners(base.MinerList(), evil, c.election)
	if err != nil {
		return nil, errors.Wrap(err, "replace evil miners")
	}

	next, err := GenerateFirstRoundOfNextTerm(base, now, interval, committee)
	if err != nil {
		return nil, err
	}
	c.adoptLib(next, base, prev)
	return next, nil
}

// adoptLib writes the freshly calculated LIB pointer into the proposed
// round, guarded so it can only move forward.
func (c *Core) adoptLib(next, base, prev *types.Round) {
	height, libRound, ok := CalculateLib(prev, base)
	if !ok {
		return
	}
	if height < base.ConfirmedIrreversibleBlockHeight || libRound < base.ConfirmedIrreversibleBlockRoundNumber {
		return
	}
	next.ConfirmedIrreversibleBlockHeight = height
	next.ConfirmedIrreversibleBlockRoundNumber = libRound
}

//---------------------------------------------------------------------------
// block execution

// ValidateBeforeExecution runs the behavior's validation chain against the
// stored state. Replaying the same header gives the same result.
func (c *Core) ValidateBeforeExecution(h *HeaderInfo) Result {
	base, prev, err := c.currentRounds()
	if err != nil {
		return reject(fmt.Sprintf("no stored round: %v", err))
	}
	chain, ok := c.pipeline[h.Behavior]
	if !ok {
		return reject(fmt.Sprintf("behavior %v carries no validation chain", h.Behavior))
	}
	res := runChain(chain, &validationContext{cfg: c.cfg, header: h, base: base, prev: prev})
	if !res.OK {
		c.metric.rejectedHeaders.Inc(1)
	}
	return res
}

// Apply executes one state transition: validate, persist, report. A failed
// validation or refused write leaves the stored state untouched - a
// malformed proposal is never partially applied.
func (c *Core) Apply(h *HeaderInfo) (*types.Round, error) {
	base, prev, err := c.currentRounds()
	if err != nil {
		return nil, errors.Wrap(err, "no stored round")
	}
	chain, ok := c.pipeline[h.Behavior]
	if !ok {
		return nil, fmt.Errorf("%w: behavior %v carries no validation chain", ErrValidationFailed, h.Behavior)
	}
	if res := runChain(chain, &validationContext{cfg: c.cfg, header: h, base: base, prev: prev}); !res.OK {
		c.metric.rejectedHeaders.Inc(1)
		c.logger.Info("rejected header", "behavior", h.Behavior, "sender", h.SenderPubKey,
			"reason", res.Reason, "retry", res.Retry)
		return nil, fmt.Errorf("%w: %s", ErrValidationFailed, res.Reason)
	}

	applied := h.ProvidedRound.Copy()
	if err := c.store.SaveRound(applied); err != nil {
		return nil, errors.Wrap(err, "persist round transition")
	}

	c.afterApply(h, base, applied)
	return applied, nil
}

func (c *Core) afterApply(h *HeaderInfo, base, applied *types.Round) {
	c.metric.MarkBehavior(h.Behavior.String())
	if start, err := applied.RoundStartTime(); err == nil {
		c.metric.MarkRound(applied.RoundNumber, applied.TermNumber, start, applied.MinersCount())
	}
	c.metric.MarkLib(applied.ConfirmedIrreversibleBlockHeight, applied.ConfirmedIrreversibleBlockRoundNumber)

	switch h.Behavior {
	case types.BehaviorUpdateValue:
		c.metric.producedBlocks.Inc(1)

	case types.BehaviorTinyBlock:
		c.metric.producedTiny.Inc(1)

	case types.BehaviorNextRound, types.BehaviorNextTerm:
		c.metric.roundChanges.Inc(1)

		// 汇报恶意矿工与committee变化，计数器此刻还没清零
		charged := ChargeMissedSlots(base)
		for _, pk := range DetectEvilMiners(charged, c.cfg.MissedSlotTolerance) {
			c.election.ReportEvil(pk)
		}
		if applied.IsMinerListJustChanged || applied.MinersCount() != base.MinersCount() {
			c.election.ReportCommitteeSize(applied.MinersCount())
		}
		if h.Behavior == types.BehaviorNextTerm {
			c.metric.termChanges.Inc(1)
			c.election.ReportSnapshot(BuildTermSnapshot(charged))
		}

		c.logger.Info("round transition applied", "behavior", h.Behavior,
			"round", applied.RoundNumber, "term", applied.TermNumber,
			"lib", applied.ConfirmedIrreversibleBlockHeight)
	}
}

//---------------------------------------------------------------------------

func (c *Core) currentRounds() (base, prev *types.Round, err error) {
	base, err = c.store.LatestRound()
	if err != nil {
		return nil, nil, err
	}
	if base.RoundNumber > 1 {
		prev, err = c.store.LoadRound(base.RoundNumber - 1)
		if err != nil {
			if errors.Is(err, store.ErrRoundNotFound) {
				return base, nil, nil
			}
			return nil, nil, err
		}
	}
	return base, prev, nil
}

func (c *Core) intervalOf(r *types.Round) time.Duration {
	if iv := r.MiningInterval(); iv > 0 {
		return iv
	}
	return c.cfg.MiningInterval
}

func (c *Core) isTermEnded(cur *types.Round, now time.Time) bool {
	if c.cfg.TermPeriod <= 0 {
		return false
	}
	periodSec := int64(c.cfg.TermPeriod / time.Second)
	return nextAge(cur, now) >= cur.TermNumber*periodSec
}
