package consensus

import (
	"testing"
	"time"

	"chaindpos/secretshare"
	"chaindpos/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runValidation(t *testing.T, h *HeaderInfo, base, prev *types.Round) Result {
	t.Helper()
	cfg := DefaultConfig()
	chain, ok := newValidationPipeline(cfg)[h.Behavior]
	require.True(t, ok, "behavior %v has no chain", h.Behavior)
	return runChain(chain, &validationContext{cfg: cfg, header: h, base: base, prev: prev})
}

func updateValueHeader(base *types.Round, pk string, bt time.Time) *HeaderInfo {
	provided := base.Copy()
	ms := provided.Miners[pk]
	ms.OutValue = []byte("fresh-out")
	ms.Signature = []byte("fresh-sig")
	ms.ActualMiningTimes = append(ms.ActualMiningTimes, bt)
	ms.ProducedBlocks++
	ms.FinalOrderOfNextRound = 1
	return &HeaderInfo{
		Behavior:      types.BehaviorUpdateValue,
		SenderPubKey:  pk,
		BlockTime:     bt,
		BlockHeight:   100,
		ProvidedRound: provided,
	}
}

func TestValidateUpdateValueAccepted(t *testing.T) {
	base := makeRound(4)
	bt := base.Miners["miner-01"].ExpectedMiningTime.Add(time.Second)
	res := runValidation(t, updateValueHeader(base, "miner-01", bt), base, nil)
	assert.True(t, res.OK, res.Reason)
}

func TestValidateRejectsStranger(t *testing.T) {
	base := makeRound(4)
	h := updateValueHeader(base, "miner-01", base.Miners["miner-01"].ExpectedMiningTime)
	h.SenderPubKey = "stranger"
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "permission")
}

func TestValidatePermissionCoversPreviousCommittee(t *testing.T) {
	base := makeRound(4)
	prev := makeRound(4)
	prev.RoundNumber = base.RoundNumber - 1
	prev.Miners["departed"] = &types.MinerSlot{PubKey: "departed", Order: 5,
		ExpectedMiningTime: time.Now()}

	res := permissionValidator{}.Validate(&validationContext{
		cfg:    DefaultConfig(),
		header: &HeaderInfo{SenderPubKey: "departed"},
		base:   base,
		prev:   prev,
	})
	assert.True(t, res.OK)
}

func TestValidateTimeSlotWindow(t *testing.T) {
	base := makeRound(4)
	slot := base.Miners["miner-01"]

	// 窗口还没开
	early := updateValueHeader(base, "miner-01", slot.ExpectedMiningTime.Add(-time.Second))
	res := runValidation(t, early, base, nil)
	assert.False(t, res.OK)
	assert.False(t, res.Retry)

	// slot已过：本地时钟问题，只需重试
	late := updateValueHeader(base, "miner-01", slot.ExpectedMiningTime.Add(5*time.Second))
	res = runValidation(t, late, base, nil)
	assert.False(t, res.OK)
	assert.True(t, res.Retry)
}

func TestValidateTimeSlotBootstrapSkip(t *testing.T) {
	base := makeRound(4)
	base.RoundNumber = 1
	first, err := base.FirstMiner()
	require.NoError(t, err)

	// the single bootstrap producer mines whenever it comes up
	h := updateValueHeader(base, first.PubKey, first.ExpectedMiningTime.Add(time.Hour))
	res := runValidation(t, h, base, nil)
	assert.True(t, res.OK, res.Reason)

	// 其他矿工没有这个豁免
	other := updateValueHeader(base, "miner-02", base.Miners["miner-02"].ExpectedMiningTime.Add(time.Hour))
	res = runValidation(t, other, base, nil)
	assert.False(t, res.OK)
}

func TestValidateTimeSlotSkipCoversTermFirstRound(t *testing.T) {
	base := makeRound(4)
	base.IsMinerListJustChanged = true
	prev := makeRound(4)
	prev.RoundNumber = base.RoundNumber - 1
	prev.TermNumber = base.TermNumber - 1

	first, err := base.FirstMiner()
	require.NoError(t, err)
	h := updateValueHeader(base, first.PubKey, first.ExpectedMiningTime.Add(time.Hour))
	res := runValidation(t, h, base, prev)
	assert.True(t, res.OK, res.Reason)
}

func TestValidateTimeSlotEnforcedAfterReplacement(t *testing.T) {
	// 换人不换届：round保留完整的schedule，第一个矿工也必须守窗口
	base := makeRound(4)
	base.IsMinerListJustChanged = true
	prev := makeRound(4)
	prev.RoundNumber = base.RoundNumber - 1

	first, err := base.FirstMiner()
	require.NoError(t, err)
	h := updateValueHeader(base, first.PubKey, first.ExpectedMiningTime.Add(time.Hour))
	res := runValidation(t, h, base, prev)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "time_slot")

	// 窗口内照常接受
	h = updateValueHeader(base, first.PubKey, first.ExpectedMiningTime.Add(time.Second))
	res = runValidation(t, h, base, prev)
	assert.True(t, res.OK, res.Reason)
}

func TestValidateMiningTimeMustAdvance(t *testing.T) {
	base := makeRound(4)
	bt := base.Miners["miner-01"].ExpectedMiningTime.Add(time.Second)
	base.Miners["miner-01"].ActualMiningTimes = []time.Time{bt}

	h := updateValueHeader(base, "miner-01", bt)
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "advance")
}

func TestValidateRoundContinuity(t *testing.T) {
	base := makeRound(4)
	bt := base.Miners["miner-01"].ExpectedMiningTime.Add(time.Second)

	h := updateValueHeader(base, "miner-01", bt)
	// 偷偷交换两个矿工的order
	h.ProvidedRound.Miners["miner-02"].Order, h.ProvidedRound.Miners["miner-03"].Order =
		h.ProvidedRound.Miners["miner-03"].Order, h.ProvidedRound.Miners["miner-02"].Order
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "round_continuity")

	h = updateValueHeader(base, "miner-01", bt)
	h.ProvidedRound.RoundNumber++
	res = runValidation(t, h, base, nil)
	assert.False(t, res.OK)
}

func TestValidateReveal(t *testing.T) {
	base := makeRound(4)
	prev := makeRound(4)
	prev.RoundNumber = base.RoundNumber - 1
	in := []byte("the-secret-in-value")
	prev.Miners["miner-02"].OutValue = secretshare.Commit(in)

	bt := base.Miners["miner-01"].ExpectedMiningTime.Add(time.Second)

	good := updateValueHeader(base, "miner-01", bt)
	good.ProvidedRound.Miners["miner-02"].PreviousInValue = in
	res := runValidation(t, good, base, prev)
	assert.True(t, res.OK, res.Reason)

	bad := updateValueHeader(base, "miner-01", bt)
	bad.ProvidedRound.Miners["miner-02"].PreviousInValue = []byte("a-lie")
	res = runValidation(t, bad, base, prev)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "reveal")

	// omission is free
	silent := updateValueHeader(base, "miner-01", bt)
	res = runValidation(t, silent, base, prev)
	assert.True(t, res.OK, res.Reason)
}

func TestValidateTinyBlock(t *testing.T) {
	base := makeRound(4)
	extra := base.ExtraBlockProducer()
	require.NotNil(t, extra)
	extra.OutValue = []byte("out")
	extra.ActualMiningTimes = []time.Time{extra.ExpectedMiningTime}

	end, err := base.RoundEndTime(base.MiningInterval())
	require.NoError(t, err)
	bt := end.Add(time.Second)

	tiny := func() *HeaderInfo {
		provided := base.Copy()
		ms := provided.Miners[extra.PubKey]
		ms.ActualMiningTimes = append(ms.ActualMiningTimes, bt)
		ms.ProducedTinyBlocks++
		ms.ProducedBlocks++
		return &HeaderInfo{
			Behavior:      types.BehaviorTinyBlock,
			SenderPubKey:  extra.PubKey,
			BlockTime:     bt,
			ProvidedRound: provided,
		}
	}

	res := runValidation(t, tiny(), base, nil)
	assert.True(t, res.OK, res.Reason)

	// 到达上限后拒绝
	base.Miners[extra.PubKey].ProducedTinyBlocks = DefaultConfig().TinyBlockCeiling
	res = runValidation(t, tiny(), base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "ceiling")
}

func nextRoundFixture(t *testing.T) (base, next *types.Round) {
	t.Helper()
	base = makeRound(4)
	finals := []int{3, 1, 4, 2}
	for i, pk := range base.SortedPubkeys() {
		ms := base.Miners[pk]
		ms.OutValue = []byte("out-" + pk)
		ms.Signature = []byte{byte(i + 1)}
		ms.FinalOrderOfNextRound = finals[i]
		ms.ImpliedIrreversibleBlockHeight = int64(90 + i)
	}
	end, err := base.RoundEndTime(base.MiningInterval())
	require.NoError(t, err)

	next, err = GenerateNextRound(base, end.Add(base.MiningInterval()), base.MiningInterval())
	require.NoError(t, err)
	return base, next
}

func TestValidateNextRound(t *testing.T) {
	base, next := nextRoundFixture(t)
	h := &HeaderInfo{
		Behavior:      types.BehaviorNextRound,
		SenderPubKey:  "miner-00",
		BlockTime:     time.Now(),
		ProvidedRound: next,
	}
	res := runValidation(t, h, base, nil)
	assert.True(t, res.OK, res.Reason)
}

func TestValidateNextRoundRejectsLeakedInValue(t *testing.T) {
	base, next := nextRoundFixture(t)
	next.Miners["miner-02"].InValue = []byte("leaked")
	h := &HeaderInfo{
		Behavior:      types.BehaviorNextRound,
		SenderPubKey:  "miner-00",
		ProvidedRound: next,
	}
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "in value")
}

func TestValidateNextRoundRejectsWrongNumbers(t *testing.T) {
	base, next := nextRoundFixture(t)

	next.RoundNumber += 3
	h := &HeaderInfo{Behavior: types.BehaviorNextRound, SenderPubKey: "miner-00", ProvidedRound: next}
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)

	_, next = nextRoundFixture(t)
	next.TermNumber++
	h = &HeaderInfo{Behavior: types.BehaviorNextRound, SenderPubKey: "miner-00", ProvidedRound: next}
	res = runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "term")
}

func TestValidateNextRoundRejectsSkewedSpacing(t *testing.T) {
	base, next := nextRoundFixture(t)
	skewed := next.SlotsByOrder()[2]
	skewed.ExpectedMiningTime = skewed.ExpectedMiningTime.Add(time.Second)
	h := &HeaderInfo{Behavior: types.BehaviorNextRound, SenderPubKey: "miner-00", ProvidedRound: next}
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "slot_spacing")
}

func TestValidateNextRoundRejectsDuplicateFinals(t *testing.T) {
	base, next := nextRoundFixture(t)
	base.Miners["miner-01"].FinalOrderOfNextRound = base.Miners["miner-00"].FinalOrderOfNextRound
	h := &HeaderInfo{Behavior: types.BehaviorNextRound, SenderPubKey: "miner-00", ProvidedRound: next}
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "order_distinctness")
}

func TestValidateNextTermLibRegression(t *testing.T) {
	base := makeRound(4)
	base.ConfirmedIrreversibleBlockHeight = 90
	base.ConfirmedIrreversibleBlockRoundNumber = 3
	for i, pk := range base.SortedPubkeys() {
		base.Miners[pk].OutValue = []byte("out")
		base.Miners[pk].Signature = []byte{byte(i + 1)}
	}
	committee := base.MinerList()
	next, err := GenerateFirstRoundOfNextTerm(base, time.Now(), base.MiningInterval(), committee)
	require.NoError(t, err)

	next.ConfirmedIrreversibleBlockHeight = 80 // 倒退
	h := &HeaderInfo{Behavior: types.BehaviorNextTerm, SenderPubKey: "miner-00", ProvidedRound: next}
	res := runValidation(t, h, base, nil)
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "lib_non_regression")
}

func TestValidateNextTermAccepted(t *testing.T) {
	base := makeRound(4)
	for i, pk := range base.SortedPubkeys() {
		base.Miners[pk].OutValue = []byte("out")
		base.Miners[pk].Signature = []byte{byte(i + 1)}
	}
	next, err := GenerateFirstRoundOfNextTerm(base, time.Now(), base.MiningInterval(), base.MinerList())
	require.NoError(t, err)
	h := &HeaderInfo{Behavior: types.BehaviorNextTerm, SenderPubKey: "miner-00", ProvidedRound: next}
	res := runValidation(t, h, base, nil)
	assert.True(t, res.OK, res.Reason)
}

func TestValidationIdempotent(t *testing.T) {
	base, next := nextRoundFixture(t)
	h := &HeaderInfo{Behavior: types.BehaviorNextRound, SenderPubKey: "miner-00", ProvidedRound: next}
	first := runValidation(t, h, base, nil)
	second := runValidation(t, h, base, nil)
	assert.Equal(t, first, second)
}

func TestValidateAfterExecution(t *testing.T) {
	r := makeRound(3)
	h := &HeaderInfo{RoundHash: r.Hash()}
	assert.True(t, ValidateAfterExecution(h, r).OK)

	mutated := r.Copy()
	mutated.Miners["miner-00"].ProducedBlocks++
	assert.False(t, ValidateAfterExecution(h, mutated).OK)

	assert.False(t, ValidateAfterExecution(&HeaderInfo{}, r).OK)
}
