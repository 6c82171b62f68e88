package consensus

import (
	"fmt"
	"testing"
	"time"

	"chaindpos/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRound(n int) *types.Round {
	start := time.Date(2021, 6, 1, 8, 0, 0, 0, time.UTC)
	r := &types.Round{
		RoundNumber: 5,
		TermNumber:  2,
		Miners:      make(map[string]*types.MinerSlot, n),
	}
	for i := 0; i < n; i++ {
		pk := fmt.Sprintf("miner-%02d", i)
		r.Miners[pk] = &types.MinerSlot{
			PubKey:               pk,
			Order:                i + 1,
			ExpectedMiningTime:   start.Add(time.Duration(i+1) * 4 * time.Second),
			IsExtraBlockProducer: i == 0,
		}
	}
	return r
}

func TestSupposedOrder(t *testing.T) {
	cases := []struct {
		sig  []byte
		n    int
		want int
	}{
		{[]byte{0x00}, 5, 1},
		{[]byte{0x07}, 5, 3},       // 7 mod 5 = 2
		{[]byte{0x01, 0x00}, 5, 2}, // 256 mod 5 = 1
		{[]byte{0xff}, 1, 1},
		{nil, 4, 1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SupposedOrder(tc.sig, tc.n))
	}
	assert.Equal(t, 0, SupposedOrder([]byte{0x01}, 0))
}

func TestAssignOrderNoConflict(t *testing.T) {
	r := makeRound(5)
	// 7 mod 5 + 1 = 3
	require.NoError(t, AssignOrder(r, "miner-01", []byte{0x07}))
	assert.Equal(t, 3, r.Miners["miner-01"].SupposedOrderOfNextRound)
	assert.Equal(t, 3, r.Miners["miner-01"].FinalOrderOfNextRound)
}

func TestAssignOrderBumpsConflictingHolder(t *testing.T) {
	r := makeRound(5)
	require.NoError(t, AssignOrder(r, "miner-00", []byte{0x07})) // order 3
	require.NoError(t, AssignOrder(r, "miner-01", []byte{0x02})) // order 3 again

	assert.Equal(t, 3, r.Miners["miner-01"].FinalOrderOfNextRound)
	// 被挤掉的矿工落到最小空位
	assert.Equal(t, 1, r.Miners["miner-00"].FinalOrderOfNextRound)
	assert.Equal(t, 3, r.Miners["miner-00"].SupposedOrderOfNextRound)
	require.NoError(t, VerifyFinalOrders(r))
}

func TestAssignOrderFullRoundStaysDistinct(t *testing.T) {
	r := makeRound(5)
	// every miner lands on supposed order 2; conflicts must cascade into
	// the remaining free orders over the whole range
	for i := 0; i < 5; i++ {
		pk := fmt.Sprintf("miner-%02d", i)
		require.NoError(t, AssignOrder(r, pk, []byte{0x06}))
	}
	seen := make(map[int]bool)
	for _, pk := range r.SortedPubkeys() {
		o := r.Miners[pk].FinalOrderOfNextRound
		assert.GreaterOrEqual(t, o, 1)
		assert.LessOrEqual(t, o, 5)
		assert.False(t, seen[o], "order %d assigned twice", o)
		seen[o] = true
	}
	assert.Len(t, seen, 5)
}

func TestAssignOrderUnknownMiner(t *testing.T) {
	r := makeRound(3)
	assert.ErrorIs(t, AssignOrder(r, "stranger", []byte{0x01}), types.ErrMinerNotFound)
}

func TestTuneOrder(t *testing.T) {
	r := makeRound(4)
	require.NoError(t, AssignOrder(r, "miner-00", []byte{0x00})) // order 1
	require.NoError(t, AssignOrder(r, "miner-01", []byte{0x01})) // order 2

	// swap the two holders
	require.NoError(t, TuneOrder(r, map[string]int{"miner-00": 2, "miner-01": 1}))
	assert.Equal(t, 2, r.Miners["miner-00"].FinalOrderOfNextRound)
	assert.Equal(t, 1, r.Miners["miner-01"].FinalOrderOfNextRound)
}

func TestTuneOrderRejectsBadBatch(t *testing.T) {
	r := makeRound(4)
	require.NoError(t, AssignOrder(r, "miner-00", []byte{0x00})) // order 1
	require.NoError(t, AssignOrder(r, "miner-01", []byte{0x01})) // order 2

	err := TuneOrder(r, map[string]int{"miner-00": 2})
	assert.ErrorIs(t, err, ErrBrokenFinalOrders)
	// 校验失败不能动原round
	assert.Equal(t, 1, r.Miners["miner-00"].FinalOrderOfNextRound)

	assert.ErrorIs(t, TuneOrder(r, map[string]int{"miner-00": 9}), types.ErrOrderOutOfRange)
	assert.ErrorIs(t, TuneOrder(r, map[string]int{"stranger": 1}), types.ErrMinerNotFound)
	assert.NoError(t, TuneOrder(r, nil))
}

func TestVerifyFinalOrders(t *testing.T) {
	r := makeRound(3)
	require.NoError(t, VerifyFinalOrders(r)) // nothing recorded yet

	r.Miners["miner-00"].FinalOrderOfNextRound = 2
	r.Miners["miner-01"].FinalOrderOfNextRound = 2
	assert.ErrorIs(t, VerifyFinalOrders(r), ErrBrokenFinalOrders)

	r.Miners["miner-01"].FinalOrderOfNextRound = 4
	assert.ErrorIs(t, VerifyFinalOrders(r), ErrBrokenFinalOrders)

	r.Miners["miner-01"].FinalOrderOfNextRound = 3
	r.Miners["miner-02"].FinalOrderOfNextRound = 1
	assert.NoError(t, VerifyFinalOrders(r))
}
