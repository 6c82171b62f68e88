package store

import (
	"fmt"
	"io/ioutil"
	"os"
	"testing"
	"time"

	"chaindpos/types"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	memdb "github.com/tendermint/tm-db/memdb"
)

func storeTestRound(n int64, miners int) *types.Round {
	r := &types.Round{
		RoundNumber: n,
		TermNumber:  1,
		Miners:      make(map[string]*types.MinerSlot, miners),
	}
	for i := 1; i <= miners; i++ {
		pk := fmt.Sprintf("miner-%02d", i)
		r.Miners[pk] = &types.MinerSlot{
			PubKey:             pk,
			Order:              i,
			ExpectedMiningTime: time.Unix(1000+n*100, 0).Add(time.Duration(i) * 4 * time.Second),
		}
	}
	return r
}

func TestRoundStoreSaveLoad(t *testing.T) {
	ks := NewKVRoundStoreWithDB(memdb.NewDB(), nil)

	_, err := ks.LatestRoundNumber()
	assert.ErrorIs(t, err, ErrEmptyStore)

	r1 := storeTestRound(1, 4)
	require.NoError(t, ks.SaveRound(r1))

	got, err := ks.LoadRound(1)
	require.NoError(t, err)
	assert.Equal(t, r1.RoundID(), got.RoundID())
	assert.Equal(t, 4, got.MinersCount())

	latest, err := ks.LatestRoundNumber()
	require.NoError(t, err)
	assert.EqualValues(t, 1, latest)

	_, err = ks.LoadRound(7)
	assert.ErrorIs(t, err, ErrRoundNotFound)
}

func TestRoundStoreAppendOnly(t *testing.T) {
	ks := NewKVRoundStoreWithDB(memdb.NewDB(), nil)

	r1 := storeTestRound(1, 4)
	require.NoError(t, ks.SaveRound(r1))
	r2 := storeTestRound(2, 4)
	require.NoError(t, ks.SaveRound(r2))

	// 最新一轮允许原地更新
	r2.Miners["miner-01"].OutValue = []byte("out")
	require.NoError(t, ks.SaveRound(r2))
	got, err := ks.LoadRound(2)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Miners["miner-01"].OutValue)

	// 已经superseded的round只读
	r1.Miners["miner-01"].OutValue = []byte("rewrite")
	assert.ErrorIs(t, ks.SaveRound(r1), ErrRoundSuperseded)

	// 换一套排班顶替最新一轮也不行
	impostor := storeTestRound(2, 5)
	assert.ErrorIs(t, ks.SaveRound(impostor), ErrRoundRewrite)

	// 跳号不行
	assert.ErrorIs(t, ks.SaveRound(storeTestRound(5, 4)), ErrRoundGap)

	// 畸形round拒收
	broken := storeTestRound(3, 4)
	broken.Miners["miner-02"].Order = 1
	err = ks.SaveRound(broken)
	assert.ErrorIs(t, err, types.ErrDuplicateOrder)
}

func TestRoundStoreGoLevelDB(t *testing.T) {
	defer leaktest.Check(t)()

	dir, err := ioutil.TempDir("", "round_store_test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	ks, err := NewKVRoundStore("rounds", dir, nil)
	require.NoError(t, err)

	require.NoError(t, ks.SaveRound(storeTestRound(1, 3)))
	require.NoError(t, ks.SaveRound(storeTestRound(2, 3)))
	require.NoError(t, ks.Close())

	// 重新打开后数据仍在
	ks, err = NewKVRoundStore("rounds", dir, nil)
	require.NoError(t, err)
	defer ks.Close()

	latest, err := ks.LatestRound()
	require.NoError(t, err)
	assert.EqualValues(t, 2, latest.RoundNumber)
}

func TestMockStore(t *testing.T) {
	mock := NewMockStore()
	_, err := mock.LatestRound()
	assert.ErrorIs(t, err, ErrEmptyStore)

	require.NoError(t, mock.SaveRound(storeTestRound(3, 2)))
	got, err := mock.LatestRound()
	require.NoError(t, err)
	assert.EqualValues(t, 3, got.RoundNumber)

	// mock返回副本，改动不回写
	got.Miners["miner-01"].OutValue = []byte("x")
	reloaded, err := mock.LoadRound(3)
	require.NoError(t, err)
	assert.Empty(t, reloaded.Miners["miner-01"].OutValue)
}
