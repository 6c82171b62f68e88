package privval

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempKeyPath(t *testing.T) string {
	t.Helper()
	dir, err := ioutil.TempDir("", "miner-key")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "miner_key.json")
}

func TestGenSaveLoadFileMiner(t *testing.T) {
	path := tempKeyPath(t)

	fm := GenFileMiner(path)
	fm.Save()

	loaded := LoadFileMiner(path)
	assert.Equal(t, fm.MinerPubKey(), loaded.MinerPubKey())
	assert.Equal(t, fm.Key.PrivKey, loaded.Key.PrivKey)
}

func TestLoadOrGenFileMiner(t *testing.T) {
	path := tempKeyPath(t)

	first := LoadOrGenFileMiner(path)
	second := LoadOrGenFileMiner(path)
	// 第二次必须读到同一把钥匙
	assert.Equal(t, first.MinerPubKey(), second.MinerPubKey())
}

func TestFileMinerSign(t *testing.T) {
	fm := GenFileMiner(tempKeyPath(t))

	payload := []byte("round payload")
	sig, err := fm.Sign(payload)
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	pub, err := fm.GetPubKey()
	require.NoError(t, err)
	assert.True(t, pub.VerifySignature(payload, sig))
	assert.False(t, pub.VerifySignature([]byte("other payload"), sig))
}

func TestMinerPubKeyIsHex(t *testing.T) {
	fm := GenFileMiner(tempKeyPath(t))
	pk := fm.MinerPubKey()
	assert.Len(t, pk, 64) // ed25519公钥32字节
	for _, c := range pk {
		assert.Contains(t, "0123456789ABCDEF", string(c))
	}
}
