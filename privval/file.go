package privval

import (
	"fmt"
	"io/ioutil"

	"github.com/tendermint/tendermint/crypto"
	"github.com/tendermint/tendermint/crypto/ed25519"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmos "github.com/tendermint/tendermint/libs/os"
	"github.com/tendermint/tendermint/libs/tempfile"
)

//-------------------------------------------------------------------------------

// FileMinerKey stores a miner's signing identity.
type FileMinerKey struct {
	PubKey  crypto.PubKey  `json:"pub_key"`
	PrivKey crypto.PrivKey `json:"priv_key"`

	filePath string
}

// Save persists the FileMinerKey to its filePath.
func (mk FileMinerKey) Save() {
	outFile := mk.filePath
	if outFile == "" {
		panic("cannot save miner key: filePath not set")
	}

	jsonBytes, err := tmjson.MarshalIndent(mk, "", "  ")
	if err != nil {
		panic(err)
	}
	err = tempfile.WriteFileAtomic(outFile, jsonBytes, 0600)
	if err != nil {
		panic(err)
	}
}

//-------------------------------------------------------------------------------

// FileMiner holds a miner's key persisted to disk. The hex form of the
// public key is the identity the round schedule keys its slots by.
// NOTE: the directory containing the filePath must already exist.
type FileMiner struct {
	Key FileMinerKey
}

// NewFileMiner wraps the given key and path.
func NewFileMiner(privKey crypto.PrivKey, keyFilePath string) *FileMiner {
	return &FileMiner{
		Key: FileMinerKey{
			PubKey:   privKey.PubKey(),
			PrivKey:  privKey,
			filePath: keyFilePath,
		},
	}
}

// GenFileMiner generates a miner with a fresh ed25519 key and sets the
// filePath, but does not call Save().
func GenFileMiner(keyFilePath string) *FileMiner {
	return NewFileMiner(ed25519.GenPrivKey(), keyFilePath)
}

// LoadFileMiner loads a FileMiner from the filePath. If the file is missing
// or unreadable the program exits.
func LoadFileMiner(keyFilePath string) *FileMiner {
	keyJSONBytes, err := ioutil.ReadFile(keyFilePath)
	if err != nil {
		tmos.Exit(err.Error())
	}
	mk := FileMinerKey{}
	err = tmjson.Unmarshal(keyJSONBytes, &mk)
	if err != nil {
		tmos.Exit(fmt.Sprintf("Error reading miner key from %v: %v\n", keyFilePath, err))
	}

	// overwrite pubkey for convenience
	mk.PubKey = mk.PrivKey.PubKey()
	mk.filePath = keyFilePath

	return &FileMiner{Key: mk}
}

// LoadOrGenFileMiner loads a FileMiner from the given filePath
// or else generates a new one and saves it there.
func LoadOrGenFileMiner(keyFilePath string) *FileMiner {
	var fm *FileMiner
	if tmos.FileExists(keyFilePath) {
		fm = LoadFileMiner(keyFilePath)
	} else {
		fm = GenFileMiner(keyFilePath)
		fm.Save()
	}
	return fm
}

// MinerPubKey returns the hex identity used in round schedules.
func (fm *FileMiner) MinerPubKey() string {
	return fmt.Sprintf("%X", fm.Key.PubKey.Bytes())
}

// GetPubKey returns the public key of the miner.
func (fm *FileMiner) GetPubKey() (crypto.PubKey, error) {
	return fm.Key.PubKey, nil
}

// Sign signs arbitrary consensus payload bytes.
func (fm *FileMiner) Sign(bz []byte) ([]byte, error) {
	sig, err := fm.Key.PrivKey.Sign(bz)
	if err != nil {
		return nil, fmt.Errorf("error signing payload: %v", err)
	}
	return sig, nil
}

// Save persists the FileMiner to disk.
func (fm *FileMiner) Save() {
	fm.Key.Save()
}

// String returns a string representation of the FileMiner.
func (fm *FileMiner) String() string {
	return fmt.Sprintf("FileMiner{%v}", fm.MinerPubKey())
}
