package store

import (
	"bytes"
	"encoding/binary"

	"chaindpos/types"

	"github.com/pkg/errors"
	"github.com/tendermint/tendermint/libs/log"
	tmjson "github.com/tendermint/tendermint/libs/json"
	tmdb "github.com/tendermint/tm-db"
	leveldb "github.com/tendermint/tm-db/goleveldb"
)

var (
	ErrRoundNotFound = errors.New("round not found in store")
	ErrEmptyStore    = errors.New("round store is empty")

	// ErrRoundSuperseded is returned when a write targets a round that has
	// already been superseded. Retired rounds stay queryable (secret share
	// reconciliation, LIB history) but are never rewritten.
	ErrRoundSuperseded = errors.New("superseded rounds are read-only")

	// ErrRoundRewrite is returned when a write would replace the latest
	// round with one that has a different scheduling identity.
	ErrRoundRewrite = errors.New("stored round can only be updated in place, not replaced")

	ErrRoundGap = errors.New("round numbers must advance by exactly 1")
)

var (
	keyLatest      = []byte("round_latest")
	keyRoundPrefix = []byte("round/")
)

// RoundStore is the single authoritative round/committee state, keyed by
// round number. Only the block-execution path mutates it.
type RoundStore interface {
	// SaveRound persists a round. The latest round may be rewritten in
	// place as its slots mutate (same RoundID); the round after it may be
	// appended; anything older is refused.
	SaveRound(r *types.Round) error

	// LoadRound returns the stored round with the given number.
	LoadRound(roundNumber int64) (*types.Round, error)

	// LatestRound returns the most recently stored round.
	LatestRound() (*types.Round, error)

	// LatestRoundNumber returns the number of the most recent round, or
	// ErrEmptyStore.
	LatestRoundNumber() (int64, error)

	Close() error
}

// KVRoundStore keeps rounds in a tm-db backend.
type KVRoundStore struct {
	db     tmdb.DB
	logger log.Logger
}

var _ RoundStore = (*KVRoundStore)(nil)

// NewKVRoundStore opens a goleveldb-backed store under dir.
func NewKVRoundStore(name, dir string, logger log.Logger) (*KVRoundStore, error) {
	db, err := leveldb.NewDB(name, dir)
	if err != nil {
		return nil, errors.Wrap(err, "open round database")
	}
	return NewKVRoundStoreWithDB(db, logger), nil
}

// NewKVRoundStoreWithDB wraps an existing tm-db instance; tests pass
// memdb.NewDB().
func NewKVRoundStoreWithDB(db tmdb.DB, logger log.Logger) *KVRoundStore {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &KVRoundStore{db: db, logger: logger}
}

func (ks *KVRoundStore) SaveRound(r *types.Round) error {
	if err := r.ValidateBasic(); err != nil {
		return errors.Wrap(err, "refusing to store malformed round")
	}

	latest, err := ks.LatestRoundNumber()
	switch {
	case err == nil:
		if r.RoundNumber < latest {
			return errors.Wrapf(ErrRoundSuperseded, "round %d, latest %d", r.RoundNumber, latest)
		}
		if r.RoundNumber == latest {
			// 同一轮内的更新必须保持排班不变
			stored, err := ks.LoadRound(latest)
			if err != nil {
				return err
			}
			if !bytes.Equal(stored.RoundID(), r.RoundID()) {
				return errors.Wrapf(ErrRoundRewrite, "round %d", r.RoundNumber)
			}
		}
		if r.RoundNumber > latest+1 {
			return errors.Wrapf(ErrRoundGap, "round %d, latest %d", r.RoundNumber, latest)
		}
	case errors.Is(err, ErrEmptyStore):
		// 第一条记录，直接落盘
	default:
		return err
	}

	bz, err := tmjson.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "marshal round")
	}

	batch := ks.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(roundKey(r.RoundNumber), bz); err != nil {
		return err
	}
	if err := batch.Set(keyLatest, roundKey(r.RoundNumber)); err != nil {
		return err
	}
	if err := batch.WriteSync(); err != nil {
		return errors.Wrap(err, "write round batch")
	}

	ks.logger.Debug("saved round", "round", r.RoundNumber, "term", r.TermNumber)
	return nil
}

func (ks *KVRoundStore) LoadRound(roundNumber int64) (*types.Round, error) {
	bz, err := ks.db.Get(roundKey(roundNumber))
	if err != nil {
		return nil, errors.Wrap(err, "load round")
	}
	if len(bz) == 0 {
		return nil, errors.Wrapf(ErrRoundNotFound, "round %d", roundNumber)
	}
	r := new(types.Round)
	if err := tmjson.Unmarshal(bz, r); err != nil {
		return nil, errors.Wrapf(err, "unmarshal round %d", roundNumber)
	}
	return r, nil
}

func (ks *KVRoundStore) LatestRound() (*types.Round, error) {
	n, err := ks.LatestRoundNumber()
	if err != nil {
		return nil, err
	}
	return ks.LoadRound(n)
}

func (ks *KVRoundStore) LatestRoundNumber() (int64, error) {
	key, err := ks.db.Get(keyLatest)
	if err != nil {
		return 0, errors.Wrap(err, "load latest round pointer")
	}
	if len(key) == 0 {
		return 0, ErrEmptyStore
	}
	return int64(binary.BigEndian.Uint64(key[len(keyRoundPrefix):])), nil
}

func (ks *KVRoundStore) Close() error {
	return ks.db.Close()
}

func roundKey(n int64) []byte {
	key := make([]byte, len(keyRoundPrefix)+8)
	copy(key, keyRoundPrefix)
	binary.BigEndian.PutUint64(key[len(keyRoundPrefix):], uint64(n))
	return key
}
