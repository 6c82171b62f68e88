package store

import (
	"chaindpos/types"
)

// MockStore keeps rounds in a plain map, without the append-only policing of
// the KV store. Test helper only.
type MockStore struct {
	Rounds map[int64]*types.Round
	Latest int64
}

var _ RoundStore = (*MockStore)(nil)

func NewMockStore() *MockStore {
	return &MockStore{Rounds: make(map[int64]*types.Round)}
}

func (mock *MockStore) SaveRound(r *types.Round) error {
	mock.Rounds[r.RoundNumber] = r.Copy()
	if r.RoundNumber > mock.Latest {
		mock.Latest = r.RoundNumber
	}
	return nil
}

func (mock *MockStore) LoadRound(roundNumber int64) (*types.Round, error) {
	r, ok := mock.Rounds[roundNumber]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return r.Copy(), nil
}

func (mock *MockStore) LatestRound() (*types.Round, error) {
	if mock.Latest == 0 {
		return nil, ErrEmptyStore
	}
	return mock.LoadRound(mock.Latest)
}

func (mock *MockStore) LatestRoundNumber() (int64, error) {
	if mock.Latest == 0 {
		return 0, ErrEmptyStore
	}
	return mock.Latest, nil
}

func (mock *MockStore) Close() error { return nil }
