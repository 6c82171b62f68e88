// adapted from the shape of tendermint's types/validator_set.go
package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tendermint/tendermint/crypto/merkle"
)

// MinerList represents the committee of block producers for a term.
//
// Pubkeys are hex-encoded and kept sorted ascending, so every node derives
// the same index for the same miner. The list is a value snapshot: committee
// changes (term boundary, evil-miner replacement) always build a new list.
//
// NOTE: Not goroutine-safe.
type MinerList struct {
	Pubkeys []string `json:"pubkeys"`
}

// NewMinerList initializes a MinerList by copying and sorting the given
// pubkeys. Duplicates make the function panic - a committee is a set.
func NewMinerList(pubkeys []string) *MinerList {
	cp := append([]string(nil), pubkeys...)
	sort.Strings(cp)
	for i := 1; i < len(cp); i++ {
		if cp[i] == cp[i-1] {
			panic(fmt.Sprintf("duplicate miner pubkey %q in committee", cp[i]))
		}
	}
	return &MinerList{Pubkeys: cp}
}

// IsNilOrEmpty returns true if the miner list is nil or empty.
func (ml *MinerList) IsNilOrEmpty() bool {
	return ml == nil || len(ml.Pubkeys) == 0
}

// Size returns the committee size.
func (ml *MinerList) Size() int {
	return len(ml.Pubkeys)
}

// Has returns true if the pubkey belongs to the committee.
func (ml *MinerList) Has(pubkey string) bool {
	return ml.Index(pubkey) >= 0
}

// Index returns the miner's position in the sorted committee, or -1.
func (ml *MinerList) Index(pubkey string) int {
	i := sort.SearchStrings(ml.Pubkeys, pubkey)
	if i < len(ml.Pubkeys) && ml.Pubkeys[i] == pubkey {
		return i
	}
	return -1
}

// Copy makes a value copy of the committee.
func (ml *MinerList) Copy() *MinerList {
	return &MinerList{Pubkeys: append([]string(nil), ml.Pubkeys...)}
}

// Remove returns a new committee without the given pubkeys. Unknown pubkeys
// are ignored.
func (ml *MinerList) Remove(pubkeys []string) *MinerList {
	drop := make(map[string]struct{}, len(pubkeys))
	for _, pk := range pubkeys {
		drop[pk] = struct{}{}
	}
	kept := make([]string, 0, len(ml.Pubkeys))
	for _, pk := range ml.Pubkeys {
		if _, gone := drop[pk]; !gone {
			kept = append(kept, pk)
		}
	}
	return &MinerList{Pubkeys: kept}
}

// Add returns a new committee with the given pubkeys included.
func (ml *MinerList) Add(pubkeys []string) *MinerList {
	return NewMinerList(append(append([]string(nil), ml.Pubkeys...), pubkeys...))
}

// Hash returns the merkle root hash built from the committee pubkeys.
func (ml *MinerList) Hash() []byte {
	bzs := make([][]byte, len(ml.Pubkeys))
	for i, pk := range ml.Pubkeys {
		bzs[i] = []byte(pk)
	}
	return merkle.HashFromByteSlices(bzs)
}

// ValidateBasic performs basic validation.
func (ml *MinerList) ValidateBasic() error {
	if ml.IsNilOrEmpty() {
		return ErrEmptyRound
	}
	for i, pk := range ml.Pubkeys {
		if pk == "" {
			return fmt.Errorf("empty pubkey at index %d", i)
		}
		if i > 0 && ml.Pubkeys[i] <= ml.Pubkeys[i-1] {
			return fmt.Errorf("committee not sorted and unique at index %d", i)
		}
	}
	return nil
}

// String returns a string representation of the committee.
func (ml *MinerList) String() string {
	if ml == nil {
		return "nil-MinerList"
	}
	return fmt.Sprintf("MinerList{%v}", strings.Join(ml.Pubkeys, ","))
}
