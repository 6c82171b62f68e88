// Package secretshare implements the commit-reveal randomness scheme with a
// Shamir reconstruction fallback: a miner commits hash(in_value) while
// mining, reveals in_value one round later, and any 2/3 of the committee can
// reconstruct the value of a miner that refuses to reveal.
package secretshare

import (
	"encoding/binary"
	"fmt"

	"github.com/tendermint/tendermint/crypto/tmhash"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"go.dedis.ch/kyber/v3/share"
)

// suite仅用于标量域和随机源，不涉及点运算
var suite = edwards25519.NewBlakeSHA256Ed25519()

const scalarLen = 32

// Threshold returns the number of decrypted pieces needed to reconstruct a
// miner's in value with a committee of n. Exactly floor(2n/3) pieces suffice.
func Threshold(n int) int {
	t := n * 2 / 3
	if t < 1 {
		t = 1
	}
	return t
}

// GenerateInValue draws a fresh random in value. Values are scalars of the
// suite transported as their canonical encoding, so splitting and
// reconstructing round-trips byte-identically.
func GenerateInValue() []byte {
	s := suite.Scalar().Pick(suite.RandomStream())
	bz, err := s.MarshalBinary()
	if err != nil {
		panic(fmt.Sprintf("marshal fresh scalar: %v", err))
	}
	return bz
}

// Commit computes the out value published alongside a block:
// out_value = hash(in_value).
func Commit(inValue []byte) []byte {
	return tmhash.Sum(inValue)
}

// NextSignature derives the miner's signature for the current round:
// hash(in_value) XOR (XOR of all signatures of the previous round).
// prevXORed must be the tmhash-sized fold from Round.XORedSignatures.
func NextSignature(inValue, prevXORed []byte) []byte {
	sig := tmhash.Sum(inValue)
	for i := 0; i < len(sig) && i < len(prevXORed); i++ {
		sig[i] ^= prevXORed[i]
	}
	return sig
}

// PseudoInValue is the deterministic stand-in used when a miner neither
// revealed nor could be reconstructed. It keeps signature computation going
// but must never be treated as a verified reveal.
func PseudoInValue(pubkey string, height int64) []byte {
	bz := make([]byte, 0, len(pubkey)+8)
	bz = append(bz, pubkey...)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(height))
	bz = append(bz, buf[:]...)
	return tmhash.Sum(bz)
}

// Split cuts an in value into n indexed pieces; Threshold(n) of them
// reconstruct it. Piece layout: 4-byte big-endian share index, then the
// scalar encoding.
func Split(inValue []byte, n int) ([][]byte, error) {
	sec := suite.Scalar()
	if err := sec.UnmarshalBinary(inValue); err != nil {
		return nil, fmt.Errorf("in value is not a scalar encoding: %w", err)
	}

	poly := share.NewPriPoly(suite, Threshold(n), sec, suite.RandomStream())
	shares := poly.Shares(n)

	pieces := make([][]byte, n)
	for i, sh := range shares {
		vbz, err := sh.V.MarshalBinary()
		if err != nil {
			return nil, err
		}
		piece := make([]byte, 4, 4+len(vbz))
		binary.BigEndian.PutUint32(piece, uint32(sh.I))
		pieces[i] = append(piece, vbz...)
	}
	return pieces, nil
}

// Reconstruct recovers an in value from decrypted pieces. n is the committee
// size the value was split for; fewer than Threshold(n) valid pieces is an
// error.
func Reconstruct(pieces [][]byte, n int) ([]byte, error) {
	shares := make([]*share.PriShare, 0, len(pieces))
	for _, piece := range pieces {
		if len(piece) != 4+scalarLen {
			continue // 跳过畸形piece，凑不够阈值自然报错
		}
		v := suite.Scalar()
		if err := v.UnmarshalBinary(piece[4:]); err != nil {
			continue
		}
		shares = append(shares, &share.PriShare{
			I: int(binary.BigEndian.Uint32(piece[:4])),
			V: v,
		})
	}

	t := Threshold(n)
	if len(shares) < t {
		return nil, fmt.Errorf("%w: got %d pieces, need %d", ErrNotEnoughPieces, len(shares), t)
	}

	sec, err := share.RecoverSecret(suite, shares, t, n)
	if err != nil {
		return nil, err
	}
	return sec.MarshalBinary()
}
