package random

import (
	"encoding/binary"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// WinnerIndex reduces a beacon sample and the full ordered participant
// list to an index in [0, len(participants)). Deterministic for a given
// sample and list. Returns -1 for an empty list.
func WinnerIndex(s Sample, participants []string) int {
	if len(participants) == 0 {
		return -1
	}

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(s.Time.Unix()))

	parts := make([][]byte, 0, len(participants)+3)
	parts = append(parts, ts[:], s.EnvValue.Bytes(), s.PrevBlockHash.Bytes())
	for _, p := range participants {
		parts = append(parts, common.HexToAddress(p).Bytes())
	}

	h := crypto.Keccak256(parts...)
	idx := new(big.Int).Mod(new(big.Int).SetBytes(h), big.NewInt(int64(len(participants))))
	return int(idx.Int64())
}
