package random

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Sample is one observation of the randomness inputs: the current
// timestamp, an environment-supplied unpredictability value and the
// previous block hash. Unpredictable to callers ahead of time, but not
// cryptographically secure; anyone who can influence timing or read
// chain state early can bias the draw. Kept that way on purpose.
type Sample struct {
	Time          time.Time
	EnvValue      common.Hash
	PrevBlockHash common.Hash
}

// Beacon supplies draw samples.
type Beacon interface {
	Sample(ctx context.Context) (Sample, error)
}

// ChainBeacon reads samples from the head of an Ethereum chain:
// header timestamp, mixDigest (prevrandao) and parent hash.
type ChainBeacon struct {
	client *ethclient.Client
}

// NewChainBeacon creates a beacon backed by an RPC client.
func NewChainBeacon(client *ethclient.Client) *ChainBeacon {
	return &ChainBeacon{client: client}
}

func (b *ChainBeacon) Sample(ctx context.Context) (Sample, error) {
	header, err := b.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Time:          time.Unix(int64(header.Time), 0),
		EnvValue:      header.MixDigest,
		PrevBlockHash: header.ParentHash,
	}, nil
}

// LocalBeacon derives samples from the wall clock and a rolling hash
// chain. Used in development and tests where no chain is reachable.
type LocalBeacon struct {
	mu   sync.Mutex
	prev common.Hash
	tick uint64
}

// NewLocalBeacon creates a local beacon seeded from the current time.
func NewLocalBeacon() *LocalBeacon {
	var seed [8]byte
	binary.BigEndian.PutUint64(seed[:], uint64(time.Now().UnixNano()))
	return &LocalBeacon{prev: crypto.Keccak256Hash(seed[:])}
}

func (b *LocalBeacon) Sample(ctx context.Context) (Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tick++

	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], b.tick)
	binary.BigEndian.PutUint64(buf[8:], uint64(now.UnixNano()))
	env := crypto.Keccak256Hash(buf[:])

	s := Sample{Time: now, EnvValue: env, PrevBlockHash: b.prev}
	b.prev = crypto.Keccak256Hash(b.prev.Bytes(), env.Bytes())
	return s, nil
}
