package auth

import (
	"errors"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Gate holds the single administrator identity. Lifecycle-mutating
// operations are restricted to this address; it changes only through an
// explicit ownership transfer.
type Gate struct {
	mu    sync.RWMutex
	admin string
}

// NewGate creates a gate for the given administrator address.
func NewGate(admin string) (*Gate, error) {
	if err := validateAddress(admin); err != nil {
		return nil, err
	}
	return &Gate{admin: common.HexToAddress(admin).Hex()}, nil
}

// Admin returns the current administrator address.
func (g *Gate) Admin() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admin
}

// IsAdmin reports whether addr is the administrator.
func (g *Gate) IsAdmin(addr string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return strings.EqualFold(g.admin, addr)
}

// Transfer hands the gate to a new administrator address.
func (g *Gate) Transfer(newAdmin string) error {
	if err := validateAddress(newAdmin); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.admin = common.HexToAddress(newAdmin).Hex()
	return nil
}

func validateAddress(addr string) error {
	if !common.IsHexAddress(addr) {
		return errors.New("invalid address format")
	}
	if common.HexToAddress(addr) == (common.Address{}) {
		return errors.New("address cannot be the zero address")
	}
	return nil
}
