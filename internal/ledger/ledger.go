package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrInsufficientFunds is returned when the source account cannot cover
// a transfer.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Ledger is the asset-custody collaborator. Implementations move exact
// amounts between accounts of a given asset; a non-nil error means no
// balance changed.
type Ledger interface {
	// TransferFrom moves amount of asset from a depositor into custody.
	TransferFrom(ctx context.Context, asset, from, to string, amount decimal.Decimal) error
	// Transfer moves amount of asset out of custody.
	Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error
	// BalanceOf returns the asset balance held for an account.
	BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error)
}
