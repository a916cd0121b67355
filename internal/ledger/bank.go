package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Balance is one (asset, account) row of the custody bank.
type Balance struct {
	ID        uint64          `json:"id" gorm:"primaryKey"`
	Asset     string          `json:"asset" gorm:"not null;size:42;uniqueIndex:idx_asset_account"`
	Account   string          `json:"account" gorm:"not null;size:42;uniqueIndex:idx_asset_account"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(36,18);not null"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// TableName returns the table name for Balance model
func (Balance) TableName() string {
	return "balances"
}

// Bank is a Ledger backed by a balances table. Each transfer runs in a
// transaction so a failed debit never leaves a dangling credit; callers
// that already hold a transaction thread it through WithTx so the
// transfer commits or rolls back with their own writes.
type Bank struct {
	db *gorm.DB
}

// NewBank creates a new bank ledger on db.
func NewBank(db *gorm.DB) *Bank {
	return &Bank{db: db}
}

type txKey struct{}

// WithTx returns a context that makes the Bank run on tx instead of its
// own connection, joining the caller's transaction.
func WithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// conn picks the caller's transaction when one is threaded through the
// context, falling back to the bank's own connection.
func (b *Bank) conn(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return b.db
}

// TransferFrom moves amount of asset from a depositor into custody.
func (b *Bank) TransferFrom(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	return b.move(ctx, asset, from, to, amount)
}

// Transfer moves amount of asset out of custody.
func (b *Bank) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	return b.move(ctx, asset, from, to, amount)
}

func (b *Bank) move(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	if asset == "" || from == "" || to == "" {
		return errors.New("asset and accounts cannot be empty")
	}
	if !amount.IsPositive() {
		return errors.New("amount must be positive")
	}

	return b.conn(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var src Balance
		err := tx.Where("asset = ? AND account = ?", asset, from).First(&src).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrInsufficientFunds
			}
			return err
		}
		if src.Amount.LessThan(amount) {
			return ErrInsufficientFunds
		}

		if err := tx.Model(&Balance{}).Where("id = ?", src.ID).
			Update("amount", src.Amount.Sub(amount)).Error; err != nil {
			return err
		}

		var dst Balance
		err = tx.Where("asset = ? AND account = ?", asset, to).First(&dst).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Balance{Asset: asset, Account: to, Amount: amount}).Error
		case err != nil:
			return err
		default:
			return tx.Model(&Balance{}).Where("id = ?", dst.ID).
				Update("amount", dst.Amount.Add(amount)).Error
		}
	})
}

// BalanceOf returns the asset balance held for an account. Missing rows
// read as zero.
func (b *Bank) BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	var bal Balance
	err := b.conn(ctx).WithContext(ctx).Where("asset = ? AND account = ?", asset, account).First(&bal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return bal.Amount, nil
}

// Credit adds amount of asset to an account, creating the row if
// needed. Used to fund depositors in development and tests.
func (b *Bank) Credit(ctx context.Context, asset, account string, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return errors.New("amount must be positive")
	}
	return b.conn(ctx).WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var bal Balance
		err := tx.Where("asset = ? AND account = ?", asset, account).First(&bal).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Balance{Asset: asset, Account: account, Amount: amount}).Error
		case err != nil:
			return err
		default:
			return tx.Model(&Balance{}).Where("id = ?", bal.ID).
				Update("amount", bal.Amount.Add(amount)).Error
		}
	})
}
