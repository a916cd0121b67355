package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Pool represents one lottery round. Pools are created sequentially and
// never deleted; at most one pool is open at any time.
type Pool struct {
	ID              uint64          `json:"id" gorm:"primaryKey"`
	AssetAddress    string          `json:"asset_address" gorm:"not null;size:42"` // Token handled by the ledger for this round
	AssetLabel      string          `json:"asset_label" gorm:"not null;size:100"`
	RequiredAmount  decimal.Decimal `json:"required_amount" gorm:"type:decimal(36,18);not null"` // Exact per-participant deposit
	MaxParticipants int             `json:"max_participants" gorm:"not null"`
	EndTime         time.Time       `json:"end_time" gorm:"not null"`
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(36,18)"` // Sum of accepted deposits
	IsActive        bool            `json:"is_active" gorm:"not null"`
	IsFinished      bool            `json:"is_finished" gorm:"not null"`
	WinnerAddress   string          `json:"winner_address" gorm:"size:42"` // Empty until the draw
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`

	Participants []Participant `json:"participants,omitempty" gorm:"foreignKey:PoolID"`
}

// TableName returns the table name for Pool model
func (Pool) TableName() string {
	return "pools"
}

// BeforeCreate hook to validate pool data
func (p *Pool) BeforeCreate(tx *gorm.DB) error {
	if p.AssetLabel == "" || p.MaxParticipants <= 0 || !p.RequiredAmount.IsPositive() {
		return gorm.ErrInvalidData
	}
	return nil
}

// Open reports whether the pool is still in its deposit phase.
func (p *Pool) Open() bool {
	return p.IsActive && !p.IsFinished
}

// Participant is one accepted deposit into a pool. The (pool, address)
// unique index doubles as the participated set.
type Participant struct {
	ID          uint64    `json:"id" gorm:"primaryKey"`
	PoolID      uint64    `json:"pool_id" gorm:"not null;uniqueIndex:idx_pool_address"`
	Address     string    `json:"address" gorm:"not null;size:42;uniqueIndex:idx_pool_address"`
	Position    int       `json:"position" gorm:"not null"` // Deposit order, 0-based
	DepositedAt time.Time `json:"deposited_at"`
}

// TableName returns the table name for Participant model
func (Participant) TableName() string {
	return "participants"
}

// Draw records how a finished pool's winner was chosen: the beacon
// sample that seeded the hash and the index it reduced to.
type Draw struct {
	ID            uint64          `json:"id" gorm:"primaryKey"`
	PoolID        uint64          `json:"pool_id" gorm:"uniqueIndex;not null"`
	WinnerAddress string          `json:"winner_address" gorm:"not null;size:42"`
	WinnerIndex   int             `json:"winner_index" gorm:"not null"`
	Prize         decimal.Decimal `json:"prize" gorm:"type:decimal(36,18)"`
	SampleTime    time.Time       `json:"sample_time"`
	EnvValue      string          `json:"env_value" gorm:"size:66"`
	PrevBlockHash string          `json:"prev_block_hash" gorm:"size:66"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TableName returns the table name for Draw model
func (Draw) TableName() string {
	return "draws"
}
