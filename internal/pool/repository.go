package pool

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/onelotto/backend/internal/models"
)

// Repository is the pool registry: sequential ids, the single open
// pool, participant rows and draw records.
type Repository interface {
	Create(pool *models.Pool) error
	GetByID(id uint64) (*models.Pool, error)
	GetOpenPool() (*models.Pool, error)
	List(limit, offset int) ([]*models.Pool, error)
	CountParticipants(poolID uint64) (int, error)
	ListParticipants(poolID uint64) ([]models.Participant, error)
	ParticipantAt(poolID uint64, index int) (*models.Participant, error)
	HasParticipated(poolID uint64, address string) (bool, error)
	AddParticipant(pool *models.Pool, participant *models.Participant, amount decimal.Decimal, deposit func(tx *gorm.DB) error) error
	FinishPool(pool *models.Pool, draw *models.Draw, payout func(tx *gorm.DB) error) error
	GetDraw(poolID uint64) (*models.Draw, error)
}

// repository implements Repository on gorm
type repository struct {
	db *gorm.DB
}

// NewRepository creates a new pool repository
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

// Create stores a new pool. The primary key allocates the next
// sequential pool id.
func (r *repository) Create(pool *models.Pool) error {
	if pool == nil {
		return errors.New("pool cannot be nil")
	}
	return r.db.Create(pool).Error
}

// GetByID retrieves a pool by its id. Returns nil without error when
// the id was never allocated.
func (r *repository) GetByID(id uint64) (*models.Pool, error) {
	if id == 0 {
		return nil, nil
	}

	var pool models.Pool
	err := r.db.First(&pool, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

// GetOpenPool returns the pool currently accepting deposits, or nil
// when every pool is finished. At most one row can match.
func (r *repository) GetOpenPool() (*models.Pool, error) {
	var pool models.Pool
	err := r.db.Where("is_active = ? AND is_finished = ?", true, false).First(&pool).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pool, nil
}

// List retrieves pools with pagination, newest first
func (r *repository) List(limit, offset int) ([]*models.Pool, error) {
	var pools []*models.Pool
	err := r.db.Order("id DESC").Limit(limit).Offset(offset).Find(&pools).Error
	return pools, err
}

// CountParticipants returns the number of accepted deposits for a pool
func (r *repository) CountParticipants(poolID uint64) (int, error) {
	var count int64
	err := r.db.Model(&models.Participant{}).Where("pool_id = ?", poolID).Count(&count).Error
	return int(count), err
}

// ListParticipants returns a pool's participants in deposit order
func (r *repository) ListParticipants(poolID uint64) ([]models.Participant, error) {
	var participants []models.Participant
	err := r.db.Where("pool_id = ?", poolID).Order("position ASC").Find(&participants).Error
	return participants, err
}

// ParticipantAt returns the participant at a deposit-order index, or
// nil when the index is out of range.
func (r *repository) ParticipantAt(poolID uint64, index int) (*models.Participant, error) {
	if index < 0 {
		return nil, nil
	}

	var participant models.Participant
	err := r.db.Where("pool_id = ? AND position = ?", poolID, index).First(&participant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &participant, nil
}

// HasParticipated reports whether an address already deposited into a
// pool.
func (r *repository) HasParticipated(poolID uint64, address string) (bool, error) {
	var count int64
	err := r.db.Model(&models.Participant{}).
		Where("pool_id = ? AND LOWER(address) = LOWER(?)", poolID, address).
		Count(&count).Error
	return count > 0, err
}

// AddParticipant runs the custody deposit and then appends the
// participant and grows the pool total, all in one transaction. The
// deposit closure receives the transaction so the custody move commits
// or rolls back with the registry writes; a failure on either side
// leaves no trace of the other. On success the in-memory pool reflects
// the new total.
func (r *repository) AddParticipant(pool *models.Pool, participant *models.Participant, amount decimal.Decimal, deposit func(tx *gorm.DB) error) error {
	if pool == nil || participant == nil {
		return errors.New("pool and participant cannot be nil")
	}

	newTotal := pool.TotalAmount.Add(amount)
	err := r.db.Transaction(func(tx *gorm.DB) error {
		if deposit != nil {
			if err := deposit(tx); err != nil {
				return err
			}
		}
		if err := tx.Create(participant).Error; err != nil {
			return err
		}
		return tx.Model(&models.Pool{}).Where("id = ?", pool.ID).
			Update("total_amount", newTotal).Error
	})
	if err != nil {
		return err
	}

	pool.TotalAmount = newTotal
	return nil
}

// FinishPool persists the terminal transition and then runs the payout
// inside the same transaction. The terminal flags are written before
// payout runs, and the payout closure receives the transaction so the
// custody move joins it; a payout error rolls the whole transition
// back, so the pool is finished if and only if the prize moved.
func (r *repository) FinishPool(pool *models.Pool, draw *models.Draw, payout func(tx *gorm.DB) error) error {
	if pool == nil || draw == nil {
		return errors.New("pool and draw cannot be nil")
	}

	return r.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.Pool{}).Where("id = ?", pool.ID).Updates(map[string]interface{}{
			"is_active":      false,
			"is_finished":    true,
			"winner_address": pool.WinnerAddress,
		}).Error
		if err != nil {
			return err
		}
		if err := tx.Create(draw).Error; err != nil {
			return err
		}
		return payout(tx)
	})
}

// GetDraw returns the draw record for a finished pool, or nil when the
// pool has not been drawn.
func (r *repository) GetDraw(poolID uint64) (*models.Draw, error) {
	var draw models.Draw
	err := r.db.Where("pool_id = ?", poolID).First(&draw).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &draw, nil
}
