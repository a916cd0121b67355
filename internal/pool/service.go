package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/onelotto/backend/internal/auth"
	"github.com/onelotto/backend/internal/events"
	"github.com/onelotto/backend/internal/ledger"
	"github.com/onelotto/backend/internal/models"
	"github.com/onelotto/backend/internal/random"
)

// Publisher receives lifecycle notifications.
type Publisher interface {
	Publish(evt events.PoolEvent)
}

// CreatePoolParams are the inputs for opening a new pool.
type CreatePoolParams struct {
	AssetAddress    string          `json:"asset_address" binding:"required"`
	AssetLabel      string          `json:"asset_label" binding:"required"`
	RequiredAmount  decimal.Decimal `json:"required_amount" binding:"required"`
	MaxParticipants int             `json:"max_participants" binding:"required"`
	DurationSeconds int64           `json:"duration_seconds" binding:"required"`
}

// Snapshot is the full read-only projection of one pool.
type Snapshot struct {
	ID               uint64          `json:"id"`
	AssetAddress     string          `json:"asset_address"`
	AssetLabel       string          `json:"asset_label"`
	RequiredAmount   decimal.Decimal `json:"required_amount"`
	MaxParticipants  int             `json:"max_participants"`
	EndTime          time.Time       `json:"end_time"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	IsActive         bool            `json:"is_active"`
	IsFinished       bool            `json:"is_finished"`
	WinnerAddress    string          `json:"winner_address,omitempty"`
	ParticipantCount int             `json:"participant_count"`
	CreatedAt        time.Time       `json:"created_at"`
}

// Service is the pool lifecycle engine plus the query surface.
type Service interface {
	CreatePool(ctx context.Context, caller string, params CreatePoolParams) (*models.Pool, error)
	Deposit(ctx context.Context, caller string, poolID uint64, amount decimal.Decimal) (*models.Pool, error)
	SelectWinner(ctx context.Context, caller string, poolID uint64) (*models.Draw, error)
	RecoverAsset(ctx context.Context, caller, asset string, amount decimal.Decimal) error
	TransferOwnership(ctx context.Context, caller, newAdmin string) error

	GetPool(ctx context.Context, id uint64) (*Snapshot, error)
	ListPools(limit, offset int) ([]*models.Pool, error)
	ParticipantCount(id uint64) (int, error)
	Participants(id uint64) ([]models.Participant, error)
	ParticipantAt(id uint64, index int) (string, error)
	HasParticipated(id uint64, address string) (bool, error)
	GetDraw(id uint64) (*models.Draw, error)
}

type service struct {
	repo    Repository
	ledger  ledger.Ledger
	beacon  random.Beacon
	gate    *auth.Gate
	pub     Publisher
	cache   *Cache
	custody string

	// Serializes all mutating operations; doubles as the re-entrancy
	// guard around external custody calls.
	mu sync.Mutex

	now func() time.Time
}

// NewService creates the lifecycle engine. pub and cache may be nil.
func NewService(repo Repository, lg ledger.Ledger, beacon random.Beacon, gate *auth.Gate, pub Publisher, cache *Cache, custody string) Service {
	return &service{
		repo:    repo,
		ledger:  lg,
		beacon:  beacon,
		gate:    gate,
		pub:     pub,
		cache:   cache,
		custody: custody,
		now:     time.Now,
	}
}

func (s *service) publish(evt events.PoolEvent) {
	if s.pub != nil {
		s.pub.Publish(evt)
	}
}

func (s *service) invalidate(ctx context.Context, poolID uint64) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, poolID)
	}
}

// CreatePool opens a new round. Fails while any pool is still open.
func (s *service) CreatePool(ctx context.Context, caller string, params CreatePoolParams) (*models.Pool, error) {
	if !s.gate.IsAdmin(caller) {
		return nil, ErrUnauthorized
	}
	if !common.IsHexAddress(params.AssetAddress) ||
		common.HexToAddress(params.AssetAddress) == (common.Address{}) {
		return nil, fmt.Errorf("%w: asset address", ErrInvalidArgument)
	}
	if params.AssetLabel == "" {
		return nil, fmt.Errorf("%w: asset label cannot be empty", ErrInvalidArgument)
	}
	if !params.RequiredAmount.IsPositive() {
		return nil, fmt.Errorf("%w: required amount must be positive", ErrInvalidArgument)
	}
	if params.MaxParticipants <= 0 {
		return nil, fmt.Errorf("%w: max participants must be positive", ErrInvalidArgument)
	}
	if params.DurationSeconds <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	open, err := s.repo.GetOpenPool()
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, ErrPoolConflict
	}

	endTime := s.now().Add(time.Duration(params.DurationSeconds) * time.Second)
	pool := &models.Pool{
		AssetAddress:    common.HexToAddress(params.AssetAddress).Hex(),
		AssetLabel:      params.AssetLabel,
		RequiredAmount:  params.RequiredAmount,
		MaxParticipants: params.MaxParticipants,
		EndTime:         endTime,
		TotalAmount:     decimal.Zero,
		IsActive:        true,
	}
	if err := s.repo.Create(pool); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"pool_id":  pool.ID,
		"asset":    pool.AssetLabel,
		"end_time": pool.EndTime,
	}).Info("Pool created")

	s.publish(events.PoolEvent{
		Name:            events.PoolCreated,
		PoolID:          pool.ID,
		AssetAddress:    pool.AssetAddress,
		AssetLabel:      pool.AssetLabel,
		RequiredAmount:  pool.RequiredAmount,
		MaxParticipants: pool.MaxParticipants,
		EndTime:         &endTime,
	})

	return pool, nil
}

// Deposit accepts exactly the required amount from a first-time
// participant of an open pool. The custody transfer and the registry
// writes commit in one transaction, transfer first; a failure on
// either side leaves both the pool and the custody balances untouched.
func (s *service) Deposit(ctx context.Context, caller string, poolID uint64, amount decimal.Decimal) (*models.Pool, error) {
	if !common.IsHexAddress(caller) {
		return nil, fmt.Errorf("%w: caller address", ErrInvalidArgument)
	}
	caller = common.HexToAddress(caller).Hex()

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.repo.GetByID(poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotFound
	}
	if pool.IsFinished {
		return nil, ErrPoolAlreadyFinished
	}
	if !pool.IsActive {
		return nil, ErrPoolNotOpen
	}
	if !s.now().Before(pool.EndTime) {
		return nil, ErrPoolEnded
	}

	participated, err := s.repo.HasParticipated(pool.ID, caller)
	if err != nil {
		return nil, err
	}
	if participated {
		return nil, ErrDuplicateParticipant
	}

	count, err := s.repo.CountParticipants(pool.ID)
	if err != nil {
		return nil, err
	}
	if count >= pool.MaxParticipants {
		return nil, ErrPoolFull
	}

	if !amount.Equal(pool.RequiredAmount) {
		return nil, ErrWrongAmount
	}

	participant := &models.Participant{
		PoolID:      pool.ID,
		Address:     caller,
		Position:    count,
		DepositedAt: s.now(),
	}
	err = s.repo.AddParticipant(pool, participant, amount, func(tx *gorm.DB) error {
		if err := s.ledger.TransferFrom(ledger.WithTx(ctx, tx), pool.AssetAddress, caller, s.custody, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pool.ID)

	logrus.WithFields(logrus.Fields{
		"pool_id":     pool.ID,
		"participant": caller,
		"position":    count,
		"total":       pool.TotalAmount,
	}).Info("Deposit accepted")

	s.publish(events.PoolEvent{
		Name:        events.DepositAccepted,
		PoolID:      pool.ID,
		Participant: caller,
		TotalAmount: pool.TotalAmount,
	})

	return pool, nil
}

// SelectWinner draws a winner for an ended pool and distributes the
// prize in the same call. The draw index is
// keccak256(timestamp, envValue, prevBlockHash, participants...) mod N:
// unpredictable ahead of time but not cryptographically secure, kept
// that way deliberately.
func (s *service) SelectWinner(ctx context.Context, caller string, poolID uint64) (*models.Draw, error) {
	if !s.gate.IsAdmin(caller) {
		return nil, ErrUnauthorized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pool, err := s.repo.GetByID(poolID)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotFound
	}
	if pool.IsFinished {
		return nil, ErrPoolAlreadyFinished
	}
	if !pool.IsActive {
		return nil, ErrPoolNotOpen
	}
	if s.now().Before(pool.EndTime) {
		return nil, ErrPoolNotEnded
	}

	participants, err := s.repo.ListParticipants(pool.ID)
	if err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}

	sample, err := s.beacon.Sample(ctx)
	if err != nil {
		return nil, err
	}

	addresses := make([]string, len(participants))
	for i, p := range participants {
		addresses[i] = p.Address
	}
	index := random.WinnerIndex(sample, addresses)
	pool.WinnerAddress = addresses[index]

	logrus.WithFields(logrus.Fields{
		"pool_id": pool.ID,
		"winner":  pool.WinnerAddress,
		"index":   index,
		"prize":   pool.TotalAmount,
	}).Info("Winner selected")

	draw, err := s.distribute(ctx, pool, sample, index)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, pool.ID)

	s.publish(events.PoolEvent{
		Name:        events.WinnerSelected,
		PoolID:      pool.ID,
		Winner:      pool.WinnerAddress,
		TotalAmount: draw.Prize,
	})
	s.publish(events.PoolEvent{
		Name:        events.PrizeDistributed,
		PoolID:      pool.ID,
		Winner:      pool.WinnerAddress,
		TotalAmount: draw.Prize,
	})
	s.publish(events.PoolEvent{
		Name:   events.PoolFinished,
		PoolID: pool.ID,
	})

	return draw, nil
}

// distribute flips the pool to finished and pays the winner. The
// terminal flags are written before the custody transfer runs and both
// commit or roll back as a unit, so a re-entrant call can never observe
// an open pool with a pending payout.
func (s *service) distribute(ctx context.Context, pool *models.Pool, sample random.Sample, index int) (*models.Draw, error) {
	if pool.WinnerAddress == "" {
		return nil, ErrNoWinnerSelected
	}

	prize := pool.TotalAmount
	draw := &models.Draw{
		PoolID:        pool.ID,
		WinnerAddress: pool.WinnerAddress,
		WinnerIndex:   index,
		Prize:         prize,
		SampleTime:    sample.Time,
		EnvValue:      sample.EnvValue.Hex(),
		PrevBlockHash: sample.PrevBlockHash.Hex(),
	}

	err := s.repo.FinishPool(pool, draw, func(tx *gorm.DB) error {
		if err := s.ledger.Transfer(ledger.WithTx(ctx, tx), pool.AssetAddress, s.custody, pool.WinnerAddress, prize); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		pool.WinnerAddress = ""
		return nil, err
	}

	pool.IsActive = false
	pool.IsFinished = true
	return draw, nil
}

// RecoverAsset moves stuck funds out of custody to the administrator,
// bypassing pool logic. Balance sufficiency is the ledger's check.
func (s *service) RecoverAsset(ctx context.Context, caller, asset string, amount decimal.Decimal) error {
	if !s.gate.IsAdmin(caller) {
		return ErrUnauthorized
	}
	if !common.IsHexAddress(asset) || common.HexToAddress(asset) == (common.Address{}) {
		return fmt.Errorf("%w: asset address", ErrInvalidArgument)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ledger.Transfer(ctx, common.HexToAddress(asset).Hex(), s.custody, s.gate.Admin(), amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"asset":  asset,
		"amount": amount,
		"to":     s.gate.Admin(),
	}).Warn("Emergency recovery executed")

	return nil
}

// TransferOwnership hands the administrator gate to a new address.
func (s *service) TransferOwnership(ctx context.Context, caller, newAdmin string) error {
	if !s.gate.IsAdmin(caller) {
		return ErrUnauthorized
	}
	if err := s.gate.Transfer(newAdmin); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	logrus.WithField("admin", s.gate.Admin()).Info("Ownership transferred")
	return nil
}

// GetPool returns the full snapshot of a pool, cached when a cache is
// configured.
func (s *service) GetPool(ctx context.Context, id uint64) (*Snapshot, error) {
	if s.cache != nil {
		if snap, ok := s.cache.Get(ctx, id); ok {
			return snap, nil
		}
	}

	pool, err := s.repo.GetByID(id)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, ErrNotFound
	}

	count, err := s.repo.CountParticipants(pool.ID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:               pool.ID,
		AssetAddress:     pool.AssetAddress,
		AssetLabel:       pool.AssetLabel,
		RequiredAmount:   pool.RequiredAmount,
		MaxParticipants:  pool.MaxParticipants,
		EndTime:          pool.EndTime,
		TotalAmount:      pool.TotalAmount,
		IsActive:         pool.IsActive,
		IsFinished:       pool.IsFinished,
		WinnerAddress:    pool.WinnerAddress,
		ParticipantCount: count,
		CreatedAt:        pool.CreatedAt,
	}

	if s.cache != nil {
		s.cache.Set(ctx, snap)
	}
	return snap, nil
}

// ListPools retrieves pools with pagination
func (s *service) ListPools(limit, offset int) ([]*models.Pool, error) {
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(limit, offset)
}

// ParticipantCount returns the number of deposits in a pool
func (s *service) ParticipantCount(id uint64) (int, error) {
	if err := s.ensureExists(id); err != nil {
		return 0, err
	}
	return s.repo.CountParticipants(id)
}

// Participants returns a pool's participants in deposit order
func (s *service) Participants(id uint64) ([]models.Participant, error) {
	if err := s.ensureExists(id); err != nil {
		return nil, err
	}
	return s.repo.ListParticipants(id)
}

// ParticipantAt returns the address at a deposit-order index
func (s *service) ParticipantAt(id uint64, index int) (string, error) {
	if err := s.ensureExists(id); err != nil {
		return "", err
	}
	participant, err := s.repo.ParticipantAt(id, index)
	if err != nil {
		return "", err
	}
	if participant == nil {
		return "", ErrIndexOutOfRange
	}
	return participant.Address, nil
}

// HasParticipated reports whether an address deposited into a pool
func (s *service) HasParticipated(id uint64, address string) (bool, error) {
	if err := s.ensureExists(id); err != nil {
		return false, err
	}
	if !common.IsHexAddress(address) {
		return false, fmt.Errorf("%w: address", ErrInvalidArgument)
	}
	return s.repo.HasParticipated(id, common.HexToAddress(address).Hex())
}

// GetDraw returns the draw record of a finished pool
func (s *service) GetDraw(id uint64) (*models.Draw, error) {
	if err := s.ensureExists(id); err != nil {
		return nil, err
	}
	draw, err := s.repo.GetDraw(id)
	if err != nil {
		return nil, err
	}
	if draw == nil {
		return nil, ErrNoWinnerSelected
	}
	return draw, nil
}

func (s *service) ensureExists(id uint64) error {
	pool, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if pool == nil {
		return ErrNotFound
	}
	return nil
}
