package pool

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/onelotto/backend/internal/auth"
	"github.com/onelotto/backend/internal/events"
	"github.com/onelotto/backend/internal/models"
	"github.com/onelotto/backend/internal/random"
)

const (
	adminAddr   = "0x00000000000000000000000000000000000000a1"
	custodyAddr = "0x00000000000000000000000000000000000000c1"
	assetAddr   = "0x00000000000000000000000000000000000000e1"
	alice       = "0x0000000000000000000000000000000000000011"
	bob         = "0x0000000000000000000000000000000000000022"
	carol       = "0x0000000000000000000000000000000000000033"
	dave        = "0x0000000000000000000000000000000000000044"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Create(pool *models.Pool) error {
	args := m.Called(pool)
	if args.Error(0) == nil && pool.ID == 0 {
		pool.ID = 1
	}
	return args.Error(0)
}

func (m *MockRepository) GetByID(id uint64) (*models.Pool, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Pool), args.Error(1)
}

func (m *MockRepository) GetOpenPool() (*models.Pool, error) {
	args := m.Called()
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Pool), args.Error(1)
}

func (m *MockRepository) List(limit, offset int) ([]*models.Pool, error) {
	args := m.Called(limit, offset)
	return args.Get(0).([]*models.Pool), args.Error(1)
}

func (m *MockRepository) CountParticipants(poolID uint64) (int, error) {
	args := m.Called(poolID)
	return args.Int(0), args.Error(1)
}

func (m *MockRepository) ListParticipants(poolID uint64) ([]models.Participant, error) {
	args := m.Called(poolID)
	return args.Get(0).([]models.Participant), args.Error(1)
}

func (m *MockRepository) ParticipantAt(poolID uint64, index int) (*models.Participant, error) {
	args := m.Called(poolID, index)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Participant), args.Error(1)
}

func (m *MockRepository) HasParticipated(poolID uint64, address string) (bool, error) {
	args := m.Called(poolID, address)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) AddParticipant(pool *models.Pool, participant *models.Participant, amount decimal.Decimal, deposit func(tx *gorm.DB) error) error {
	args := m.Called(pool, participant, amount)
	if err := args.Error(0); err != nil {
		return err
	}
	// The deposit closure runs inside the same transaction; its error
	// aborts the append, mirroring the real repository.
	if deposit != nil {
		if err := deposit(nil); err != nil {
			return err
		}
	}
	pool.TotalAmount = pool.TotalAmount.Add(amount)
	return nil
}

func (m *MockRepository) FinishPool(pool *models.Pool, draw *models.Draw, payout func(tx *gorm.DB) error) error {
	args := m.Called(pool, draw)
	if err := args.Error(0); err != nil {
		return err
	}
	// The payout runs inside the same transaction; its error aborts the
	// transition, mirroring the real repository.
	return payout(nil)
}

func (m *MockRepository) GetDraw(poolID uint64) (*models.Draw, error) {
	args := m.Called(poolID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Draw), args.Error(1)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) TransferFrom(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	args := m.Called(asset, from, to, amount)
	return args.Error(0)
}

func (m *MockLedger) Transfer(ctx context.Context, asset, from, to string, amount decimal.Decimal) error {
	args := m.Called(asset, from, to, amount)
	return args.Error(0)
}

func (m *MockLedger) BalanceOf(ctx context.Context, asset, account string) (decimal.Decimal, error) {
	args := m.Called(asset, account)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type fixedBeacon struct {
	sample random.Sample
}

func (b *fixedBeacon) Sample(ctx context.Context) (random.Sample, error) {
	return b.sample, nil
}

type recordingPublisher struct {
	published []events.PoolEvent
}

func (p *recordingPublisher) Publish(evt events.PoolEvent) {
	p.published = append(p.published, evt)
}

func (p *recordingPublisher) names() []events.Name {
	names := make([]events.Name, len(p.published))
	for i, evt := range p.published {
		names[i] = evt.Name
	}
	return names
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo Repository, lg *MockLedger) (*service, *recordingPublisher) {
	t.Helper()

	gate, err := auth.NewGate(adminAddr)
	require.NoError(t, err)

	pub := &recordingPublisher{}
	beacon := &fixedBeacon{sample: random.Sample{Time: testNow}}

	svc := NewService(repo, lg, beacon, gate, pub, nil, custodyAddr).(*service)
	svc.now = func() time.Time { return testNow }
	return svc, pub
}

func openPool(required int64, maxParticipants int, endTime time.Time) *models.Pool {
	return &models.Pool{
		ID:              1,
		AssetAddress:    common.HexToAddress(assetAddr).Hex(),
		AssetLabel:      "Test Token",
		RequiredAmount:  decimal.NewFromInt(required),
		MaxParticipants: maxParticipants,
		EndTime:         endTime,
		TotalAmount:     decimal.Zero,
		IsActive:        true,
	}
}

func validParams() CreatePoolParams {
	return CreatePoolParams{
		AssetAddress:    assetAddr,
		AssetLabel:      "Test Token",
		RequiredAmount:  decimal.NewFromInt(100),
		MaxParticipants: 3,
		DurationSeconds: 3600,
	}
}

func TestCreatePool(t *testing.T) {
	repo := new(MockRepository)
	svc, pub := newTestService(t, repo, new(MockLedger))

	repo.On("GetOpenPool").Return(nil, nil)
	repo.On("Create", mock.AnythingOfType("*models.Pool")).Return(nil)

	pool, err := svc.CreatePool(context.Background(), adminAddr, validParams())
	require.NoError(t, err)
	assert.True(t, pool.IsActive)
	assert.False(t, pool.IsFinished)
	assert.Equal(t, testNow.Add(time.Hour), pool.EndTime)
	assert.True(t, pool.TotalAmount.IsZero())
	assert.Equal(t, []events.Name{events.PoolCreated}, pub.names())
	repo.AssertExpectations(t)
}

func TestCreatePool_Unauthorized(t *testing.T) {
	repo := new(MockRepository)
	svc, pub := newTestService(t, repo, new(MockLedger))

	_, err := svc.CreatePool(context.Background(), alice, validParams())
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, pub.published)
	repo.AssertNotCalled(t, "Create", mock.Anything)
}

func TestCreatePool_InvalidArguments(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	tests := []struct {
		name   string
		mutate func(*CreatePoolParams)
	}{
		{"zero asset address", func(p *CreatePoolParams) { p.AssetAddress = "0x0000000000000000000000000000000000000000" }},
		{"malformed asset address", func(p *CreatePoolParams) { p.AssetAddress = "not-an-address" }},
		{"empty label", func(p *CreatePoolParams) { p.AssetLabel = "" }},
		{"zero amount", func(p *CreatePoolParams) { p.RequiredAmount = decimal.Zero }},
		{"negative amount", func(p *CreatePoolParams) { p.RequiredAmount = decimal.NewFromInt(-5) }},
		{"zero capacity", func(p *CreatePoolParams) { p.MaxParticipants = 0 }},
		{"zero duration", func(p *CreatePoolParams) { p.DurationSeconds = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := validParams()
			tt.mutate(&params)
			_, err := svc.CreatePool(context.Background(), adminAddr, params)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestCreatePool_Conflict(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetOpenPool").Return(openPool(100, 3, testNow.Add(time.Hour)), nil)

	_, err := svc.CreatePool(context.Background(), adminAddr, validParams())
	assert.ErrorIs(t, err, ErrPoolConflict)
	repo.AssertNotCalled(t, "Create", mock.Anything)
}

func TestDeposit(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, pub := newTestService(t, repo, lg)

	pool := openPool(100, 3, testNow.Add(time.Hour))
	amount := decimal.NewFromInt(100)

	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("HasParticipated", uint64(1), common.HexToAddress(alice).Hex()).Return(false, nil)
	repo.On("CountParticipants", uint64(1)).Return(0, nil)
	lg.On("TransferFrom", pool.AssetAddress, common.HexToAddress(alice).Hex(), custodyAddr, amount).Return(nil)
	repo.On("AddParticipant", pool, mock.AnythingOfType("*models.Participant"), amount).Return(nil)

	got, err := svc.Deposit(context.Background(), alice, 1, amount)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(amount))
	assert.Equal(t, []events.Name{events.DepositAccepted}, pub.names())
	repo.AssertExpectations(t)
	lg.AssertExpectations(t)
}

func TestDeposit_NotFound(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(9)).Return(nil, nil)

	_, err := svc.Deposit(context.Background(), alice, 9, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeposit_PoolFinished(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	pool := openPool(100, 3, testNow.Add(-time.Hour))
	pool.IsActive = false
	pool.IsFinished = true
	repo.On("GetByID", uint64(1)).Return(pool, nil)

	_, err := svc.Deposit(context.Background(), alice, 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrPoolAlreadyFinished)
}

func TestDeposit_AfterDeadline(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(1)).Return(openPool(100, 3, testNow), nil)

	_, err := svc.Deposit(context.Background(), alice, 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrPoolEnded)
}

func TestDeposit_Duplicate(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, _ := newTestService(t, repo, lg)

	pool := openPool(100, 3, testNow.Add(time.Hour))
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("HasParticipated", uint64(1), common.HexToAddress(alice).Hex()).Return(true, nil)

	_, err := svc.Deposit(context.Background(), alice, 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrDuplicateParticipant)
	assert.True(t, pool.TotalAmount.IsZero())
	lg.AssertNotCalled(t, "TransferFrom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeposit_PoolFull(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, _ := newTestService(t, repo, lg)

	pool := openPool(100, 3, testNow.Add(time.Hour))
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("HasParticipated", uint64(1), common.HexToAddress(dave).Hex()).Return(false, nil)
	repo.On("CountParticipants", uint64(1)).Return(3, nil)

	_, err := svc.Deposit(context.Background(), dave, 1, decimal.NewFromInt(100))
	assert.ErrorIs(t, err, ErrPoolFull)
	lg.AssertNotCalled(t, "TransferFrom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDeposit_WrongAmount(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, _ := newTestService(t, repo, lg)

	pool := openPool(100, 3, testNow.Add(time.Hour))
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("HasParticipated", uint64(1), common.HexToAddress(alice).Hex()).Return(false, nil)
	repo.On("CountParticipants", uint64(1)).Return(0, nil)

	_, err := svc.Deposit(context.Background(), alice, 1, decimal.NewFromInt(99))
	assert.ErrorIs(t, err, ErrWrongAmount)
	// No transfer attempted and no registry write for a wrong amount.
	lg.AssertNotCalled(t, "TransferFrom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	repo.AssertNotCalled(t, "AddParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeposit_TransferFailed(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, pub := newTestService(t, repo, lg)

	pool := openPool(100, 3, testNow.Add(time.Hour))
	amount := decimal.NewFromInt(100)
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("HasParticipated", uint64(1), common.HexToAddress(alice).Hex()).Return(false, nil)
	repo.On("CountParticipants", uint64(1)).Return(0, nil)
	repo.On("AddParticipant", pool, mock.AnythingOfType("*models.Participant"), amount).Return(nil)
	lg.On("TransferFrom", pool.AssetAddress, common.HexToAddress(alice).Hex(), custodyAddr, amount).
		Return(assert.AnError)

	_, err := svc.Deposit(context.Background(), alice, 1, amount)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.True(t, pool.TotalAmount.IsZero())
	assert.Empty(t, pub.published)
}

func endedPoolWithParticipants(total int64) (*models.Pool, []models.Participant) {
	pool := openPool(100, 3, testNow.Add(-time.Minute))
	pool.TotalAmount = decimal.NewFromInt(total)
	participants := []models.Participant{
		{PoolID: 1, Address: common.HexToAddress(alice).Hex(), Position: 0},
		{PoolID: 1, Address: common.HexToAddress(bob).Hex(), Position: 1},
		{PoolID: 1, Address: common.HexToAddress(carol).Hex(), Position: 2},
	}
	return pool, participants
}

func TestSelectWinner(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, pub := newTestService(t, repo, lg)

	pool, participants := endedPoolWithParticipants(300)
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("ListParticipants", uint64(1)).Return(participants, nil)
	repo.On("FinishPool", pool, mock.AnythingOfType("*models.Draw")).Return(nil)
	lg.On("Transfer", pool.AssetAddress, custodyAddr, mock.AnythingOfType("string"), decimal.NewFromInt(300)).Return(nil)

	draw, err := svc.SelectWinner(context.Background(), adminAddr, 1)
	require.NoError(t, err)

	addresses := []string{participants[0].Address, participants[1].Address, participants[2].Address}
	assert.Contains(t, addresses, draw.WinnerAddress)
	assert.Equal(t, draw.WinnerAddress, addresses[draw.WinnerIndex])
	assert.True(t, draw.Prize.Equal(decimal.NewFromInt(300)))
	assert.True(t, pool.IsFinished)
	assert.False(t, pool.IsActive)
	assert.Equal(t, []events.Name{events.WinnerSelected, events.PrizeDistributed, events.PoolFinished}, pub.names())
	repo.AssertExpectations(t)
	lg.AssertExpectations(t)
}

func TestSelectWinner_Unauthorized(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	_, err := svc.SelectWinner(context.Background(), alice, 1)
	assert.ErrorIs(t, err, ErrUnauthorized)
	repo.AssertNotCalled(t, "GetByID", mock.Anything)
}

func TestSelectWinner_NotEnded(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(1)).Return(openPool(100, 3, testNow.Add(time.Hour)), nil)

	_, err := svc.SelectWinner(context.Background(), adminAddr, 1)
	assert.ErrorIs(t, err, ErrPoolNotEnded)
}

func TestSelectWinner_NoParticipants(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(1)).Return(openPool(100, 3, testNow.Add(-time.Minute)), nil)
	repo.On("ListParticipants", uint64(1)).Return([]models.Participant{}, nil)

	_, err := svc.SelectWinner(context.Background(), adminAddr, 1)
	assert.ErrorIs(t, err, ErrNoParticipants)
}

func TestSelectWinner_AlreadyFinished(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	pool := openPool(100, 3, testNow.Add(-time.Hour))
	pool.IsActive = false
	pool.IsFinished = true
	pool.WinnerAddress = common.HexToAddress(bob).Hex()
	repo.On("GetByID", uint64(1)).Return(pool, nil)

	_, err := svc.SelectWinner(context.Background(), adminAddr, 1)
	assert.ErrorIs(t, err, ErrPoolAlreadyFinished)
}

func TestSelectWinner_PayoutFailureRollsBack(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, pub := newTestService(t, repo, lg)

	pool, participants := endedPoolWithParticipants(300)
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("ListParticipants", uint64(1)).Return(participants, nil)
	repo.On("FinishPool", pool, mock.AnythingOfType("*models.Draw")).Return(nil)
	lg.On("Transfer", pool.AssetAddress, custodyAddr, mock.AnythingOfType("string"), decimal.NewFromInt(300)).
		Return(assert.AnError)

	_, err := svc.SelectWinner(context.Background(), adminAddr, 1)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.False(t, pool.IsFinished)
	assert.Empty(t, pool.WinnerAddress)
	assert.Empty(t, pub.published)
}

func TestRecoverAsset(t *testing.T) {
	repo := new(MockRepository)
	lg := new(MockLedger)
	svc, _ := newTestService(t, repo, lg)

	amount := decimal.NewFromInt(50)
	lg.On("Transfer", common.HexToAddress(assetAddr).Hex(), custodyAddr, common.HexToAddress(adminAddr).Hex(), amount).
		Return(nil)

	err := svc.RecoverAsset(context.Background(), adminAddr, assetAddr, amount)
	assert.NoError(t, err)
	lg.AssertExpectations(t)
}

func TestRecoverAsset_Unauthorized(t *testing.T) {
	svc, _ := newTestService(t, new(MockRepository), new(MockLedger))

	err := svc.RecoverAsset(context.Background(), alice, assetAddr, decimal.NewFromInt(50))
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRecoverAsset_InvalidArguments(t *testing.T) {
	svc, _ := newTestService(t, new(MockRepository), new(MockLedger))

	err := svc.RecoverAsset(context.Background(), adminAddr, "bogus", decimal.NewFromInt(50))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	err = svc.RecoverAsset(context.Background(), adminAddr, assetAddr, decimal.Zero)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestTransferOwnership(t *testing.T) {
	svc, _ := newTestService(t, new(MockRepository), new(MockLedger))

	err := svc.TransferOwnership(context.Background(), adminAddr, bob)
	require.NoError(t, err)

	// The old admin lost the gate.
	err = svc.TransferOwnership(context.Background(), adminAddr, carol)
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = svc.TransferOwnership(context.Background(), bob, carol)
	assert.NoError(t, err)
}

func TestGetPool_NotFound(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(42)).Return(nil, nil)

	_, err := svc.GetPool(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetPool(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	pool := openPool(100, 3, testNow.Add(time.Hour))
	pool.TotalAmount = decimal.NewFromInt(200)
	repo.On("GetByID", uint64(1)).Return(pool, nil)
	repo.On("CountParticipants", uint64(1)).Return(2, nil)

	snap, err := svc.GetPool(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snap.ID)
	assert.Equal(t, 2, snap.ParticipantCount)
	assert.True(t, snap.TotalAmount.Equal(decimal.NewFromInt(200)))
	assert.True(t, snap.IsActive)
}

func TestParticipantAt_OutOfRange(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(1)).Return(openPool(100, 3, testNow.Add(time.Hour)), nil)
	repo.On("ParticipantAt", uint64(1), 5).Return(nil, nil)

	_, err := svc.ParticipantAt(1, 5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestGetDraw_NotDrawn(t *testing.T) {
	repo := new(MockRepository)
	svc, _ := newTestService(t, repo, new(MockLedger))

	repo.On("GetByID", uint64(1)).Return(openPool(100, 3, testNow.Add(time.Hour)), nil)
	repo.On("GetDraw", uint64(1)).Return(nil, nil)

	_, err := svc.GetDraw(1)
	assert.ErrorIs(t, err, ErrNoWinnerSelected)
}
