package pool

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/onelotto/backend/internal/auth"
)

// Handler exposes the lifecycle engine and query surface over REST.
type Handler struct {
	service Service
}

// NewHandler creates a new pool handler
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// DepositRequest is the deposit body. The amount must equal the pool's
// required amount exactly.
type DepositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
}

// RecoverRequest is the emergency recovery body.
type RecoverRequest struct {
	AssetAddress string          `json:"asset_address" binding:"required"`
	Amount       decimal.Decimal `json:"amount" binding:"required"`
}

// TransferOwnershipRequest names the next administrator.
type TransferOwnershipRequest struct {
	NewAdmin string `json:"new_admin" binding:"required"`
}

func caller(c *gin.Context) (string, bool) {
	address, exists := c.Get(auth.ContextAddressKey)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return "", false
	}
	return address.(string), true
}

func poolID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool id"})
		return 0, false
	}
	return id, true
}

// statusFor maps a service error to an HTTP status. Every failure is
// terminal for the attempted operation; nothing is retried here.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrWrongAmount):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, ErrPoolConflict),
		errors.Is(err, ErrPoolNotOpen),
		errors.Is(err, ErrPoolAlreadyFinished),
		errors.Is(err, ErrPoolEnded),
		errors.Is(err, ErrPoolNotEnded),
		errors.Is(err, ErrDuplicateParticipant),
		errors.Is(err, ErrPoolFull),
		errors.Is(err, ErrNoParticipants),
		errors.Is(err, ErrNoWinnerSelected):
		return http.StatusConflict
	case errors.Is(err, ErrTransferFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// CreatePool opens a new round (administrator only).
func (h *Handler) CreatePool(c *gin.Context) {
	address, ok := caller(c)
	if !ok {
		return
	}

	var params CreatePoolParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pool, err := h.service.CreatePool(c.Request.Context(), address, params)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, pool)
}

// Deposit accepts the caller's deposit into an open pool.
func (h *Handler) Deposit(c *gin.Context) {
	address, ok := caller(c)
	if !ok {
		return
	}
	id, ok := poolID(c)
	if !ok {
		return
	}

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pool, err := h.service.Deposit(c.Request.Context(), address, id, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, pool)
}

// SelectWinner draws and pays out an ended pool (administrator only).
func (h *Handler) SelectWinner(c *gin.Context) {
	address, ok := caller(c)
	if !ok {
		return
	}
	id, ok := poolID(c)
	if !ok {
		return
	}

	draw, err := h.service.SelectWinner(c.Request.Context(), address, id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, draw)
}

// GetPool returns the full snapshot of one pool.
func (h *Handler) GetPool(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}

	snap, err := h.service.GetPool(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// ListPools returns pools with pagination, newest first.
func (h *Handler) ListPools(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	pools, err := h.service.ListPools(limit, offset)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, pools)
}

// ListParticipants returns a pool's participants in deposit order.
func (h *Handler) ListParticipants(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}

	participants, err := h.service.Participants(id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"count":        len(participants),
		"participants": participants,
	})
}

// GetParticipant returns the address at a deposit-order index.
func (h *Handler) GetParticipant(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid index"})
		return
	}

	address, err := h.service.ParticipantAt(id, index)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"index": index, "address": address})
}

// HasParticipated reports whether an address deposited into a pool.
func (h *Handler) HasParticipated(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}

	participated, err := h.service.HasParticipated(id, c.Param("address"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"participated": participated})
}

// GetDraw returns the draw record of a finished pool.
func (h *Handler) GetDraw(c *gin.Context) {
	id, ok := poolID(c)
	if !ok {
		return
	}

	draw, err := h.service.GetDraw(id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, draw)
}

// RecoverAsset moves stuck funds to the administrator.
func (h *Handler) RecoverAsset(c *gin.Context) {
	address, ok := caller(c)
	if !ok {
		return
	}

	var req RecoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.RecoverAsset(c.Request.Context(), address, req.AssetAddress, req.Amount); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"recovered": req.Amount})
}

// TransferOwnership hands the administrator gate to a new address.
func (h *Handler) TransferOwnership(c *gin.Context) {
	address, ok := caller(c)
	if !ok {
		return
	}

	var req TransferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.service.TransferOwnership(c.Request.Context(), address, req.NewAdmin); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"admin": req.NewAdmin})
}

// RegisterRoutes wires the pool routes. Mutating routes run behind the
// provided authentication middleware; administrator-only routes run
// behind adminOnly as well, with the service gate as a second check.
func (h *Handler) RegisterRoutes(router *gin.RouterGroup, authn, adminOnly gin.HandlerFunc) {
	pools := router.Group("/pools")
	{
		pools.POST("", authn, adminOnly, h.CreatePool)
		pools.GET("", h.ListPools)
		pools.GET("/:id", h.GetPool)
		pools.GET("/:id/participants", h.ListParticipants)
		pools.GET("/:id/participants/:index", h.GetParticipant)
		pools.GET("/:id/participated/:address", h.HasParticipated)
		pools.GET("/:id/draw", h.GetDraw)
		pools.POST("/:id/deposits", authn, h.Deposit)
		pools.POST("/:id/draw", authn, adminOnly, h.SelectWinner)
	}

	admin := router.Group("/admin", authn, adminOnly)
	{
		admin.POST("/recover", h.RecoverAsset)
		admin.POST("/transfer", h.TransferOwnership)
	}
}
