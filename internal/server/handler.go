package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/polyjuicelabs/polyjuice/internal/auth"
	"github.com/polyjuicelabs/polyjuice/internal/escrow"
	"github.com/polyjuicelabs/polyjuice/internal/ledger"
	"github.com/polyjuicelabs/polyjuice/internal/order"
)

// SettlementEngine is satisfied by escrow.Engine.
// Decoupled here so handler tests can use a mock.
type SettlementEngine interface {
	Fulfill(ctx context.Context, o *order.Order, actingParty common.Address) (order.ID, error)
	Claim(ctx context.Context, id order.ID, actingParty common.Address) error
	Rental(ctx context.Context, id order.ID) (*ledger.Record, error)
	UsagePeriod(ctx context.Context, id order.ID) (int64, error)
	Fee(ctx context.Context, id order.ID) (*big.Int, error)
}

// Handler wires the settlement API onto a gin engine.
type Handler struct {
	engine SettlementEngine
	log    *zap.Logger
}

func NewHandler(engine SettlementEngine, log *zap.Logger) *Handler {
	return &Handler{engine: engine, log: log}
}

// Register mounts all routes. The auth middleware should already be applied
// to the group; the acting party for fulfill/claim is the authenticated
// wallet.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/orders/fulfill", h.handleFulfill)
	rg.POST("/orders/id", h.handleID)
	rg.GET("/rentals/:id", h.handleRental)
	rg.GET("/rentals/:id/usage", h.handleUsage)
	rg.GET("/rentals/:id/fee", h.handleFee)
	rg.POST("/rentals/:id/claim", h.handleClaim)
}

// ── Fulfill ─────────────────────────────────────────────────────────────────

func (h *Handler) handleFulfill(c *gin.Context) {
	acting, ok := actingParty(c)
	if !ok {
		return
	}

	var o order.Order
	if err := c.ShouldBindJSON(&o); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order JSON"})
		return
	}

	id, err := h.engine.Fulfill(c.Request.Context(), &o, acting)
	if err != nil {
		h.failure(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id.Hex()})
}

// ── ID (pure recomputation, no state change) ───────────────────────────────

type idRequest struct {
	Lender   common.Address `json:"lender"`
	Borrower common.Address `json:"borrower"`
	NFT      common.Address `json:"nft"`
	TokenID  *big.Int       `json:"token_id"`
	PayToken common.Address `json:"pay_token"`
	Amount   *big.Int       `json:"amount"`
	Duration int64          `json:"duration"`
}

func (h *Handler) handleID(c *gin.Context) {
	var req idRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request JSON"})
		return
	}
	if !order.FitsUint256(req.TokenID) || !order.FitsUint256(req.Amount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "token_id or amount out of range"})
		return
	}
	id := order.IDOf(req.Lender, req.Borrower, req.NFT, req.TokenID, req.PayToken, req.Amount, req.Duration)
	c.JSON(http.StatusOK, gin.H{"id": id.Hex()})
}

// ── Reads ───────────────────────────────────────────────────────────────────

func (h *Handler) handleRental(c *gin.Context) {
	id, ok := rentalID(c)
	if !ok {
		return
	}
	rec, err := h.engine.Rental(c.Request.Context(), id)
	if err != nil {
		h.failure(c, err)
		return
	}
	usage, err := h.engine.UsagePeriod(c.Request.Context(), id)
	if err != nil {
		h.failure(c, err)
		return
	}
	fee, err := h.engine.Fee(c.Request.Context(), id)
	if err != nil {
		h.failure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"rental":       rec,
		"usage_period": usage,
		"fee":          fee.String(),
	})
}

func (h *Handler) handleUsage(c *gin.Context) {
	id, ok := rentalID(c)
	if !ok {
		return
	}
	usage, err := h.engine.UsagePeriod(c.Request.Context(), id)
	if err != nil {
		h.failure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"usage_period": usage})
}

func (h *Handler) handleFee(c *gin.Context) {
	id, ok := rentalID(c)
	if !ok {
		return
	}
	fee, err := h.engine.Fee(c.Request.Context(), id)
	if err != nil {
		h.failure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"fee": fee.String()})
}

// ── Claim ───────────────────────────────────────────────────────────────────

func (h *Handler) handleClaim(c *gin.Context) {
	acting, ok := actingParty(c)
	if !ok {
		return
	}
	id, ok := rentalID(c)
	if !ok {
		return
	}
	if err := h.engine.Claim(c.Request.Context(), id, acting); err != nil {
		h.failure(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"claimed": true})
}

// ── Helpers ─────────────────────────────────────────────────────────────────

func actingParty(c *gin.Context) (common.Address, bool) {
	wallet := c.GetString(auth.WalletKey)
	if !common.IsHexAddress(wallet) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing wallet identity"})
		return common.Address{}, false
	}
	return common.HexToAddress(wallet), true
}

func rentalID(c *gin.Context) (order.ID, bool) {
	raw := strings.TrimPrefix(c.Param("id"), "0x")
	if len(raw) != 2*common.HashLength {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid rental id"})
		return order.ID{}, false
	}
	return common.HexToHash(raw), true
}

// failure maps engine errors to HTTP statuses so callers can distinguish
// "resubmit with new signature" from "already rented" from "funds problem".
func (h *Handler) failure(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed order"})
	case errors.Is(err, escrow.ErrOrderExpired):
		c.JSON(http.StatusGone, gin.H{"error": "order window expired"})
	case errors.Is(err, escrow.ErrSignatureInvalid):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "order signature invalid"})
	case errors.Is(err, ledger.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "rental already active"})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "rental not found"})
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "rental already claimed"})
	case errors.Is(err, escrow.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "caller is not the lender"})
	case errors.Is(err, escrow.ErrNotExpired):
		c.JSON(http.StatusConflict, gin.H{"error": "rental window still open"})
	case errors.Is(err, escrow.ErrTransferFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "asset transfer failed"})
	default:
		h.log.Error("settlement call failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
