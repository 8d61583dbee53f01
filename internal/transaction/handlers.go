package transaction

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bariqhq/bariq/internal/ledger"
	"github.com/bariqhq/bariq/internal/pagination"
	"github.com/bariqhq/bariq/internal/validation"
)

// Handler provides HTTP endpoints for transaction operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new transaction handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up transaction routes. Identity comes from the
// X-Merchant-ID / X-Customer-ID headers set by the caller's gateway.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/transactions", h.CreateTransaction)
	r.GET("/transactions/:id", h.GetTransaction)
	r.POST("/transactions/:id/confirm", h.ConfirmTransaction)
	r.POST("/transactions/:id/reject", h.RejectTransaction)
	r.POST("/transactions/:id/cancel", h.CancelTransaction)
	r.POST("/transactions/:id/return", h.ReturnTransaction)
	r.GET("/customers/:id/transactions", h.ListCustomerTransactions)
	r.GET("/merchants/:id/transactions", h.ListMerchantTransactions)
}

// CreateTransaction handles POST /v1/transactions
func (h *Handler) CreateTransaction(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	merchantID := c.GetHeader("X-Merchant-ID")
	if merchantID != "" {
		req.MerchantID = merchantID
	}
	if req.MerchantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "merchant identity required",
		})
		return
	}
	if !validation.IsValidID(req.CustomerID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid customer id",
		})
		return
	}

	t, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"transaction": t})
}

// GetTransaction handles GET /v1/transactions/:id
func (h *Handler) GetTransaction(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ConfirmTransaction handles POST /v1/transactions/:id/confirm
func (h *Handler) ConfirmTransaction(c *gin.Context) {
	t, err := h.service.Confirm(c.Request.Context(), c.Param("id"), c.GetHeader("X-Customer-ID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// RejectTransaction handles POST /v1/transactions/:id/reject
func (h *Handler) RejectTransaction(c *gin.Context) {
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	t, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetHeader("X-Customer-ID"), reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// CancelTransaction handles POST /v1/transactions/:id/cancel
func (h *Handler) CancelTransaction(c *gin.Context) {
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	t, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetHeader("X-Merchant-ID"), reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ReturnTransaction handles POST /v1/transactions/:id/return
func (h *Handler) ReturnTransaction(c *gin.Context) {
	reason, ok := h.bindReason(c)
	if !ok {
		return
	}
	t, err := h.service.ProcessReturn(c.Request.Context(), c.Param("id"), c.GetHeader("X-Merchant-ID"), reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transaction": t})
}

// ListCustomerTransactions handles GET /v1/customers/:id/transactions
func (h *Handler) ListCustomerTransactions(c *gin.Context) {
	h.list(c, func(f ListFilter) ([]*Transaction, string, error) {
		return h.service.ListByCustomer(c.Request.Context(), c.Param("id"), f)
	})
}

// ListMerchantTransactions handles GET /v1/merchants/:id/transactions
func (h *Handler) ListMerchantTransactions(c *gin.Context) {
	h.list(c, func(f ListFilter) ([]*Transaction, string, error) {
		return h.service.ListByMerchant(c.Request.Context(), c.Param("id"), f)
	})
}

func (h *Handler) list(c *gin.Context, fetch func(ListFilter) ([]*Transaction, string, error)) {
	f := ListFilter{
		State:  State(c.Query("state")),
		Cursor: c.Query("cursor"),
		Limit:  50,
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			f.Limit = parsed
		}
	}

	items, next, err := fetch(f)
	if err != nil {
		h.writeError(c, err)
		return
	}
	resp := gin.H{
		"transactions": items,
		"count":        len(items),
	}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) bindReason(c *gin.Context) (string, bool) {
	var req ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return "", false
	}
	return req.Reason, true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrPrincipalOutOfRange):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, pagination.ErrInvalidCursor):
		status = http.StatusBadRequest
		code = "invalid_cursor"
	case errors.Is(err, ErrExceedsAmountDue):
		status = http.StatusUnprocessableEntity
		code = "exceeds_amount_due"
	case errors.Is(err, ErrUnauthorized):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ledger.ErrInsufficientCredit):
		status = http.StatusUnprocessableEntity
		code = "insufficient_credit"
	case errors.Is(err, ledger.ErrCustomerNotFound):
		status = http.StatusNotFound
		code = "customer_not_found"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
