package payment

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/bariqhq/bariq/internal/gatewayadapter"
	"github.com/bariqhq/bariq/internal/transaction"
)

// Handler provides HTTP endpoints for payments.
type Handler struct {
	allocator *Allocator
}

// NewHandler creates a new payment handler.
func NewHandler(allocator *Allocator) *Handler {
	return &Handler{allocator: allocator}
}

// RegisterRoutes sets up payment routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/payments", h.Pay)
	r.GET("/customers/:id/payments", h.ListCustomerPayments)
	r.GET("/customers/:id/debt", h.GetDebtSummary)
	r.GET("/transactions/:id/payments", h.ListTransactionPayments)
}

// Pay handles POST /v1/payments
func (h *Handler) Pay(c *gin.Context) {
	customerID := c.GetHeader("X-Customer-ID")
	if customerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "customer identity required",
		})
		return
	}

	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	receipt, err := h.allocator.Pay(c.Request.Context(), customerID, req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"receipt": receipt})
}

// ListCustomerPayments handles GET /v1/customers/:id/payments
func (h *Handler) ListCustomerPayments(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	payments, err := h.allocator.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"count":    len(payments),
	})
}

// GetDebtSummary handles GET /v1/customers/:id/debt
func (h *Handler) GetDebtSummary(c *gin.Context) {
	summary, err := h.allocator.Summary(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"summary": summary})
}

// ListTransactionPayments handles GET /v1/transactions/:id/payments
func (h *Handler) ListTransactionPayments(c *gin.Context) {
	payments, err := h.allocator.TransactionHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"payments": payments,
		"count":    len(payments),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	var overpay *OverpaymentError
	if errors.As(err, &overpay) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":       "overpayment",
			"message":     err.Error(),
			"max_payable": overpay.MaxPayable,
		})
		return
	}

	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNoOutstandingDebt):
		status = http.StatusUnprocessableEntity
		code = "no_outstanding_debt"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrNotCustomerOwned):
		status = http.StatusForbidden
		code = "unauthorized"
	case errors.Is(err, ErrPaymentNotFound), errors.Is(err, transaction.ErrTransactionNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, transaction.ErrInvalidStateTransition):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, transaction.ErrExceedsAmountDue):
		status = http.StatusUnprocessableEntity
		code = "exceeds_amount_due"
	case errors.Is(err, gatewayadapter.ErrFundsNotConfirmed):
		status = http.StatusPaymentRequired
		code = "funds_not_confirmed"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
