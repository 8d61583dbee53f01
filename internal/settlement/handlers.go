package settlement

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for settlement operations. Batch
// creation and review are back-office actions; merchants get read access
// to their own batches.
type Handler struct {
	calculator *Calculator
}

// NewHandler creates a new settlement handler.
func NewHandler(calculator *Calculator) *Handler {
	return &Handler{calculator: calculator}
}

// RegisterRoutes sets up merchant-facing settlement routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/merchants/:id/settlements", h.ListMerchantBatches)
	r.GET("/settlements/:id", h.GetBatch)
}

// RegisterAdminRoutes sets up back-office settlement routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/settlements/run", h.RunPeriod)
	r.GET("/settlements/pending", h.ListPending)
	r.POST("/settlements/:id/approve", h.ApproveBatch)
	r.POST("/settlements/:id/reject", h.RejectBatch)
	r.POST("/settlements/:id/transfer", h.MarkTransferred)
}

type runRequest struct {
	MerchantID  string    `json:"merchantId"`
	PeriodStart time.Time `json:"periodStart" binding:"required"`
	PeriodEnd   time.Time `json:"periodEnd" binding:"required"`
}

// RunPeriod handles POST /v1/settlements/run. With a merchant id it
// batches that merchant alone, otherwise every merchant with settleable
// transactions.
func (h *Handler) RunPeriod(c *gin.Context) {
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	if req.MerchantID != "" {
		b, err := h.calculator.CreateBatch(c.Request.Context(), req.MerchantID, req.PeriodStart, req.PeriodEnd)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"batches": []*Batch{b}, "count": 1})
		return
	}

	batches, err := h.calculator.RunPeriod(c.Request.Context(), req.PeriodStart, req.PeriodEnd)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"batches": batches, "count": len(batches)})
}

// GetBatch handles GET /v1/settlements/:id
func (h *Handler) GetBatch(c *gin.Context) {
	b, err := h.calculator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": b})
}

// ListMerchantBatches handles GET /v1/merchants/:id/settlements
func (h *Handler) ListMerchantBatches(c *gin.Context) {
	batches, err := h.calculator.ListByMerchant(c.Request.Context(), c.Param("id"), h.limit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

// ListPending handles GET /v1/settlements/pending
func (h *Handler) ListPending(c *gin.Context) {
	batches, err := h.calculator.ListPending(c.Request.Context(), h.limit(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
}

// ApproveBatch handles POST /v1/settlements/:id/approve
func (h *Handler) ApproveBatch(c *gin.Context) {
	b, err := h.calculator.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": b})
}

type rejectRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// RejectBatch handles POST /v1/settlements/:id/reject
func (h *Handler) RejectBatch(c *gin.Context) {
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	b, err := h.calculator.Reject(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": b})
}

type transferRequest struct {
	TransferReference string `json:"transferReference" binding:"required"`
}

// MarkTransferred handles POST /v1/settlements/:id/transfer
func (h *Handler) MarkTransferred(c *gin.Context) {
	var req transferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}
	b, err := h.calculator.MarkTransferred(c.Request.Context(), c.Param("id"), req.TransferReference)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batch": b})
}

func (h *Handler) limit(c *gin.Context) int {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	return limit
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrBatchNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrInvalidStateTransition):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ErrNothingToSettle):
		status = http.StatusUnprocessableEntity
		code = "nothing_to_settle"
	case errors.Is(err, ErrInvalidPeriod):
		status = http.StatusBadRequest
		code = "invalid_period"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
