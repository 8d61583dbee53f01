package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for credit profile management. Profile
// creation and limit changes are back-office actions.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new credit handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up read-only credit routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/customers/:id/credit", h.GetProfile)
	r.GET("/customers/:id/credit/history", h.GetHistory)
}

// RegisterAdminRoutes sets up back-office credit routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/customers/:id/credit", h.CreateProfile)
	r.PUT("/customers/:id/credit/limit", h.SetLimit)
}

type limitRequest struct {
	CreditLimit string `json:"creditLimit" binding:"required"`
}

// CreateProfile handles POST /v1/customers/:id/credit
func (h *Handler) CreateProfile(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	profile, err := h.ledger.CreateProfile(c.Request.Context(), c.Param("id"), req.CreditLimit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"profile": profileView(profile)})
}

// GetProfile handles GET /v1/customers/:id/credit
func (h *Handler) GetProfile(c *gin.Context) {
	profile, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profileView(profile)})
}

// SetLimit handles PUT /v1/customers/:id/credit/limit
func (h *Handler) SetLimit(c *gin.Context) {
	var req limitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	profile, err := h.ledger.SetLimit(c.Request.Context(), c.Param("id"), req.CreditLimit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profileView(profile)})
}

// GetHistory handles GET /v1/customers/:id/credit/history
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}

	entries, err := h.ledger.History(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// profileView adds the derived available credit to the wire shape.
func profileView(p *Profile) gin.H {
	return gin.H{
		"customerId":      p.CustomerID,
		"creditLimit":     p.CreditLimit,
		"usedCredit":      p.UsedCredit,
		"availableCredit": p.AvailableCredit(),
		"createdAt":       p.CreatedAt,
		"updatedAt":       p.UpdatedAt,
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrCustomerNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrCustomerExists):
		status = http.StatusConflict
		code = "already_exists"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrLimitBelowUsed):
		status = http.StatusUnprocessableEntity
		code = "limit_below_used"
	case errors.Is(err, ErrInsufficientCredit):
		status = http.StatusUnprocessableEntity
		code = "insufficient_credit"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
