package notify

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bariqhq/bariq/internal/idgen"
)

// Handler provides HTTP endpoints for webhook subscription management.
type Handler struct {
	store         Store
	defaultSecret string
}

// NewHandler creates a new subscription handler. defaultSecret, when
// non-empty, is used as the signing key for new subscriptions instead of
// a generated one.
func NewHandler(store Store, defaultSecret string) *Handler {
	return &Handler{store: store, defaultSecret: defaultSecret}
}

// RegisterRoutes sets up subscription routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/parties/:id/webhooks", h.CreateSubscription)
	r.GET("/parties/:id/webhooks", h.ListSubscriptions)
	r.DELETE("/parties/:id/webhooks/:webhookId", h.DeleteSubscription)
}

// CreateSubscriptionRequest registers a webhook URL.
type CreateSubscriptionRequest struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events"`
}

// CreateSubscription handles POST /v1/parties/:id/webhooks
func (h *Handler) CreateSubscription(c *gin.Context) {
	var req CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": err.Error(),
		})
		return
	}

	events := make([]EventType, len(req.Events))
	for i, e := range req.Events {
		events[i] = EventType(e)
	}

	// The secret is returned once, at creation.
	secret := h.defaultSecret
	if secret == "" {
		secret = idgen.Hex(32)
	}
	sub := &Subscription{
		ID:        idgen.WithPrefix("wh_"),
		PartyID:   c.Param("id"),
		URL:       req.URL,
		Secret:    secret,
		Events:    events,
		Active:    true,
		CreatedAt: time.Now(),
	}

	if err := h.store.Create(c.Request.Context(), sub); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "failed to create subscription",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"subscription": sub,
		"secret":       secret,
	})
}

// ListSubscriptions handles GET /v1/parties/:id/webhooks
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.store.GetByParty(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"subscriptions": subs,
		"count":         len(subs),
	})
}

// DeleteSubscription handles DELETE /v1/parties/:id/webhooks/:webhookId
func (h *Handler) DeleteSubscription(c *gin.Context) {
	sub, err := h.store.Get(c.Request.Context(), c.Param("webhookId"))
	if err == nil && sub.PartyID != c.Param("id") {
		err = ErrSubscriptionNotFound
	}
	if err == nil {
		err = h.store.Delete(c.Request.Context(), sub.ID)
	}
	if err != nil {
		if errors.Is(err, ErrSubscriptionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "subscription not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
