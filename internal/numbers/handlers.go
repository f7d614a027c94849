package numbers

import (
	"errors"
	"net/http"

	"voicefront/internal/auth"
	"voicefront/internal/store"
	"voicefront/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handler exposes the number lifecycle under /v1/numbers. All routes sit
// behind the access-token middleware; identity comes from request context.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/numbers")
	g.POST("/purchase", h.Purchase)
	g.GET("", h.List)
	g.DELETE("/:id", h.Delete)
	g.PATCH("/:id/config", h.SyncCallbacks)
}

type purchaseRequest struct {
	Country  string `json:"country"`
	AreaCode string `json:"area_code"`
	Label    string `json:"label"`
}

func (h *Handler) Purchase(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var req purchaseRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
			return
		}
	}

	num, err := h.svc.Allocate(c.Request.Context(), userID, req.Country, req.AreaCode, req.Label)
	switch {
	case errors.Is(err, ErrAlreadyAllocated):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "a number is already allocated"})
		return
	case errors.Is(err, ErrNoNumbersAvailable):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "no numbers available"})
		return
	case err != nil:
		logger.FromGin(c).Error("number purchase failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "purchase failed"})
		return
	}
	c.JSON(http.StatusCreated, num)
}

func (h *Handler) List(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	nums, err := h.svc.List(c.Request.Context(), userID)
	if err != nil {
		logger.FromGin(c).Error("number list failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "list failed"})
		return
	}
	if nums == nil {
		nums = []store.PhoneNumber{}
	}
	c.JSON(http.StatusOK, gin.H{"numbers": nums})
}

func (h *Handler) Delete(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err = h.svc.Release(c.Request.Context(), userID, c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrNotOwned):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "number not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("number release failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "release failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (h *Handler) SyncCallbacks(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	err = h.svc.SyncCallbacks(c.Request.Context(), userID, c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrNotOwned):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "number not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("callback sync failed", "user_id", userID, "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
