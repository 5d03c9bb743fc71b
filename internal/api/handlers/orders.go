package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/orderflow/backend/internal/api/middleware"
	"github.com/orderflow/backend/internal/db"
	"github.com/orderflow/backend/internal/orders"
)

// CreateOrderRequest omits customerEmail to order for the signed-in user.
// Only operators may order for another address.
type CreateOrderRequest struct {
	CustomerEmail string `json:"customerEmail"`
	ProductName   string `json:"productName" binding:"required"`
}

type OrderResponse struct {
	Order      *db.Order       `json:"order"`
	AIRequests []*db.AIRequest `json:"ai_requests"`
}

type OrderHandler struct {
	service *orders.Service
	authMW  *middleware.AuthMiddleware
	logger  *slog.Logger
}

func NewOrderHandler(service *orders.Service, authMW *middleware.AuthMiddleware, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{service: service, authMW: authMW, logger: logger}
}

// canAccess reports whether the signed-in user may act for customerEmail.
func (h *OrderHandler) canAccess(c *gin.Context, customerEmail string) bool {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		return false
	}
	return strings.EqualFold(claims.Email, strings.TrimSpace(customerEmail)) || h.authMW.IsOperator(claims)
}

func (h *OrderHandler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "productName is required"})
		return
	}

	if req.CustomerEmail == "" {
		if claims, ok := middleware.ClaimsFromContext(c); ok {
			req.CustomerEmail = claims.Email
		}
	} else if !h.canAccess(c, req.CustomerEmail) {
		c.JSON(http.StatusForbidden, gin.H{"error": "cannot order for another customer"})
		return
	}

	result, err := h.service.Create(c.Request.Context(), req.CustomerEmail, req.ProductName)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidOrder) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("failed to create order", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	c.JSON(http.StatusOK, result)
}

func (h *OrderHandler) GetOrder(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	order, err := h.service.Get(ctx, id)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		h.logger.Error("failed to get order", slog.String("order_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get order"})
		return
	}
	// Other customers' orders look missing.
	if !h.canAccess(c, order.CustomerEmail) {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}

	requests, err := h.service.AIRequests(ctx, id)
	if err != nil {
		h.logger.Error("failed to list ai requests", slog.String("order_id", id), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get order"})
		return
	}
	if requests == nil {
		requests = []*db.AIRequest{}
	}

	c.JSON(http.StatusOK, OrderResponse{Order: order, AIRequests: requests})
}
