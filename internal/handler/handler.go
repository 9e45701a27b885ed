package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Heurr/pps-sub000/internal/dto"
	"github.com/Heurr/pps-sub000/internal/service"
)

const healthTimeout = 2 * time.Second

// HealthCheck is a named dependency probed by GET /health
type HealthCheck struct {
	Name string
	Ping func(ctx context.Context) error
}

type Handler struct {
	priceService service.PriceServicer
	checks       []HealthCheck
	router       *gin.Engine
	log          *zap.Logger
}

func NewHandler(priceService service.PriceServicer, log *zap.Logger, checks ...HealthCheck) *Handler {
	h := &Handler{
		priceService: priceService,
		checks:       checks,
		router:       gin.Default(),
		log:          log,
	}

	h.registerRoutes()

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.router.GET("/health", h.healthCheck)
	h.router.GET("/products/:productId/prices", h.getProductPrices)
	h.router.GET("/products/:productId/history", h.getPriceHistory)
}

// healthCheck handles health check requests
// @Summary Health check
// @Description Check if the service and its stores are reachable
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Router /health [get]
func (h *Handler) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	status := gin.H{"status": "ok"}
	code := http.StatusOK
	for _, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			h.log.Warn("Health check failed", zap.String("dependency", check.Name), zap.Error(err))
			status[check.Name] = "unavailable"
			status["status"] = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		status[check.Name] = "ok"
	}

	c.JSON(code, status)
}

// getProductPrices handles GET /products/:productId/prices
// @Summary Get current product prices
// @Description Retrieve today's min and max price of every price type of a product
// @Tags prices
// @Produce json
// @Param productId path string true "Product ID" example:"prod-789"
// @Success 200 {object} dto.ProductPricesResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /products/{productId}/prices [get]
func (h *Handler) getProductPrices(c *gin.Context) {
	productID := c.Param("productId")

	response, err := h.priceService.GetProductPrices(c.Request.Context(), productID)
	if err != nil {
		h.log.Error("Failed to get product prices",
			zap.Error(err),
			zap.String("product_id", productID))
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, response)
}

// getPriceHistory handles GET /products/:productId/history
// @Summary Get product price history
// @Description Retrieve the published prices of a product within the retention window
// @Tags prices
// @Produce json
// @Param productId path string true "Product ID" example:"prod-789"
// @Param from query int true "Start timestamp (Unix epoch)" example:"1723475612"
// @Param to query int true "End timestamp (Unix epoch)" example:"1723562012"
// @Success 200 {object} dto.PriceHistoryResponse
// @Failure 400 {object} dto.ErrorResponse
// @Failure 503 {object} dto.ErrorResponse
// @Failure 500 {object} dto.ErrorResponse
// @Router /products/{productId}/history [get]
func (h *Handler) getPriceHistory(c *gin.Context) {
	req := dto.GetPriceHistoryRequest{ProductID: c.Param("productId")}

	if err := c.ShouldBindQuery(&req); err != nil {
		h.invalidRequest(c, err)
		return
	}

	response, err := h.priceService.GetPriceHistory(c.Request.Context(), &req)
	if err != nil {
		h.log.Error("Failed to get price history",
			zap.Error(err),
			zap.String("product_id", req.ProductID),
			zap.Int64("from", req.From),
			zap.Int64("to", req.To))
		h.writeError(c, err)
		return
	}

	h.log.Info("Price history retrieved",
		zap.String("product_id", req.ProductID),
		zap.Int("entry_count", len(response.History)))

	c.JSON(http.StatusOK, response)
}

func (h *Handler) invalidRequest(c *gin.Context, err error) {
	h.log.Warn("Invalid price history request", zap.Error(err))
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{
		Error:   "validation_error",
		Message: err.Error(),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "validation_error",
			Message: err.Error(),
		})
	case errors.Is(err, service.ErrHistoryDisabled):
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "unavailable",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}
