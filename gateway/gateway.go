package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/models"
	"github.com/example/mealdelivery/pkg/order"
	"github.com/example/mealdelivery/pkg/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// OrderService is the order lifecycle as used by the HTTP layer.
type OrderService interface {
	Create(ctx context.Context, userID string, lines []order.LineItem) (*models.Order, error)
	Get(ctx context.Context, orderID string, actor order.Actor) (*models.Order, error)
	List(ctx context.Context, filter order.OrderFilter) ([]models.Order, int64, error)
	Transition(ctx context.Context, orderID string, to models.OrderStatus, actor order.Actor) (*models.Order, error)
	Cancel(ctx context.Context, orderID string, actor order.Actor) (*models.Order, error)
	Delete(ctx context.Context, orderID string, actor order.Actor) error
	History(ctx context.Context, orderID string) ([]models.OrderStatusChange, error)
}

// AuditReader serves the audit trail of an order. It is optional.
type AuditReader interface {
	Trail(ctx context.Context, orderID string, limit int64) ([]*repository.AuditLog, error)
}

type Gateway struct {
	config *config.ServerConfig
	logger *zap.Logger
	router *gin.Engine
	orders OrderService
	audit  AuditReader
	server *http.Server
}

func NewGateway(cfg *config.ServerConfig, logger *zap.Logger, orders OrderService, audit AuditReader) *Gateway {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(loggerMiddleware(logger))

	return &Gateway{
		config: cfg,
		logger: logger,
		router: router,
		orders: orders,
		audit:  audit,
	}
}

func (g *Gateway) SetupRoutes() {
	g.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := g.router.Group("/api/v1")
	{
		orders := v1.Group("/orders", identity())
		{
			orders.POST("", requireRole(models.RoleCustomer), g.createOrder)
			orders.GET("", requireRole(models.RoleAdmin), g.listOrders)
			orders.GET("/:orderId", requireRole(models.RoleAdmin, models.RoleCustomer), g.getOrder)
			orders.PATCH("/:orderId/status", requireRole(models.RoleAdmin), g.updateOrderStatus)
			orders.POST("/:orderId/cancel", requireRole(models.RoleAdmin, models.RoleCustomer), g.cancelOrder)
			orders.DELETE("/:orderId", requireRole(models.RoleAdmin), g.deleteOrder)
			orders.GET("/:orderId/history", requireRole(models.RoleAdmin), g.orderHistory)
			if g.audit != nil {
				orders.GET("/:orderId/audit", requireRole(models.RoleAdmin), g.orderAudit)
			}
		}
	}
}

func (g *Gateway) Handler() http.Handler {
	return g.router
}

func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:              g.config.Addr(),
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.logger.Info("Gateway starting", zap.String("address", g.server.Addr))

	if err := g.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

// writeError maps lifecycle errors to status codes. Unexpected errors are
// logged and reported without detail.
func (g *Gateway) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrValidation), errors.Is(err, order.ErrInvalidTransition):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func loggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.String("user_id", c.GetHeader(headerUserID)),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
