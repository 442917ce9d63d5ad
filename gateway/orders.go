package gateway

import (
	"fmt"
	"net/http"

	"github.com/example/mealdelivery/pkg/order"
	"github.com/gin-gonic/gin"
)

type lineItemRequest struct {
	MealID   string `json:"mealId" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,gt=0"`
}

type createOrderRequest struct {
	Items []lineItemRequest `json:"items" binding:"required,min=1,dive"`
}

type updateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type listOrdersQuery struct {
	Status   string `form:"status"`
	UserID   string `form:"userId"`
	Page     int    `form:"page" binding:"min=0"`
	PageSize int    `form:"pageSize" binding:"min=0,max=200"`
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (g *Gateway) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	lines := make([]order.LineItem, len(req.Items))
	for i, item := range req.Items {
		lines[i] = order.LineItem{MealID: item.MealID, Quantity: item.Quantity}
	}

	o, err := g.orders.Create(c.Request.Context(), actorFrom(c).UserID, lines)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (g *Gateway) listOrders(c *gin.Context) {
	var q listOrdersQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}

	filter := order.OrderFilter{UserID: q.UserID, Page: q.Page, PageSize: q.PageSize}
	if q.Status != "" {
		status, err := order.ParseStatus(q.Status)
		if err != nil {
			g.writeError(c, err)
			return
		}
		filter.Status = status
	}

	orders, total, err := g.orders.List(c.Request.Context(), filter)
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "total": total})
}

func (g *Gateway) getOrder(c *gin.Context) {
	o, err := g.orders.Get(c.Request.Context(), c.Param("orderId"), actorFrom(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) updateOrderStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	status, err := order.ParseStatus(req.Status)
	if err != nil {
		g.writeError(c, err)
		return
	}

	o, err := g.orders.Transition(c.Request.Context(), c.Param("orderId"), status, actorFrom(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) cancelOrder(c *gin.Context) {
	o, err := g.orders.Cancel(c.Request.Context(), c.Param("orderId"), actorFrom(c))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (g *Gateway) deleteOrder(c *gin.Context) {
	if err := g.orders.Delete(c.Request.Context(), c.Param("orderId"), actorFrom(c)); err != nil {
		g.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (g *Gateway) orderHistory(c *gin.Context) {
	history, err := g.orders.History(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		g.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

func (g *Gateway) orderAudit(c *gin.Context) {
	entries, err := g.audit.Trail(c.Request.Context(), c.Param("orderId"), 50)
	if err != nil {
		g.writeError(c, fmt.Errorf("failed to read audit trail: %w", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
