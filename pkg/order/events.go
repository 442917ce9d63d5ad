package order

import (
	"time"

	"github.com/example/mealdelivery/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderDelivered     = "order.delivered"
)

// Event is the JSON payload stored in the outbox.
type Event struct {
	Type       string             `json:"type"`
	OrderID    string             `json:"orderId"`
	UserID     string             `json:"userId"`
	FromStatus models.OrderStatus `json:"fromStatus,omitempty"`
	Status     models.OrderStatus `json:"status"`
	Amount     decimal.Decimal    `json:"amount"`
	Currency   string             `json:"currency"`
	Items      []EventItem        `json:"items,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

type EventItem struct {
	MealID          string  `json:"mealId"`
	MealName        string  `json:"mealName"`
	InventoryItemID *string `json:"inventoryItemId,omitempty"`
	Quantity        int     `json:"quantity"`
}

func newEvent(eventType string, o *models.Order, from models.OrderStatus, at time.Time) Event {
	items := make([]EventItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, EventItem{
			MealID:          item.MealID,
			MealName:        item.MealName,
			InventoryItemID: item.InventoryItemID,
			Quantity:        item.Quantity,
		})
	}
	return Event{
		Type:       eventType,
		OrderID:    o.ID,
		UserID:     o.UserID,
		FromStatus: from,
		Status:     o.Status,
		Amount:     o.Amount,
		Currency:   o.Currency,
		Items:      items,
		OccurredAt: at,
	}
}
