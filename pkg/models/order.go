package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "PENDING"
	OrderStatusConfirmed        OrderStatus = "CONFIRMED"
	OrderStatusPreparing        OrderStatus = "PREPARING"
	OrderStatusReadyForDelivery OrderStatus = "READY_FOR_DELIVERY"
	OrderStatusOutForDelivery   OrderStatus = "OUT_FOR_DELIVERY"
	OrderStatusDelivered        OrderStatus = "DELIVERED"
	OrderStatusCancelled        OrderStatus = "CANCELLED"
)

func (s OrderStatus) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Order is a customer checkout. Amount is fixed at creation from the item
// snapshots and Version is bumped on every status write.
type Order struct {
	ID            string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID        string          `gorm:"type:varchar(36);not null;index" json:"userId"`
	User          *User           `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Status        OrderStatus     `gorm:"type:varchar(32);not null;index" json:"status"`
	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null" json:"currency"`
	PaymentStatus PaymentStatus   `gorm:"type:varchar(16);not null" json:"paymentStatus"`
	CustomerName  string          `gorm:"type:varchar(100)" json:"customerName"`
	CustomerEmail string          `gorm:"type:varchar(100)" json:"customerEmail"`
	CustomerPhone string          `gorm:"type:varchar(20)" json:"customerPhone"`
	Version       int64           `gorm:"not null;default:1" json:"version"`
	Items         []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	DeletedAt     gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	OrderID         string          `gorm:"type:varchar(36);not null;index" json:"orderId"`
	Position        int             `gorm:"not null" json:"-"`
	MealID          string          `gorm:"type:varchar(36);not null" json:"mealId"`
	MealName        string          `gorm:"type:varchar(100);not null" json:"mealName"`
	InventoryItemID *string         `gorm:"type:varchar(36)" json:"inventoryItemId,omitempty"`
	Quantity        int             `gorm:"not null" json:"quantity"`
	UnitPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unitPrice"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// Subtotal is UnitPrice times Quantity.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderStatusChange records one applied status write. FromStatus is empty
// for the row written at creation.
type OrderStatusChange struct {
	ID         uint        `gorm:"primaryKey" json:"id"`
	OrderID    string      `gorm:"type:varchar(36);not null;index" json:"orderId"`
	FromStatus OrderStatus `gorm:"type:varchar(32)" json:"fromStatus,omitempty"`
	ToStatus   OrderStatus `gorm:"type:varchar(32);not null" json:"toStatus"`
	ChangedBy  string      `gorm:"type:varchar(36)" json:"changedBy"`
	CreatedAt  time.Time   `json:"createdAt"`
}

func (OrderStatusChange) TableName() string {
	return "order_status_changes"
}
