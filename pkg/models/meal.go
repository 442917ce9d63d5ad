package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Meal is read at checkout to snapshot name and price. InventoryItemID, when
// set, pins the stock record consumed on delivery.
type Meal struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name            string          `gorm:"type:varchar(100);not null" json:"name"`
	Price           decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"price"`
	InventoryItemID *string         `gorm:"type:varchar(36)" json:"inventoryItemId,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func (Meal) TableName() string {
	return "meals"
}

type InventoryItem struct {
	ID           string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Unit         string    `gorm:"type:varchar(16)" json:"unit"`
	CurrentStock float64   `gorm:"not null" json:"currentStock"`
	ReorderLevel float64   `json:"reorderLevel"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (InventoryItem) TableName() string {
	return "inventory_items"
}
