// Package repotest provides an isolated in-memory database for tests.
package repotest

import (
	"testing"

	"github.com/example/mealdelivery/pkg/models"
	"github.com/example/mealdelivery/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB opens a migrated SQLite memory database private to t. A single
// connection keeps every query on the same memory database.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := repository.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func CreateUser(t testing.TB, db *gorm.DB, role models.Role) *models.User {
	t.Helper()
	id := uuid.NewString()
	user := &models.User{
		ID:    id,
		Name:  "User " + id[:8],
		Email: id[:8] + "@example.com",
		Phone: "+91-555-0100",
		Role:  role,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func CreateMeal(t testing.TB, db *gorm.DB, name string, price int64, inventoryID *string) *models.Meal {
	t.Helper()
	meal := &models.Meal{
		ID:              uuid.NewString(),
		Name:            name,
		Price:           decimal.NewFromInt(price),
		InventoryItemID: inventoryID,
	}
	if err := db.Create(meal).Error; err != nil {
		t.Fatalf("create meal: %v", err)
	}
	return meal
}

func CreateInventory(t testing.TB, db *gorm.DB, name string, stock float64) *models.InventoryItem {
	t.Helper()
	item := &models.InventoryItem{
		ID:           uuid.NewString(),
		Name:         name,
		Unit:         "portion",
		CurrentStock: stock,
	}
	if err := db.Create(item).Error; err != nil {
		t.Fatalf("create inventory item: %v", err)
	}
	return item
}

func Stock(t testing.TB, db *gorm.DB, id string) float64 {
	t.Helper()
	var item models.InventoryItem
	if err := db.Where("id = ?", id).First(&item).Error; err != nil {
		t.Fatalf("load inventory item: %v", err)
	}
	return item.CurrentStock
}
