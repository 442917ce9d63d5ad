package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/models"
	"github.com/example/mealdelivery/pkg/order"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open connects to the configured relational database.
func Open(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.User{},
		&models.Meal{},
		&models.InventoryItem{},
		&models.Order{},
		&models.OrderItem{},
		&models.OrderStatusChange{},
		&models.OutboxEvent{},
	); err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// GormRepository is the relational unit of work behind the order manager.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Stores() order.Stores {
	return storesFor(r.db)
}

func (r *GormRepository) Do(ctx context.Context, fn func(s order.Stores) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(storesFor(tx))
	})
}

// Outbox returns the outbox store on the base connection, for the relay.
func (r *GormRepository) Outbox() *OutboxStore {
	return &OutboxStore{db: r.db}
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func storesFor(db *gorm.DB) order.Stores {
	return order.Stores{
		Orders:    &OrderStore{db: db},
		Meals:     &MealStore{db: db},
		Inventory: &InventoryStore{db: db},
		Users:     &UserStore{db: db},
		Outbox:    &OutboxStore{db: db},
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return order.ErrNotFound
	}
	return err
}

func orderedItems(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

type OrderStore struct {
	db *gorm.DB
}

func (s *OrderStore) FindByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	err := s.db.WithContext(ctx).
		Preload("Items", orderedItems).
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

func (s *OrderStore) Create(ctx context.Context, o *models.Order) error {
	return s.db.WithContext(ctx).Create(o).Error
}

func (s *OrderStore) UpdateStatus(ctx context.Context, id string, version int64, status models.OrderStatus, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND version = ?", id, version).
		Updates(map[string]interface{}{
			"status":     status,
			"version":    gorm.Expr("version + 1"),
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return order.ErrConflict
	}
	return nil
}

func (s *OrderStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&models.Order{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return order.ErrNotFound
	}
	return nil
}

func (s *OrderStore) FindMany(ctx context.Context, filter order.OrderFilter) ([]models.Order, int64, error) {
	query := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.Order{})
		if filter.UserID != "" {
			q = q.Where("user_id = ?", filter.UserID)
		}
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		return q
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	q := query().
		Preload("Items", orderedItems).
		Preload("User").
		Order("created_at DESC")
	if filter.PageSize > 0 {
		q = q.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}

	var orders []models.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

func (s *OrderStore) AddStatusChange(ctx context.Context, change *models.OrderStatusChange) error {
	return s.db.WithContext(ctx).Create(change).Error
}

func (s *OrderStore) StatusChanges(ctx context.Context, orderID string) ([]models.OrderStatusChange, error) {
	var changes []models.OrderStatusChange
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&changes).Error
	return changes, err
}

type MealStore struct {
	db *gorm.DB
}

func (s *MealStore) FindByID(ctx context.Context, id string) (*models.Meal, error) {
	var meal models.Meal
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&meal).Error; err != nil {
		return nil, translate(err)
	}
	return &meal, nil
}

type UserStore struct {
	db *gorm.DB
}

func (s *UserStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

type InventoryStore struct {
	db *gorm.DB
}

func (s *InventoryStore) FindByID(ctx context.Context, id string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (s *InventoryStore) FindByName(ctx context.Context, name string) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

// DecrementStock subtracts amount in a single UPDATE so concurrent
// deliveries never overwrite each other.
func (s *InventoryStore) DecrementStock(ctx context.Context, id string, amount float64) error {
	res := s.db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"current_stock": gorm.Expr("current_stock - ?", amount),
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return order.ErrNotFound
	}
	return nil
}

type OutboxStore struct {
	db *gorm.DB
}

func (s *OutboxStore) Enqueue(ctx context.Context, event *models.OutboxEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// Pending returns unpublished events in the order they were written.
func (s *OutboxStore) Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var events []models.OutboxEvent
	err := s.db.WithContext(ctx).
		Where("published_at IS NULL").
		Order("seq ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (s *OutboxStore) MarkPublished(ctx context.Context, id string, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"published_at": at,
			"attempts":     gorm.Expr("attempts + 1"),
		}).Error
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id string, reason string) error {
	return s.db.WithContext(ctx).
		Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_error": reason,
			"attempts":   gorm.Expr("attempts + 1"),
		}).Error
}
