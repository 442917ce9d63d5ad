package order

import (
	"context"
	"time"

	"github.com/example/mealdelivery/pkg/models"
)

type OrderFilter struct {
	UserID   string
	Status   models.OrderStatus
	Page     int
	PageSize int
}

type OrderStore interface {
	FindByID(ctx context.Context, id string) (*models.Order, error)
	// Create persists the order together with its items.
	Create(ctx context.Context, order *models.Order) error
	// UpdateStatus writes status only if the stored version still equals
	// version, bumping it by one; otherwise it returns ErrConflict.
	UpdateStatus(ctx context.Context, id string, version int64, status models.OrderStatus, at time.Time) error
	Delete(ctx context.Context, id string) error
	FindMany(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error)
	AddStatusChange(ctx context.Context, change *models.OrderStatusChange) error
	StatusChanges(ctx context.Context, orderID string) ([]models.OrderStatusChange, error)
}

type MealStore interface {
	FindByID(ctx context.Context, id string) (*models.Meal, error)
}

type InventoryStore interface {
	FindByID(ctx context.Context, id string) (*models.InventoryItem, error)
	FindByName(ctx context.Context, name string) (*models.InventoryItem, error)
	DecrementStock(ctx context.Context, id string, amount float64) error
}

type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type EventOutbox interface {
	Enqueue(ctx context.Context, event *models.OutboxEvent) error
}

// Stores groups the collaborators bound to one connection or transaction.
type Stores struct {
	Orders    OrderStore
	Meals     MealStore
	Inventory InventoryStore
	Users     UserStore
	Outbox    EventOutbox
}

// UnitOfWork hands out stores; Do runs fn inside one transaction and rolls
// back if fn returns an error.
type UnitOfWork interface {
	Stores() Stores
	Do(ctx context.Context, fn func(s Stores) error) error
}

// Cache holds single orders by id. Get returns nil, nil on a miss. Set must
// not replace an entry that carries a higher Version.
type Cache interface {
	Get(ctx context.Context, id string) (*models.Order, error)
	Set(ctx context.Context, order *models.Order) error
	Invalidate(ctx context.Context, id string) error
}

type AuditEntry struct {
	Action  string
	OrderID string
	ActorID string
	Data    map[string]interface{}
}

type AuditLog interface {
	Record(ctx context.Context, entry AuditEntry) error
}

// Actor is the caller identity as forwarded by the gateway.
type Actor struct {
	UserID string
	Role   models.Role
}

func (a Actor) IsCustomer() bool {
	return a.Role == models.RoleCustomer
}

// CanView reports whether the actor may see or act on the order.
func (a Actor) CanView(o *models.Order) bool {
	return !a.IsCustomer() || o.UserID == a.UserID
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*models.Order, error) { return nil, nil }
func (noopCache) Set(context.Context, *models.Order) error           { return nil }
func (noopCache) Invalidate(context.Context, string) error           { return nil }

type noopAudit struct{}

func (noopAudit) Record(context.Context, AuditEntry) error { return nil }
