package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/mealdelivery/pkg/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/example/mealdelivery/pkg/order"

// LineItem is one requested line of a checkout.
type LineItem struct {
	MealID   string
	Quantity int
}

// Manager owns the order lifecycle: checkout, status transitions and the
// inventory consumed when an order is delivered.
type Manager struct {
	uow      UnitOfWork
	cache    Cache
	audit    AuditLog
	logger   *zap.Logger
	tracer   trace.Tracer
	currency string
	now      func() time.Time
}

type Option func(*Manager)

func WithCache(c Cache) Option {
	return func(m *Manager) { m.cache = c }
}

func WithAuditLog(a AuditLog) Option {
	return func(m *Manager) { m.audit = a }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func WithCurrency(currency string) Option {
	return func(m *Manager) { m.currency = currency }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(uow UnitOfWork, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		uow:      uow,
		cache:    noopCache{},
		audit:    noopAudit{},
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		currency: "INR",
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create prices the requested lines from the current meal records and stores
// the order, its items, the first history row and an order.created event in
// one transaction.
func (m *Manager) Create(ctx context.Context, userID string, lines []LineItem) (*models.Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.create", trace.WithAttributes(
		attribute.String("user.id", userID),
		attribute.Int("order.lines", len(lines)),
	))
	defer span.End()

	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: order must contain at least one item", ErrValidation)
	}
	for i, line := range lines {
		if line.MealID == "" {
			return nil, fmt.Errorf("%w: item %d has no meal id", ErrValidation, i)
		}
		if line.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d quantity must be positive", ErrValidation, i)
		}
	}

	now := m.now()
	order := &models.Order{
		ID:            uuid.NewString(),
		UserID:        userID,
		Status:        models.OrderStatusPending,
		Currency:      m.currency,
		PaymentStatus: models.PaymentStatusPending,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err := m.uow.Do(ctx, func(s Stores) error {
		user, err := s.Users.FindByID(ctx, userID)
		if err != nil {
			return lookupError("user", userID, err)
		}
		order.CustomerName = user.Name
		order.CustomerEmail = user.Email
		order.CustomerPhone = user.Phone

		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(lines))
		for i, line := range lines {
			meal, err := s.Meals.FindByID(ctx, line.MealID)
			if err != nil {
				return lookupError("meal", line.MealID, err)
			}
			item := models.OrderItem{
				ID:              uuid.NewString(),
				OrderID:         order.ID,
				Position:        i,
				MealID:          meal.ID,
				MealName:        meal.Name,
				InventoryItemID: meal.InventoryItemID,
				Quantity:        line.Quantity,
				UnitPrice:       meal.Price,
			}
			total = total.Add(item.Subtotal())
			items = append(items, item)
		}
		order.Items = items
		order.Amount = total

		if err := s.Orders.Create(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		if err := s.Orders.AddStatusChange(ctx, &models.OrderStatusChange{
			OrderID:   order.ID,
			ToStatus:  order.Status,
			ChangedBy: userID,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}
		return m.enqueue(ctx, s, EventOrderCreated, order, "")
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("order.id", order.ID))
	m.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("user_id", userID),
		zap.String("amount", order.Amount.String()))
	m.recordAudit(AuditEntry{
		Action:  "create_order",
		OrderID: order.ID,
		ActorID: userID,
		Data:    map[string]interface{}{"amount": order.Amount.String(), "items": len(order.Items)},
	})

	return order, nil
}

// Transition moves the order to status to if the lifecycle allows it.
// Delivering an order also consumes inventory in the same transaction.
func (m *Manager) Transition(ctx context.Context, orderID string, to models.OrderStatus, actor Actor) (*models.Order, error) {
	if !IsKnownStatus(to) {
		return nil, fmt.Errorf("%w: unknown order status %q", ErrValidation, to)
	}
	return m.apply(ctx, "order.transition", orderID, to, actor, nil)
}

// Cancel cancels a pending or confirmed order. Customers may only cancel
// their own orders.
func (m *Manager) Cancel(ctx context.Context, orderID string, actor Actor) (*models.Order, error) {
	return m.apply(ctx, "order.cancel", orderID, models.OrderStatusCancelled, actor, func(o *models.Order) error {
		if !actor.CanView(o) {
			return fmt.Errorf("%w: order belongs to another user", ErrForbidden)
		}
		if !Cancellable(o.Status) {
			return fmt.Errorf("order %s cannot be cancelled in status %s: %w", o.ID, o.Status, ErrInvalidTransition)
		}
		return nil
	})
}

func (m *Manager) apply(ctx context.Context, spanName, orderID string, to models.OrderStatus, actor Actor, guard func(*models.Order) error) (*models.Order, error) {
	ctx, span := m.tracer.Start(ctx, spanName, trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.status.to", to.String()),
	))
	defer span.End()

	var (
		updated *models.Order
		from    models.OrderStatus
	)
	err := m.uow.Do(ctx, func(s Stores) error {
		o, err := s.Orders.FindByID(ctx, orderID)
		if err != nil {
			return lookupError("order", orderID, err)
		}
		if guard != nil {
			if err := guard(o); err != nil {
				return err
			}
		}
		if !CanTransition(o.Status, to) {
			return fmt.Errorf("order %s cannot move from %s to %s: %w", o.ID, o.Status, to, ErrInvalidTransition)
		}

		now := m.now()
		if err := s.Orders.UpdateStatus(ctx, o.ID, o.Version, to, now); err != nil {
			if errors.Is(err, ErrConflict) {
				return fmt.Errorf("order %s was modified concurrently: %w", o.ID, ErrConflict)
			}
			return fmt.Errorf("failed to update order status: %w", err)
		}
		from = o.Status
		o.Status = to
		o.Version++
		o.UpdatedAt = now

		if err := s.Orders.AddStatusChange(ctx, &models.OrderStatusChange{
			OrderID:    o.ID,
			FromStatus: from,
			ToStatus:   to,
			ChangedBy:  actor.UserID,
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("failed to record status change: %w", err)
		}

		if to == models.OrderStatusDelivered {
			if err := m.consumeInventory(ctx, s, o); err != nil {
				return err
			}
		}

		if err := m.enqueue(ctx, s, EventOrderStatusChanged, o, from); err != nil {
			return err
		}
		if to == models.OrderStatusDelivered {
			if err := m.enqueue(ctx, s, EventOrderDelivered, o, from); err != nil {
				return err
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transition failed")
		return nil, err
	}

	// Write the committed version through so a reader that loaded the
	// previous version cannot put it back.
	if err := m.cache.Set(ctx, updated); err != nil {
		m.logger.Warn("Failed to cache updated order", zap.String("order_id", orderID), zap.Error(err))
		if err := m.cache.Invalidate(ctx, orderID); err != nil {
			m.logger.Warn("Failed to invalidate order cache", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	m.logger.Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.String("actor_id", actor.UserID))
	m.recordAudit(AuditEntry{
		Action:  "update_order_status",
		OrderID: orderID,
		ActorID: actor.UserID,
		Data:    map[string]interface{}{"from": from.String(), "to": to.String()},
	})

	return updated, nil
}

// consumeInventory decrements stock for every item of a delivered order. An
// item with no matching inventory record is skipped.
func (m *Manager) consumeInventory(ctx context.Context, s Stores, o *models.Order) error {
	for _, item := range o.Items {
		inv, err := m.resolveInventory(ctx, s, item)
		if errors.Is(err, ErrNotFound) {
			m.logger.Debug("No inventory record for meal, skipping decrement",
				zap.String("order_id", o.ID),
				zap.String("meal_name", item.MealName))
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to resolve inventory for %s: %w", item.MealName, err)
		}
		if err := s.Inventory.DecrementStock(ctx, inv.ID, float64(item.Quantity)); err != nil {
			return fmt.Errorf("failed to decrement stock for %s: %w", inv.Name, err)
		}
	}
	return nil
}

// resolveInventory prefers the inventory id pinned at checkout and falls back
// to matching by meal name.
func (m *Manager) resolveInventory(ctx context.Context, s Stores, item models.OrderItem) (*models.InventoryItem, error) {
	if item.InventoryItemID != nil && *item.InventoryItemID != "" {
		inv, err := s.Inventory.FindByID(ctx, *item.InventoryItemID)
		if err == nil {
			return inv, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	return s.Inventory.FindByName(ctx, item.MealName)
}

// Get returns an order, served from the cache when possible.
func (m *Manager) Get(ctx context.Context, orderID string, actor Actor) (*models.Order, error) {
	o, err := m.cache.Get(ctx, orderID)
	if err != nil {
		m.logger.Warn("Order cache read failed", zap.String("order_id", orderID), zap.Error(err))
		o = nil
	}
	if o == nil {
		o, err = m.uow.Stores().Orders.FindByID(ctx, orderID)
		if err != nil {
			return nil, lookupError("order", orderID, err)
		}
		if err := m.cache.Set(ctx, o); err != nil {
			m.logger.Warn("Failed to cache order", zap.String("order_id", orderID), zap.Error(err))
		}
	}

	if !actor.CanView(o) {
		return nil, fmt.Errorf("%w: order belongs to another user", ErrForbidden)
	}
	return o, nil
}

func (m *Manager) List(ctx context.Context, filter OrderFilter) ([]models.Order, int64, error) {
	if filter.Status != "" && !IsKnownStatus(filter.Status) {
		return nil, 0, fmt.Errorf("%w: unknown order status %q", ErrValidation, filter.Status)
	}
	if filter.PageSize < 0 || filter.Page < 0 {
		return nil, 0, fmt.Errorf("%w: page and pageSize must not be negative", ErrValidation)
	}
	if filter.PageSize > 0 && filter.Page == 0 {
		filter.Page = 1
	}

	orders, total, err := m.uow.Stores().Orders.FindMany(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, total, nil
}

// Delete soft-deletes an order. It is an administrative operation.
func (m *Manager) Delete(ctx context.Context, orderID string, actor Actor) error {
	if err := m.uow.Stores().Orders.Delete(ctx, orderID); err != nil {
		return lookupError("order", orderID, err)
	}
	if err := m.cache.Invalidate(ctx, orderID); err != nil {
		m.logger.Warn("Failed to invalidate order cache", zap.String("order_id", orderID), zap.Error(err))
	}

	m.logger.Info("Order deleted", zap.String("order_id", orderID), zap.String("actor_id", actor.UserID))
	m.recordAudit(AuditEntry{Action: "delete_order", OrderID: orderID, ActorID: actor.UserID})
	return nil
}

// History returns the status changes of an order, oldest first.
func (m *Manager) History(ctx context.Context, orderID string) ([]models.OrderStatusChange, error) {
	stores := m.uow.Stores()
	if _, err := stores.Orders.FindByID(ctx, orderID); err != nil {
		return nil, lookupError("order", orderID, err)
	}
	changes, err := stores.Orders.StatusChanges(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load status history: %w", err)
	}
	return changes, nil
}

func (m *Manager) enqueue(ctx context.Context, s Stores, eventType string, o *models.Order, from models.OrderStatus) error {
	now := m.now()
	payload, err := json.Marshal(newEvent(eventType, o, from, now))
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", eventType, err)
	}
	traceContext, err := encodeTraceContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to encode trace context: %w", err)
	}
	if err := s.Outbox.Enqueue(ctx, &models.OutboxEvent{
		ID:           uuid.NewString(),
		AggregateID:  o.ID,
		Type:         eventType,
		Payload:      string(payload),
		TraceContext: traceContext,
		CreatedAt:    now,
	}); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", eventType, err)
	}
	return nil
}

// encodeTraceContext captures the propagation fields of ctx so the relay can
// attach them when the event is published later.
func encodeTraceContext(ctx context.Context) (string, error) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return "", nil
	}
	data, err := json.Marshal(carrier)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (m *Manager) recordAudit(entry AuditEntry) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.audit.Record(ctx, entry); err != nil {
			m.logger.Warn("Failed to write audit log",
				zap.String("action", entry.Action),
				zap.String("order_id", entry.OrderID),
				zap.Error(err))
		}
	}()
}
