package order_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/models"
	"github.com/example/mealdelivery/pkg/order"
	"github.com/example/mealdelivery/pkg/repository"
	"github.com/example/mealdelivery/pkg/repository/repotest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	db       *gorm.DB
	repo     *repository.GormRepository
	manager  *order.Manager
	customer *models.User
	admin    order.Actor
}

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()
	db := repotest.NewDB(t)
	repo := repository.NewGormRepository(db)
	adminUser := repotest.CreateUser(t, db, models.RoleAdmin)
	return &fixture{
		db:       db,
		repo:     repo,
		manager:  order.NewManager(repo, zaptest.NewLogger(t), opts...),
		customer: repotest.CreateUser(t, db, models.RoleCustomer),
		admin:    order.Actor{UserID: adminUser.ID, Role: models.RoleAdmin},
	}
}

func (f *fixture) customerActor() order.Actor {
	return order.Actor{UserID: f.customer.ID, Role: models.RoleCustomer}
}

func (f *fixture) placeOrder(t *testing.T, meal *models.Meal, quantity int) *models.Order {
	t.Helper()
	o, err := f.manager.Create(context.Background(), f.customer.ID, []order.LineItem{{MealID: meal.ID, Quantity: quantity}})
	require.NoError(t, err)
	return o
}

func (f *fixture) forceStatus(t *testing.T, id string, s models.OrderStatus) {
	t.Helper()
	require.NoError(t, f.db.Model(&models.Order{}).Where("id = ?", id).Update("status", s).Error)
}

func (f *fixture) status(t *testing.T, id string) models.OrderStatus {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.Where("id = ?", id).First(&o).Error)
	return o.Status
}

func (f *fixture) outboxTypes(t *testing.T, orderID string) []string {
	t.Helper()
	var events []models.OutboxEvent
	require.NoError(t, f.db.Where("aggregate_id = ?", orderID).Order("seq ASC").Find(&events).Error)
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e.Type)
	}
	return types
}

func TestCreateComputesAmount(t *testing.T) {
	f := newFixture(t, order.WithCurrency("INR"))
	a := repotest.CreateMeal(t, f.db, "Paneer Bowl", 100, nil)
	b := repotest.CreateMeal(t, f.db, "Dal Tadka", 50, nil)

	o, err := f.manager.Create(context.Background(), f.customer.ID, []order.LineItem{
		{MealID: a.ID, Quantity: 2},
		{MealID: b.ID, Quantity: 1},
	})
	require.NoError(t, err)

	assert.True(t, o.Amount.Equal(decimal.NewFromInt(250)), "amount %s", o.Amount)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, models.PaymentStatusPending, o.PaymentStatus)
	assert.Equal(t, "INR", o.Currency)
	assert.Equal(t, f.customer.Name, o.CustomerName)
	assert.Equal(t, f.customer.Email, o.CustomerEmail)
	assert.Equal(t, int64(1), o.Version)

	stored, err := f.repo.Stores().Orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, stored.Items, 2)
	assert.Equal(t, "Paneer Bowl", stored.Items[0].MealName)
	assert.True(t, stored.Items[0].UnitPrice.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.True(t, stored.Amount.Equal(decimal.NewFromInt(250)))

	assert.Equal(t, []string{order.EventOrderCreated}, f.outboxTypes(t, o.ID))

	history, err := f.manager.History(context.Background(), o.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.OrderStatusPending, history[0].ToStatus)
	assert.Empty(t, history[0].FromStatus)
}

func TestCreateUnknownMealPersistsNothing(t *testing.T) {
	f := newFixture(t)
	a := repotest.CreateMeal(t, f.db, "Paneer Bowl", 100, nil)

	_, err := f.manager.Create(context.Background(), f.customer.ID, []order.LineItem{
		{MealID: a.ID, Quantity: 1},
		{MealID: "no-such-meal", Quantity: 1},
	})
	require.ErrorIs(t, err, order.ErrNotFound)
	assert.Contains(t, err.Error(), "no-such-meal")

	var orders, items, events int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&orders).Error)
	require.NoError(t, f.db.Model(&models.OrderItem{}).Count(&items).Error)
	require.NoError(t, f.db.Model(&models.OutboxEvent{}).Count(&events).Error)
	assert.Zero(t, orders)
	assert.Zero(t, items)
	assert.Zero(t, events)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Khichdi", 80, nil)
	ctx := context.Background()

	_, err := f.manager.Create(ctx, f.customer.ID, nil)
	assert.ErrorIs(t, err, order.ErrValidation)

	_, err = f.manager.Create(ctx, f.customer.ID, []order.LineItem{{MealID: meal.ID, Quantity: 0}})
	assert.ErrorIs(t, err, order.ErrValidation)

	_, err = f.manager.Create(ctx, f.customer.ID, []order.LineItem{{Quantity: 1}})
	assert.ErrorIs(t, err, order.ErrValidation)

	_, err = f.manager.Create(ctx, "ghost", []order.LineItem{{MealID: meal.ID, Quantity: 1}})
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestCreateDuplicatesAreIndependent(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Khichdi", 80, nil)

	first := f.placeOrder(t, meal, 1)
	second := f.placeOrder(t, meal, 1)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestTransitionValidPairs(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Veg Biryani", 120, nil)

	for _, from := range order.Statuses {
		for _, to := range order.NextStatuses(from) {
			o := f.placeOrder(t, meal, 1)
			f.forceStatus(t, o.ID, from)

			updated, err := f.manager.Transition(context.Background(), o.ID, to, f.admin)
			require.NoError(t, err, "%s -> %s", from, to)
			assert.Equal(t, to, updated.Status)
			assert.Equal(t, int64(2), updated.Version)
			assert.Equal(t, to, f.status(t, o.ID), "%s -> %s", from, to)
		}
	}
}

func TestTransitionInvalidPairsLeaveStatus(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Veg Biryani", 120, nil)
	o := f.placeOrder(t, meal, 1)

	for _, from := range order.Statuses {
		f.forceStatus(t, o.ID, from)
		for _, to := range order.Statuses {
			if order.CanTransition(from, to) {
				continue
			}
			_, err := f.manager.Transition(context.Background(), o.ID, to, f.admin)
			assert.ErrorIs(t, err, order.ErrInvalidTransition, "%s -> %s", from, to)
			assert.Equal(t, from, f.status(t, o.ID))
		}
	}
}

func TestTerminalOrdersRejectEveryTransition(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Veg Biryani", 120, nil)

	for _, terminal := range []models.OrderStatus{models.OrderStatusDelivered, models.OrderStatusCancelled} {
		o := f.placeOrder(t, meal, 1)
		f.forceStatus(t, o.ID, terminal)
		for _, to := range order.Statuses {
			_, err := f.manager.Transition(context.Background(), o.ID, to, f.admin)
			assert.ErrorIs(t, err, order.ErrInvalidTransition)
		}
		_, err := f.manager.Cancel(context.Background(), o.ID, f.admin)
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	}
}

func TestTransitionErrors(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Veg Biryani", 120, nil)
	o := f.placeOrder(t, meal, 1)

	_, err := f.manager.Transition(context.Background(), o.ID, "SHIPPED", f.admin)
	assert.ErrorIs(t, err, order.ErrValidation)

	_, err = f.manager.Transition(context.Background(), "missing", models.OrderStatusConfirmed, f.admin)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestDeliveryDecrementsInventoryByName(t *testing.T) {
	f := newFixture(t)
	tikka := repotest.CreateInventory(t, f.db, "Paneer Tikka", 10)
	other := repotest.CreateInventory(t, f.db, "Rajma Chawal", 5)
	meal := repotest.CreateMeal(t, f.db, "Paneer Tikka", 150, nil)
	untracked := repotest.CreateMeal(t, f.db, "Seasonal Special", 90, nil)

	o, err := f.manager.Create(context.Background(), f.customer.ID, []order.LineItem{
		{MealID: meal.ID, Quantity: 3},
		{MealID: untracked.ID, Quantity: 2},
	})
	require.NoError(t, err)
	f.forceStatus(t, o.ID, models.OrderStatusOutForDelivery)

	_, err = f.manager.Transition(context.Background(), o.ID, models.OrderStatusDelivered, f.admin)
	require.NoError(t, err)

	assert.Equal(t, 7.0, repotest.Stock(t, f.db, tikka.ID))
	assert.Equal(t, 5.0, repotest.Stock(t, f.db, other.ID))
	assert.Equal(t, []string{
		order.EventOrderCreated,
		order.EventOrderStatusChanged,
		order.EventOrderDelivered,
	}, f.outboxTypes(t, o.ID))
}

func TestDeliveryPrefersPinnedInventory(t *testing.T) {
	f := newFixture(t)
	pinned := repotest.CreateInventory(t, f.db, "Thali Kit", 20)
	sameName := repotest.CreateInventory(t, f.db, "Deluxe Thali", 20)
	meal := repotest.CreateMeal(t, f.db, "Deluxe Thali", 200, &pinned.ID)

	o := f.placeOrder(t, meal, 4)
	require.NotNil(t, o.Items[0].InventoryItemID)

	// A later rename of the meal must not change what gets consumed.
	require.NoError(t, f.db.Model(&models.Meal{}).Where("id = ?", meal.ID).Update("name", "Royal Thali").Error)
	f.forceStatus(t, o.ID, models.OrderStatusOutForDelivery)

	_, err := f.manager.Transition(context.Background(), o.ID, models.OrderStatusDelivered, f.admin)
	require.NoError(t, err)

	assert.Equal(t, 16.0, repotest.Stock(t, f.db, pinned.ID))
	assert.Equal(t, 20.0, repotest.Stock(t, f.db, sameName.ID))
}

func TestNonDeliveryTransitionsKeepInventory(t *testing.T) {
	f := newFixture(t)
	inv := repotest.CreateInventory(t, f.db, "Poha", 8)
	meal := repotest.CreateMeal(t, f.db, "Poha", 40, nil)
	o := f.placeOrder(t, meal, 2)

	for _, to := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusReadyForDelivery,
		models.OrderStatusOutForDelivery,
	} {
		_, err := f.manager.Transition(context.Background(), o.ID, to, f.admin)
		require.NoError(t, err)
		assert.Equal(t, 8.0, repotest.Stock(t, f.db, inv.ID))
	}
}

// staleUoW hands out order stores whose reads lag one version behind, as if
// another writer had committed in between.
type staleUoW struct {
	*repository.GormRepository
}

type staleOrders struct {
	order.OrderStore
}

func (s staleOrders) FindByID(ctx context.Context, id string) (*models.Order, error) {
	o, err := s.OrderStore.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Version--
	return o, nil
}

func (u staleUoW) Do(ctx context.Context, fn func(s order.Stores) error) error {
	return u.GormRepository.Do(ctx, func(s order.Stores) error {
		s.Orders = staleOrders{s.Orders}
		return fn(s)
	})
}

func TestTransitionStaleVersionConflicts(t *testing.T) {
	f := newFixture(t)
	inv := repotest.CreateInventory(t, f.db, "Upma", 5)
	meal := repotest.CreateMeal(t, f.db, "Upma", 40, nil)
	o := f.placeOrder(t, meal, 1)
	f.forceStatus(t, o.ID, models.OrderStatusOutForDelivery)

	stale := order.NewManager(staleUoW{f.repo}, zaptest.NewLogger(t))
	_, err := stale.Transition(context.Background(), o.ID, models.OrderStatusDelivered, f.admin)
	require.ErrorIs(t, err, order.ErrConflict)

	assert.Equal(t, models.OrderStatusOutForDelivery, f.status(t, o.ID))
	assert.Equal(t, 5.0, repotest.Stock(t, f.db, inv.ID))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Idli", 60, nil)
	ctx := context.Background()

	pending := f.placeOrder(t, meal, 1)
	cancelled, err := f.manager.Cancel(ctx, pending.ID, f.customerActor())
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCancelled, cancelled.Status)
	assert.Equal(t, models.OrderStatusCancelled, f.status(t, pending.ID))

	confirmed := f.placeOrder(t, meal, 1)
	f.forceStatus(t, confirmed.ID, models.OrderStatusConfirmed)
	_, err = f.manager.Cancel(ctx, confirmed.ID, f.admin)
	require.NoError(t, err)

	preparing := f.placeOrder(t, meal, 1)
	f.forceStatus(t, preparing.ID, models.OrderStatusPreparing)
	_, err = f.manager.Cancel(ctx, preparing.ID, f.admin)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
	assert.Equal(t, models.OrderStatusPreparing, f.status(t, preparing.ID))

	_, err = f.manager.Cancel(ctx, "missing", f.admin)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestCancelByOtherCustomerIsForbidden(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Idli", 60, nil)
	o := f.placeOrder(t, meal, 1)
	stranger := repotest.CreateUser(t, f.db, models.RoleCustomer)

	_, err := f.manager.Cancel(context.Background(), o.ID, order.Actor{UserID: stranger.ID, Role: models.RoleCustomer})
	require.ErrorIs(t, err, order.ErrForbidden)
	assert.NotContains(t, err.Error(), f.customer.ID)
	assert.Equal(t, models.OrderStatusPending, f.status(t, o.ID))

	// Ownership is checked before status, so a terminal order is still forbidden.
	f.forceStatus(t, o.ID, models.OrderStatusDelivered)
	_, err = f.manager.Cancel(context.Background(), o.ID, order.Actor{UserID: stranger.ID, Role: models.RoleCustomer})
	assert.ErrorIs(t, err, order.ErrForbidden)
}

type memCache struct {
	orders      map[string]*models.Order
	gets        int
	invalidated []string
}

func newMemCache() *memCache {
	return &memCache{orders: map[string]*models.Order{}}
}

func (c *memCache) Get(_ context.Context, id string) (*models.Order, error) {
	c.gets++
	return c.orders[id], nil
}

func (c *memCache) Set(_ context.Context, o *models.Order) error {
	if cur, ok := c.orders[o.ID]; ok && cur.Version > o.Version {
		return nil
	}
	c.orders[o.ID] = o
	return nil
}

func (c *memCache) Invalidate(_ context.Context, id string) error {
	delete(c.orders, id)
	c.invalidated = append(c.invalidated, id)
	return nil
}

func TestGetEnforcesOwnershipAndCaches(t *testing.T) {
	cache := newMemCache()
	f := newFixture(t, order.WithCache(cache))
	meal := repotest.CreateMeal(t, f.db, "Dosa", 70, nil)
	o := f.placeOrder(t, meal, 2)
	ctx := context.Background()

	got, err := f.manager.Get(ctx, o.ID, f.customerActor())
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)
	require.Contains(t, cache.orders, o.ID)

	stranger := order.Actor{UserID: "someone-else", Role: models.RoleCustomer}
	_, err = f.manager.Get(ctx, o.ID, stranger)
	assert.ErrorIs(t, err, order.ErrForbidden)

	_, err = f.manager.Get(ctx, o.ID, f.admin)
	require.NoError(t, err)

	_, err = f.manager.Transition(ctx, o.ID, models.OrderStatusConfirmed, f.admin)
	require.NoError(t, err)
	assert.Empty(t, cache.invalidated)
	require.Contains(t, cache.orders, o.ID)
	assert.Equal(t, models.OrderStatusConfirmed, cache.orders[o.ID].Status)
	assert.EqualValues(t, 2, cache.orders[o.ID].Version)

	got, err = f.manager.Get(ctx, o.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)

	_, err = f.manager.Get(ctx, "missing", f.admin)
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestListAndDelete(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Pulao", 90, nil)
	ctx := context.Background()

	first := f.placeOrder(t, meal, 1)
	second := f.placeOrder(t, meal, 1)
	_, err := f.manager.Transition(ctx, second.ID, models.OrderStatusConfirmed, f.admin)
	require.NoError(t, err)

	all, total, err := f.manager.List(ctx, order.OrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, all, 2)

	confirmed, total, err := f.manager.List(ctx, order.OrderFilter{Status: models.OrderStatusConfirmed})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, confirmed, 1)
	assert.Equal(t, second.ID, confirmed[0].ID)

	paged, _, err := f.manager.List(ctx, order.OrderFilter{PageSize: 1})
	require.NoError(t, err)
	assert.Len(t, paged, 1)

	_, _, err = f.manager.List(ctx, order.OrderFilter{Status: "LOST"})
	assert.ErrorIs(t, err, order.ErrValidation)

	require.NoError(t, f.manager.Delete(ctx, first.ID, f.admin))
	_, err = f.manager.Get(ctx, first.ID, f.admin)
	assert.ErrorIs(t, err, order.ErrNotFound)
	assert.ErrorIs(t, f.manager.Delete(ctx, first.ID, f.admin), order.ErrNotFound)
}

func TestHistoryFollowsTransitions(t *testing.T) {
	f := newFixture(t)
	meal := repotest.CreateMeal(t, f.db, "Pulao", 90, nil)
	o := f.placeOrder(t, meal, 1)
	ctx := context.Background()

	_, err := f.manager.Transition(ctx, o.ID, models.OrderStatusConfirmed, f.admin)
	require.NoError(t, err)
	_, err = f.manager.Cancel(ctx, o.ID, f.customerActor())
	require.NoError(t, err)

	history, err := f.manager.History(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, models.OrderStatusConfirmed, history[1].ToStatus)
	assert.Equal(t, f.admin.UserID, history[1].ChangedBy)
	assert.Equal(t, models.OrderStatusConfirmed, history[2].FromStatus)
	assert.Equal(t, models.OrderStatusCancelled, history[2].ToStatus)

	_, err = f.manager.History(ctx, "missing")
	assert.ErrorIs(t, err, order.ErrNotFound)
}

func TestDeliveredEventPayload(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, order.WithClock(func() time.Time { return fixed }))
	meal := repotest.CreateMeal(t, f.db, "Chole", 75, nil)
	o := f.placeOrder(t, meal, 2)
	f.forceStatus(t, o.ID, models.OrderStatusOutForDelivery)

	_, err := f.manager.Transition(context.Background(), o.ID, models.OrderStatusDelivered, f.admin)
	require.NoError(t, err)

	var event models.OutboxEvent
	require.NoError(t, f.db.Where("aggregate_id = ? AND type = ?", o.ID, order.EventOrderDelivered).First(&event).Error)

	var payload order.Event
	require.NoError(t, json.Unmarshal([]byte(event.Payload), &payload))
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Equal(t, models.OrderStatusOutForDelivery, payload.FromStatus)
	assert.Equal(t, models.OrderStatusDelivered, payload.Status)
	assert.True(t, payload.Amount.Equal(decimal.NewFromInt(150)))
	require.Len(t, payload.Items, 1)
	assert.Equal(t, 2, payload.Items[0].Quantity)
	assert.True(t, payload.OccurredAt.Equal(fixed))
}

// interleavingCache runs beforeSet once, between the database read of a
// cache miss and the write back, the window another writer can commit in.
type interleavingCache struct {
	*repository.OrderCache
	beforeSet func()
}

func (c *interleavingCache) Set(ctx context.Context, o *models.Order) error {
	if hook := c.beforeSet; hook != nil {
		c.beforeSet = nil
		hook()
	}
	return c.OrderCache.Set(ctx, o)
}

func TestGetDoesNotCacheOverNewerTransition(t *testing.T) {
	mr := miniredis.RunT(t)
	redisCache := repository.NewOrderCache(repository.NewRedisClient(&config.RedisConfig{Addr: mr.Addr()}), time.Minute)
	t.Cleanup(func() { redisCache.Close() })

	cache := &interleavingCache{OrderCache: redisCache}
	f := newFixture(t, order.WithCache(cache))
	meal := repotest.CreateMeal(t, f.db, "Misal Pav", 80, nil)
	o := f.placeOrder(t, meal, 1)
	ctx := context.Background()

	cache.beforeSet = func() {
		_, err := f.manager.Transition(ctx, o.ID, models.OrderStatusConfirmed, f.admin)
		require.NoError(t, err)
	}
	got, err := f.manager.Get(ctx, o.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, got.Status)

	got, err = f.manager.Get(ctx, o.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusConfirmed, got.Status)
	assert.Equal(t, models.OrderStatusConfirmed, f.status(t, o.ID))
}

// failingStockUoW lets every store work except the stock decrement.
type failingStockUoW struct {
	*repository.GormRepository
	err error
}

type failingInventory struct {
	order.InventoryStore
	err error
}

func (s failingInventory) DecrementStock(context.Context, string, float64) error {
	return s.err
}

func (u failingStockUoW) Do(ctx context.Context, fn func(s order.Stores) error) error {
	return u.GormRepository.Do(ctx, func(s order.Stores) error {
		s.Inventory = failingInventory{InventoryStore: s.Inventory, err: u.err}
		return fn(s)
	})
}

func TestDeliveryRollsBackWhenStockUpdateFails(t *testing.T) {
	f := newFixture(t)
	inv := repotest.CreateInventory(t, f.db, "Upma", 5)
	meal := repotest.CreateMeal(t, f.db, "Upma", 40, nil)
	o := f.placeOrder(t, meal, 1)
	f.forceStatus(t, o.ID, models.OrderStatusOutForDelivery)

	diskFull := errors.New("disk full")
	failing := order.NewManager(failingStockUoW{GormRepository: f.repo, err: diskFull}, zaptest.NewLogger(t))
	_, err := failing.Transition(context.Background(), o.ID, models.OrderStatusDelivered, f.admin)
	require.ErrorIs(t, err, diskFull)

	assert.Equal(t, models.OrderStatusOutForDelivery, f.status(t, o.ID))
	assert.Equal(t, 5.0, repotest.Stock(t, f.db, inv.ID))
	assert.Equal(t, []string{order.EventOrderCreated}, f.outboxTypes(t, o.ID))

	history, err := f.manager.History(context.Background(), o.ID)
	require.NoError(t, err)
	for _, change := range history {
		assert.NotEqual(t, models.OrderStatusDelivered, change.ToStatus)
	}

	var stored models.Order
	require.NoError(t, f.db.Where("id = ?", o.ID).First(&stored).Error)
	assert.EqualValues(t, 1, stored.Version)
}

func TestOutboxCarriesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	f := newFixture(t, order.WithTracer(tp.Tracer("orders-test")))
	meal := repotest.CreateMeal(t, f.db, "Pongal", 55, nil)

	ctx, span := tp.Tracer("orders-test").Start(context.Background(), "checkout")
	_, err := f.manager.Create(ctx, f.customer.ID, []order.LineItem{{MealID: meal.ID, Quantity: 1}})
	span.End()
	require.NoError(t, err)

	var event models.OutboxEvent
	require.NoError(t, f.db.Where("type = ?", order.EventOrderCreated).First(&event).Error)

	var carrier map[string]string
	require.NoError(t, json.Unmarshal([]byte(event.TraceContext), &carrier))
	require.Contains(t, carrier, "traceparent")
	assert.Contains(t, carrier["traceparent"], span.SpanContext().TraceID().String())
}

type chanAudit chan order.AuditEntry

func (c chanAudit) Record(_ context.Context, entry order.AuditEntry) error {
	c <- entry
	return nil
}

func TestAuditEntriesAreRecorded(t *testing.T) {
	audit := make(chanAudit, 4)
	f := newFixture(t, order.WithAuditLog(audit))
	meal := repotest.CreateMeal(t, f.db, "Chole", 75, nil)
	o := f.placeOrder(t, meal, 1)

	select {
	case entry := <-audit:
		assert.Equal(t, "create_order", entry.Action)
		assert.Equal(t, o.ID, entry.OrderID)
		assert.Equal(t, f.customer.ID, entry.ActorID)
	case <-time.After(2 * time.Second):
		t.Fatal("audit entry not recorded")
	}
}
