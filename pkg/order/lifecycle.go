package order

import (
	"fmt"
	"strings"

	"github.com/example/mealdelivery/pkg/models"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []models.OrderStatus{
	models.OrderStatusPending,
	models.OrderStatusConfirmed,
	models.OrderStatusPreparing,
	models.OrderStatusReadyForDelivery,
	models.OrderStatusOutForDelivery,
	models.OrderStatusDelivered,
	models.OrderStatusCancelled,
}

// NextStatuses returns the statuses an order in status s may move to. It is
// the only place the transition table lives.
func NextStatuses(s models.OrderStatus) []models.OrderStatus {
	switch s {
	case models.OrderStatusPending:
		return []models.OrderStatus{models.OrderStatusConfirmed, models.OrderStatusCancelled}
	case models.OrderStatusConfirmed:
		return []models.OrderStatus{models.OrderStatusPreparing, models.OrderStatusCancelled}
	case models.OrderStatusPreparing:
		return []models.OrderStatus{models.OrderStatusReadyForDelivery}
	case models.OrderStatusReadyForDelivery:
		return []models.OrderStatus{models.OrderStatusOutForDelivery}
	case models.OrderStatusOutForDelivery:
		return []models.OrderStatus{models.OrderStatusDelivered}
	case models.OrderStatusDelivered, models.OrderStatusCancelled:
		return nil
	default:
		return nil
	}
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, next := range NextStatuses(from) {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(s models.OrderStatus) bool {
	return s == models.OrderStatusDelivered || s == models.OrderStatusCancelled
}

// Cancellable reports whether a cancel request may be honoured in status s.
func Cancellable(s models.OrderStatus) bool {
	return s == models.OrderStatusPending || s == models.OrderStatusConfirmed
}

func IsKnownStatus(s models.OrderStatus) bool {
	for _, known := range Statuses {
		if known == s {
			return true
		}
	}
	return false
}

// ParseStatus accepts a status name in any case.
func ParseStatus(raw string) (models.OrderStatus, error) {
	s := models.OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if !IsKnownStatus(s) {
		return "", fmt.Errorf("%w: unknown order status %q", ErrValidation, raw)
	}
	return s, nil
}
