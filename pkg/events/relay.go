package events

import (
	"context"
	"errors"
	"time"

	"github.com/example/mealdelivery/pkg/models"
	"go.uber.org/zap"
)

// Store is the outbox as seen by the relay.
type Store interface {
	Pending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkPublished(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, reason string) error
}

type Publisher interface {
	Publish(ctx context.Context, event models.OutboxEvent) error
}

// Relay moves committed outbox rows to the broker. Delivery is at least
// once: a row is marked published only after the broker accepted it.
type Relay struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(store Store, publisher Publisher, logger *zap.Logger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run flushes the outbox every interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("Outbox relay started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("Outbox flush failed", zap.Error(err))
			}
		}
	}
}

// Flush publishes one batch in order and returns how many were published.
// It stops at the first publish failure so events of one order keep their
// order on the topic.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	pending, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, event := range pending {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("Failed to publish outbox event",
				zap.String("event_id", event.ID),
				zap.String("type", event.Type),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err))
			if markErr := r.store.MarkFailed(ctx, event.ID, err.Error()); markErr != nil {
				r.logger.Error("Failed to mark outbox event", zap.String("event_id", event.ID), zap.Error(markErr))
			}
			return published, nil
		}
		if err := r.store.MarkPublished(ctx, event.ID, time.Now().UTC()); err != nil {
			return published, err
		}
		published++
	}

	if published > 0 {
		r.logger.Debug("Outbox flushed", zap.Int("published", published))
	}
	return published, nil
}
