package repository

import (
	"context"
	"time"

	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/order"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// AuditLog is one entry in the audit collection.
type AuditLog struct {
	ID        string    `bson:"_id,omitempty"`
	Service   string    `bson:"service"`
	Action    string    `bson:"action"`
	EntityID  string    `bson:"entity_id"`
	ActorID   string    `bson:"actor_id"`
	Data      bson.M    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
}

type MongoAuditLog struct {
	client     *mongo.Client
	collection *mongo.Collection
	service    string
}

func NewMongoAuditLog(ctx context.Context, cfg *config.MongoDBConfig, service string) (*MongoAuditLog, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}

	return &MongoAuditLog{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		service:    service,
	}, nil
}

func (m *MongoAuditLog) Record(ctx context.Context, entry order.AuditEntry) error {
	_, err := m.collection.InsertOne(ctx, &AuditLog{
		Service:   m.service,
		Action:    entry.Action,
		EntityID:  entry.OrderID,
		ActorID:   entry.ActorID,
		Data:      bson.M(entry.Data),
		CreatedAt: time.Now().UTC(),
	})
	return err
}

// Trail returns the newest entries for one order.
func (m *MongoAuditLog) Trail(ctx context.Context, orderID string, limit int64) ([]*AuditLog, error) {
	filter := bson.M{"entity_id": orderID}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)

	cursor, err := m.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var logs []*AuditLog
	if err = cursor.All(ctx, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (m *MongoAuditLog) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, nil)
}

func (m *MongoAuditLog) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
