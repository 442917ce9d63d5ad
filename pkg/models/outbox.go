package models

import "time"

// OutboxEvent is written in the same transaction as the state change it
// describes and published to the broker afterwards. Seq gives the publish
// order; timestamps can tie within one transaction.
type OutboxEvent struct {
	Seq          uint64     `gorm:"primaryKey;autoIncrement"`
	ID           string     `gorm:"type:varchar(36);not null;uniqueIndex"`
	AggregateID  string     `gorm:"type:varchar(36);not null;index"`
	Type         string     `gorm:"type:varchar(64);not null"`
	Payload      string     `gorm:"type:text;not null"`
	TraceContext string     `gorm:"type:text"`
	Attempts     int        `gorm:"not null;default:0"`
	LastError    string     `gorm:"type:text"`
	CreatedAt    time.Time  `gorm:"index"`
	PublishedAt  *time.Time `gorm:"index"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
