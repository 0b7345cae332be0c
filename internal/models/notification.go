package models

import "time"

// NotificationStatus captures the delivery state of an outbox task.
type NotificationStatus string

const (
	NotificationQueued            NotificationStatus = "QUEUED"
	NotificationDelivered         NotificationStatus = "DELIVERED"
	NotificationFailed            NotificationStatus = "FAILED"
	NotificationPermanentlyFailed NotificationStatus = "PERMANENTLY_FAILED"
)

// NotificationTask is a durable record of a pending email side effect,
// written in the same transaction as the transition that produced it.
// Recipient, target status and note are snapshots taken at enqueue time.
type NotificationTask struct {
	ID            string             `db:"id" json:"id"`
	RequestID     string             `db:"request_id" json:"request_id"`
	TargetStatus  RequestStatus      `db:"target_status" json:"target_status"`
	Recipient     string             `db:"recipient" json:"recipient"`
	RecipientName string             `db:"recipient_name" json:"recipient_name"`
	Note          *string            `db:"note" json:"note,omitempty"`
	Status        NotificationStatus `db:"status" json:"status"`
	Attempts      int                `db:"attempts" json:"attempts"`
	LastAttemptAt *time.Time         `db:"last_attempt_at" json:"last_attempt_at,omitempty"`
	LastError     *string            `db:"last_error" json:"last_error,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
}

// NotificationFilter constrains outbox listing queries.
type NotificationFilter struct {
	Status    []NotificationStatus
	RequestID string
	Limit     int
	Offset    int
}
