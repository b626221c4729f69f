package delivery

import (
	"context"
	"time"
)

// Outcome reasons.
const (
	ReasonSent             = "sent"
	ReasonNotFound         = "subscription not found"
	ReasonOwnerUnconfirmed = "owner unconfirmed"
	ReasonTooSoon          = "too soon"
	ReasonGenerationFailed = "generation failed"
	ReasonDeliveryFailed   = "delivery failed"
	ReasonStorage          = "storage error"
	ReasonRecordFailed     = "sent but not recorded"
)

// Outcome is the result of one delivery attempt. Err carries the cause for
// failures and is nil for sends and policy skips.
type Outcome struct {
	SubscriptionID int64     `json:"subscription_id"`
	Sent           bool      `json:"sent"`
	Reason         string    `json:"reason"`
	Sequence       int       `json:"sequence,omitempty"`
	Transport      string    `json:"transport,omitempty"`
	At             time.Time `json:"at"`
	Err            error     `json:"-"`
}

// Deliverer runs one delivery attempt.
type Deliverer interface {
	Deliver(ctx context.Context, subscriptionID int64) Outcome
}

// DeliveryEvent is published as delivery.sent, delivery.skipped or
// delivery.failed.
type DeliveryEvent struct {
	SubscriptionID int64     `json:"subscription_id"`
	Topic          string    `json:"topic,omitempty"`
	Sequence       int       `json:"sequence,omitempty"`
	Reason         string    `json:"reason"`
	Transport      string    `json:"transport,omitempty"`
	ReceiptID      string    `json:"receipt_id,omitempty"`
	At             time.Time `json:"at"`
}

// JobInfo describes one entry of the job table.
type JobInfo struct {
	SubscriptionID int64     `json:"subscription_id"`
	Rule           string    `json:"rule"`
	Next           time.Time `json:"next"`
	LastFire       time.Time `json:"last_fire,omitzero"`
	LastReason     string    `json:"last_reason,omitempty"`
	Running        bool      `json:"running"`
}

// InitReport summarizes an InitializeAll or Reconcile pass.
type InitReport struct {
	Total     int `json:"total"`
	Scheduled int `json:"scheduled"`
	Skipped   int `json:"skipped"`
	Invalid   int `json:"invalid"`
	Removed   int `json:"removed"`
	CaughtUp  int `json:"caught_up"`
}
