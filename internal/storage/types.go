package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrDuplicate = errors.New("storage: duplicate subscription")
)

// Config selects and tunes the database driver.
//
// Driver values:
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a libpq/pgx connection string
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means 5s
}

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// ParseDifficulty maps free text to a Difficulty; anything unknown is medium.
func ParseDifficulty(s string) Difficulty {
	switch Difficulty(s) {
	case DifficultyEasy, DifficultyHard:
		return Difficulty(s)
	default:
		return DifficultyMedium
	}
}

type User struct {
	ID        int64
	Email     string
	Confirmed bool
	CreatedAt time.Time
}

// Subscription is one recurring lesson stream. OwnerConfirmed mirrors the
// owning user's confirmation flag and is false when there is no owner.
type Subscription struct {
	ID             int64
	Email          string
	Topic          string
	Difficulty     Difficulty
	Hour           int
	Minute         int
	Timezone       string
	OwnerID        *int64
	OwnerConfirmed bool
	LastSent       *time.Time
	CreatedAt      time.Time
}

// HasOwner reports whether an account owns the subscription.
func (s Subscription) HasOwner() bool { return s.OwnerID != nil }

type NewSubscription struct {
	Email      string
	Topic      string
	Difficulty Difficulty
	Hour       int
	Minute     int
	Timezone   string
	OwnerID    *int64
}

type DeliveryRecord struct {
	ID             int64
	SubscriptionID int64
	Content        string
	SentAt         time.Time
}

// Store is the persistence API used by the delivery pipeline and the app.
type Store interface {
	CreateUser(ctx context.Context, email string) (User, error)
	ConfirmUser(ctx context.Context, id int64) error
	GetUser(ctx context.Context, id int64) (User, error)

	CreateSubscription(ctx context.Context, in NewSubscription) (Subscription, error)
	UpdateSubscription(ctx context.Context, sub Subscription) error
	DeleteSubscription(ctx context.Context, id int64) error
	GetSubscription(ctx context.Context, id int64) (Subscription, error)
	ListSubscriptions(ctx context.Context) ([]Subscription, error)
	ListSubscriptionsByOwner(ctx context.Context, userID int64) ([]Subscription, error)

	// ListHistory returns the subscription's deliveries, oldest first.
	ListHistory(ctx context.Context, subscriptionID int64) ([]DeliveryRecord, error)
	// RecordDelivery appends a history row and advances last_sent in one
	// transaction.
	RecordDelivery(ctx context.Context, subscriptionID int64, content string, sentAt time.Time) (DeliveryRecord, error)

	Ping(ctx context.Context) error
	Close() error
}
