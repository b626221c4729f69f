package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pressly/goose/v3"

	logx "learnbyemail/pkg/logx"
)

// SQLStore implements Store over database/sql for both dialects.
type SQLStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect goose.Dialect
	rebind  func(string) string
	isDup   func(error) bool
}

var _ Store = (*SQLStore)(nil)

const subscriptionColumns = `s.id, s.email, s.topic, s.difficulty, s.hour, s.minute, s.timezone,
	s.user_id, COALESCE(u.confirmed, FALSE), s.last_sent, s.created_at`

const subscriptionFrom = ` FROM subscriptions s LEFT JOIN users u ON u.id = s.user_id`

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(q), args...)
}

func (s *SQLStore) CreateUser(ctx context.Context, email string) (User, error) {
	u := User{Email: strings.TrimSpace(email), CreatedAt: nowUTC()}
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO users(email, confirmed, created_at) VALUES(?, ?, ?) RETURNING id`),
		u.Email, false, u.CreatedAt.UnixMilli(),
	).Scan(&u.ID)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) ConfirmUser(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `UPDATE users SET confirmed = ? WHERE id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("confirm user: %w", err)
	}
	return expectOne(res)
}

func (s *SQLStore) GetUser(ctx context.Context, id int64) (User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, email, confirmed, created_at FROM users WHERE id = ?`), id,
	).Scan(&u.ID, &u.Email, &u.Confirmed, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, ErrNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	u.CreatedAt = fromMillis(created)
	return u, nil
}

func (s *SQLStore) CreateSubscription(ctx context.Context, in NewSubscription) (Subscription, error) {
	created := nowUTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO subscriptions(email, topic, difficulty, hour, minute, timezone, user_id, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		strings.TrimSpace(in.Email), in.Topic, string(ParseDifficulty(string(in.Difficulty))),
		in.Hour, in.Minute, in.Timezone, nullInt64(in.OwnerID), created.UnixMilli(),
	).Scan(&id)
	if err != nil {
		if s.isDup(err) {
			return Subscription{}, ErrDuplicate
		}
		return Subscription{}, fmt.Errorf("create subscription: %w", err)
	}
	return s.GetSubscription(ctx, id)
}

// UpdateSubscription rewrites the mutable fields. last_sent is owned by
// RecordDelivery and is left untouched.
func (s *SQLStore) UpdateSubscription(ctx context.Context, sub Subscription) error {
	res, err := s.exec(ctx,
		`UPDATE subscriptions SET email = ?, topic = ?, difficulty = ?, hour = ?, minute = ?, timezone = ? WHERE id = ?`,
		strings.TrimSpace(sub.Email), sub.Topic, string(ParseDifficulty(string(sub.Difficulty))),
		sub.Hour, sub.Minute, sub.Timezone, sub.ID,
	)
	if err != nil {
		if s.isDup(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("update subscription: %w", err)
	}
	return expectOne(res)
}

func (s *SQLStore) DeleteSubscription(ctx context.Context, id int64) error {
	res, err := s.exec(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return expectOne(res)
}

func (s *SQLStore) GetSubscription(ctx context.Context, id int64) (Subscription, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+subscriptionColumns+subscriptionFrom+` WHERE s.id = ?`), id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscription{}, ErrNotFound
	}
	if err != nil {
		return Subscription{}, fmt.Errorf("get subscription: %w", err)
	}
	return sub, nil
}

func (s *SQLStore) ListSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s.listSubscriptions(ctx, `SELECT `+subscriptionColumns+subscriptionFrom+` ORDER BY s.id`)
}

func (s *SQLStore) ListSubscriptionsByOwner(ctx context.Context, userID int64) ([]Subscription, error) {
	return s.listSubscriptions(ctx, `SELECT `+subscriptionColumns+subscriptionFrom+` WHERE s.user_id = ? ORDER BY s.id`, userID)
}

func (s *SQLStore) listSubscriptions(ctx context.Context, q string, args ...any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("list subscriptions: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListHistory(ctx context.Context, subscriptionID int64) ([]DeliveryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT id, subscription_id, content, sent_at FROM delivery_history
			WHERE subscription_id = ? ORDER BY sent_at, id`), subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()
	var out []DeliveryRecord
	for rows.Next() {
		var (
			r    DeliveryRecord
			sent int64
		)
		if err := rows.Scan(&r.ID, &r.SubscriptionID, &r.Content, &sent); err != nil {
			return nil, fmt.Errorf("list history: %w", err)
		}
		r.SentAt = fromMillis(sent)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLStore) RecordDelivery(ctx context.Context, subscriptionID int64, content string, sentAt time.Time) (rec DeliveryRecord, err error) {
	sentAt = sentAt.UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return DeliveryRecord{}, fmt.Errorf("record delivery: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE subscriptions SET last_sent = ? WHERE id = ?`), sentAt.UnixMilli(), subscriptionID)
	if err != nil {
		return DeliveryRecord{}, fmt.Errorf("record delivery: %w", err)
	}
	if err = expectOne(res); err != nil {
		return DeliveryRecord{}, err
	}

	rec = DeliveryRecord{SubscriptionID: subscriptionID, Content: content, SentAt: fromMillis(sentAt.UnixMilli())}
	err = tx.QueryRowContext(ctx,
		s.rebind(`INSERT INTO delivery_history(subscription_id, content, sent_at) VALUES(?, ?, ?) RETURNING id`),
		subscriptionID, content, sentAt.UnixMilli(),
	).Scan(&rec.ID)
	if err != nil {
		return DeliveryRecord{}, fmt.Errorf("record delivery: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return DeliveryRecord{}, fmt.Errorf("record delivery: %w", err)
	}
	return rec, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (Subscription, error) {
	var (
		sub        Subscription
		difficulty string
		owner      sql.NullInt64
		lastSent   sql.NullInt64
		created    int64
	)
	err := row.Scan(&sub.ID, &sub.Email, &sub.Topic, &difficulty, &sub.Hour, &sub.Minute, &sub.Timezone,
		&owner, &sub.OwnerConfirmed, &lastSent, &created)
	if err != nil {
		return Subscription{}, err
	}
	sub.Difficulty = ParseDifficulty(difficulty)
	if owner.Valid {
		id := owner.Int64
		sub.OwnerID = &id
	}
	if lastSent.Valid {
		t := fromMillis(lastSent.Int64)
		sub.LastSent = &t
	}
	sub.CreatedAt = fromMillis(created)
	return sub, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}

func nowUTC() time.Time { return fromMillis(time.Now().UnixMilli()) }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
