// Package storage persists users, subscriptions and delivery history.
//
// Two drivers share one query set: "sqlite" (modernc.org/sqlite, single
// writer, WAL) and "postgres" (pgx through database/sql). Schema changes are
// goose migrations embedded per dialect. Timestamps are stored as UTC unix
// milliseconds.
package storage
