package db

import (
	"context"
	"database/sql"
)

// Querier is the query surface shared by a database handle and an open
// transaction. Queries are written with "?" placeholders and passed through
// Rebind for the active driver.
type Querier interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// Transaction is a Querier bound to one open transaction.
type Transaction interface {
	Querier
}

// Database is a pooled connection to MySQL or PostgreSQL.
type Database interface {
	Querier

	// Transaction runs fn inside a transaction. It commits when fn returns
	// nil and rolls back otherwise.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error

	// DriverName reports "mysql" or "postgres".
	DriverName() string
}
