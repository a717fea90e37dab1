package db

import (
	_ "github.com/go-sql-driver/mysql"
)

// NewMySQL opens a MySQL pool.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true&loc=UTC"
func NewMySQL(cfg Config) (*SQLDatabase, error) {
	return open(DriverMySQL, cfg)
}
