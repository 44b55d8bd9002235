package postgres

import "errors"

var (
	// ErrConnectionFailed is returned when the pool cannot reach the server.
	ErrConnectionFailed = errors.New("postgres: connection failed")

	// ErrInvalidConfig is returned when host, database or user is missing.
	ErrInvalidConfig = errors.New("postgres: invalid configuration")
)
