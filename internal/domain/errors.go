package domain

import "errors"

var (
	// ErrInvalidParameter marks a bad symbol, investment or window. It is
	// returned before any data access.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNoDataAvailable marks a symbol with no stored price rows.
	ErrNoDataAvailable = errors.New("no data available")
)
