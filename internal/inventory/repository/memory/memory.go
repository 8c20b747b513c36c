// Package memory is an in-process backend for the inventory stores. The
// ledger serializes mutations per stock key with its own mutex, so
// different keys never contend. It backs the service tests and the
// "memory" database driver.
package memory

import (
	"time"

	"github.com/stockline/stockline-backend/internal/inventory/service"
)

// Option configures the memory backend.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewStores returns a complete, empty in-memory backend.
func NewStores(opts ...Option) service.Stores {
	return service.Stores{
		Ledger:       NewLedger(opts...),
		Reservations: NewReservationStore(),
		Pools:        NewPoolStore(opts...),
		Locations:    NewLocationRegistry(opts...),
		Allocations:  NewAllocationStore(),
		Transfers:    NewTransferStore(),
	}
}
