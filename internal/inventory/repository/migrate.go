// Package repository holds the PostgreSQL implementations of the inventory stores.
package repository

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/stockline/stockline-backend/internal/inventory/service"
	"github.com/stockline/stockline-backend/pkg/database"
)

//go:embed schema.sql
var schema string

// Migrate applies the embedded schema. It is safe to run repeatedly.
func Migrate(ctx context.Context, db *database.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// NewStores wires every PostgreSQL store against db.
func NewStores(db *database.DB) service.Stores {
	return service.Stores{
		Ledger:       NewStockRepository(db),
		Reservations: NewReservationRepository(db),
		Pools:        NewPoolRepository(db),
		Locations:    NewLocationRepository(db),
		Allocations:  NewAllocationRepository(db),
		Transfers:    NewTransferRepository(db),
	}
}

var (
	_ service.StockLedger      = (*StockRepository)(nil)
	_ service.ReservationStore = (*ReservationRepository)(nil)
	_ service.PoolStore        = (*PoolRepository)(nil)
	_ service.LocationRegistry = (*LocationRepository)(nil)
	_ service.AllocationStore  = (*AllocationRepository)(nil)
	_ service.TransferStore    = (*TransferRepository)(nil)
)
