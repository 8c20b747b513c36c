package testutil

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/stockline/stockline-backend/pkg/database"
	"github.com/stockline/stockline-backend/pkg/logger"
)

var (
	// Shared across all integration tests of one package.
	globalContainer *PostgresContainer
	globalDB        *sqlx.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL
type IntegrationSuite struct {
	Container *PostgresContainer
	RawDB     *sqlx.DB
	DB        *database.DB
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and runs
// migrate against it.
//
// Usage:
//
//	var suite *testutil.IntegrationSuite
//
//	func TestMain(m *testing.M) {
//	    flag.Parse()
//	    if !testing.Short() {
//	        suite, err = testutil.NewIntegrationSuite(ctx, repository.Migrate)
//	        ...
//	    }
//	    os.Exit(m.Run())
//	}
func NewIntegrationSuite(ctx context.Context, migrate func(context.Context, *database.DB) error) (*IntegrationSuite, error) {
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		return nil, err
	}

	log := logger.Nop()
	wrapped := database.Wrap(db, log)
	if migrate != nil {
		if err := migrate(ctx, wrapped); err != nil {
			return nil, fmt.Errorf("failed to migrate test database: %w", err)
		}
	}

	return &IntegrationSuite{
		Container: container,
		RawDB:     db,
		DB:        wrapped,
		Logger:    log,
	}, nil
}

func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *sqlx.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}
		globalDB, containerErr = globalContainer.Connect(ctx)
	})

	return globalContainer, globalDB, containerErr
}

// Truncate empties the given tables so each test starts clean.
func (s *IntegrationSuite) Truncate(t *testing.T, tables ...string) {
	t.Helper()
	if len(tables) == 0 {
		return
	}
	query := "TRUNCATE " + strings.Join(tables, ", ") + " CASCADE"
	if _, err := s.RawDB.Exec(query); err != nil {
		t.Fatalf("failed to truncate %v: %v", tables, err)
	}
}

// Cleanup terminates the shared container
func (s *IntegrationSuite) Cleanup(ctx context.Context) {
	if s.RawDB != nil {
		_ = s.RawDB.Close()
	}
	if s.Container != nil {
		_ = s.Container.Terminate(ctx)
	}
}
