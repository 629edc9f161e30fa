package database

import (
	"context"
	"fmt"
	"slices"
	"log/slog"

	"github.com/venuesync/backend/internal/actions"
)

// DriverSupabase selects the PostgREST store.
const DriverSupabase = "supabase"

// ConnectOptions selects and configures a store.
type ConnectOptions struct {
	Driver      string
	DSN         string
	SupabaseURL string
	SupabaseKey string
	// Migrate creates missing tables. Ignored for Supabase, whose schema is
	// managed by migrations in the project.
	Migrate bool
}

// Connect opens the store named by opts.Driver.
func Connect(ctx context.Context, opts ConnectOptions) (actions.Store, error) {
	if opts.Driver == DriverSupabase {
		store, err := NewSupabaseStore(opts.SupabaseURL, opts.SupabaseKey)
		if err != nil {
			return nil, err
		}
		slog.Info("action store ready", "driver", opts.Driver)
		return store, nil
	}

	db, err := Open(ctx, opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.Migrate {
		if err := Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	slog.Info("action store ready", "driver", opts.Driver, "migrated", opts.Migrate)
	return NewSQLStore(db), nil
}

// TableChecker reports row counts of the lifecycle tables.
type TableChecker interface {
	CountRows(ctx context.Context, table string) (int64, error)
}

// CountRows counts the rows of one of Tables.
func (s *SQLStore) CountRows(ctx context.Context, table string) (int64, error) {
	if !slices.Contains(Tables, table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// CountRows asks PostgREST for an exact count without fetching rows.
func (s *SupabaseStore) CountRows(_ context.Context, table string) (int64, error) {
	if !slices.Contains(Tables, table) {
		return 0, fmt.Errorf("unknown table %q", table)
	}
	_, n, err := s.client.From(table).Select("*", "exact", true).Execute()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

var (
	_ TableChecker = (*SQLStore)(nil)
	_ TableChecker = (*SupabaseStore)(nil)
)
