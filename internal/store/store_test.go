package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tillpos/internal/domain"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Error("database file was not created")
	}
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("Open() iteration %d failed: %v", i, err)
		}
		s.Close()
	}

	s, err := Open(path)
	if err != nil {
		t.Fatalf("final Open() failed: %v", err)
	}
	defer s.Close()

	tables := []string{"tables", "products", "customers", "orders", "order_items", "item_returns",
		"settlements", "shifts", "cancelled_orders", "sync_log", "counters", "sync_lease"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found after idempotent opens: %v", table, err)
		}
	}
}

func TestOpen_InvalidPath(t *testing.T) {
	_, err := Open("/nonexistent/dir/test.db")
	if err == nil {
		t.Error("expected error for invalid path, got nil")
	}
}

func TestClose_NilDB(t *testing.T) {
	s := &Store{db: nil}
	if err := s.Close(); err != nil {
		t.Errorf("Close() on nil db should not error: %v", err)
	}
}

func TestMigrations_SetUserVersion(t *testing.T) {
	s := createTestStore(t)

	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		t.Fatalf("query user_version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("user_version = %d, want %d", version, currentSchemaVersion)
	}
}

// Pragma tests

func TestPragmas(t *testing.T) {
	s := createTestStore(t)

	tests := []struct {
		name, want string
	}{
		{"journal_mode", "wal"},
		{"synchronous", "1"}, // NORMAL
		{"busy_timeout", "5000"},
		{"foreign_keys", "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.verifyPragma(tt.name, tt.want); err != nil {
				t.Error(err)
			}
		})
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s := createTestStore(t)
	seedTestStore(t, s)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *Tx) error {
		if err := tx.UpsertTable(ctx, domain.Table{ID: "t-9", Name: "Terrace"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Table(ctx, "t-9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *Tx) error {
		return tx.UpsertTable(ctx, domain.Table{ID: "t-9", HallID: "terrace", Name: "Terrace"})
	})
	require.NoError(t, err)

	tbl, err := s.Table(ctx, "t-9")
	require.NoError(t, err)
	assert.Equal(t, domain.TableFree, tbl.Status)
	assert.Equal(t, "terrace", tbl.HallID)
}

func TestApplySeed_Idempotent(t *testing.T) {
	s := createTestStore(t)
	seedTestStore(t, s)
	seedTestStore(t, s)
	ctx := context.Background()

	tables, err := s.Tables(ctx)
	require.NoError(t, err)
	assert.Len(t, tables, 2)

	p, err := s.Product(ctx, "p-tea")
	require.NoError(t, err)
	assert.Equal(t, domain.UnitWeight, p.Unit)

	c, err := s.Customer(ctx, "c-disc")
	require.NoError(t, err)
	assert.Equal(t, "10", c.DiscountPercent.String())
}

func TestDecodeSeed(t *testing.T) {
	doc := `
tables:
  - {id: t-1, hall: main, name: "Table 1"}
products:
  - {id: p-1, name: Plov, price: 10000, unit: piece, destination: kitchen}
customers:
  - {id: c-1, name: Aziz, type: discount, discount_percent: "12.5"}
`
	seed, err := DecodeSeed(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, seed.Tables, 1)
	assert.Equal(t, "main", seed.Tables[0].HallID)
	require.Len(t, seed.Customers, 1)
	assert.Equal(t, "12.5", seed.Customers[0].DiscountPercent.String())

	_, err = DecodeSeed(strings.NewReader("tables:\n  - {id: t-1, colour: red}\n"))
	assert.Error(t, err, "unknown fields are rejected")
}
