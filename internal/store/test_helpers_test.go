package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/roach88/tillpos/internal/domain"
)

var testEpoch = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedTestStore loads two tables, two products and two customers.
func seedTestStore(t *testing.T, s *Store) {
	t.Helper()
	err := s.ApplySeed(context.Background(), Seed{
		Tables: []SeedTable{
			{ID: "t-1", HallID: "main", Name: "Table 1"},
			{ID: "t-2", HallID: "main", Name: "Table 2"},
		},
		Products: []domain.Product{
			{ID: "p-plov", Name: "Plov", Price: 10000, Unit: domain.UnitPiece, Destination: "kitchen"},
			{ID: "p-tea", Name: "Green tea", Price: 3000, Unit: domain.UnitWeight, Destination: "bar"},
		},
		Customers: []domain.Customer{
			{ID: "c-disc", Name: "Aziz", Type: domain.CustomerDiscount, DiscountPercent: decimal.NewFromInt(10)},
			{ID: "c-cash", Name: "Dilnoza", Type: domain.CustomerCashback, Balance: 5000},
		},
	})
	if err != nil {
		t.Fatalf("ApplySeed() failed: %v", err)
	}
}

// createTestEntry creates an outbox entry with minimal required fields.
func createTestEntry(id, recordID string, dt domain.DataType, action domain.Action) domain.SyncLogEntry {
	return domain.SyncLogEntry{
		ID:        id,
		RecordID:  recordID,
		DataType:  dt,
		Action:    action,
		Payload:   []byte(`{"id":"` + recordID + `"}`),
		CreatedAt: testEpoch,
	}
}

// verifyPragma checks that a pragma is set to the expected value.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
