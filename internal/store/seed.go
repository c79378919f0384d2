package store

import (
	"context"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tillpos/internal/domain"
)

// Seed is the YAML document loaded by `tillpos seed`: halls' tables, the
// product catalog and loyalty customers.
type Seed struct {
	Tables    []SeedTable       `yaml:"tables"`
	Products  []domain.Product  `yaml:"products"`
	Customers []domain.Customer `yaml:"customers"`
}

// SeedTable is a table entry in a seed file.
type SeedTable struct {
	ID     string `yaml:"id"`
	HallID string `yaml:"hall"`
	Name   string `yaml:"name"`
}

// DecodeSeed parses a seed document. Unknown fields are rejected.
func DecodeSeed(r io.Reader) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		return Seed{}, fmt.Errorf("decode seed: %w", err)
	}
	return seed, nil
}

// ApplySeed upserts every record of the seed in one transaction.
func (s *Store) ApplySeed(ctx context.Context, seed Seed) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		for _, t := range seed.Tables {
			if err := tx.UpsertTable(ctx, domain.Table{ID: t.ID, HallID: t.HallID, Name: t.Name}); err != nil {
				return err
			}
		}
		for _, p := range seed.Products {
			if err := tx.UpsertProduct(ctx, p); err != nil {
				return err
			}
		}
		for _, c := range seed.Customers {
			if err := tx.UpsertCustomer(ctx, c); err != nil {
				return err
			}
		}
		return nil
	})
}
