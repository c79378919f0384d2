package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tillpos/internal/store"
)

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file.yaml>",
		Short: "Load tables, products and customers from a YAML file",
		Long: `Upsert the floor plan, catalog and loyalty customers from a YAML seed
file in one transaction. Existing records with the same ID are replaced;
table status and open orders are left alone.

Example file:
  tables:
    - {id: t-1, hall: main, name: Table 1}
  products:
    - {id: p-plov, name: Plov, price: 10000, unit: piece, destination: kitchen}
  customers:
    - {id: c-disc, name: Aziz, type: discount, discount_percent: "10"}`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withTill(rootOpts, cmd, func(ctx context.Context, a *tillApp) error {
				f, err := os.Open(args[0])
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to open seed file", err)
				}
				defer f.Close()

				seed, err := store.DecodeSeed(f)
				if err != nil {
					return WrapExitError(ExitCommandError, "invalid seed file", err)
				}
				if err := a.store.ApplySeed(ctx, seed); err != nil {
					return err
				}

				data := map[string]int{
					"tables":    len(seed.Tables),
					"products":  len(seed.Products),
					"customers": len(seed.Customers),
				}
				return a.out.Render(data, func(w io.Writer) error {
					fmt.Fprintf(w, "Loaded %d tables, %d products, %d customers\n",
						len(seed.Tables), len(seed.Products), len(seed.Customers))
					return nil
				})
			})
		},
	}
}
