package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newSchemaCmd creates the 'schema' subcommand, which creates the deal tables
// and indices up front.
func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Creates the deal tables and indices",
		RunE: withApp(func(ctx context.Context, a App) error {
			if err := a.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("schema: %w", err)
			}
			a.Logger().Info("schema is up to date")
			return nil
		}),
	}
}
