package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/panoptikon-gw/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [db-key]",
	Short: "Apply pending schema migrations",
	Long: `Apply pending schema migrations to one database, or to every
database under data-root/index when no db-key is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		if len(args) == 1 {
			if err := migrate.MigrateOne(ctx, process.DataRoot, args[0]); err != nil {
				return fmt.Errorf("migrating %s: %w", args[0], err)
			}
			fmt.Printf("migrated %s\n", args[0])
			return nil
		}

		failures := migrate.MigrateAll(ctx, process.DataRoot)
		for dbKey, err := range failures {
			fmt.Printf("%s: FAILED: %v\n", dbKey, err)
		}
		if len(failures) > 0 {
			return fmt.Errorf("%d database(s) failed to migrate", len(failures))
		}
		fmt.Println("migrated all databases under", process.DataRoot)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
