package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/camwatch/frameparser-autoscaler/store/sqlstore"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var apply, down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Print or apply the SQL schema for the configured store",
		Long: `Migrate prints the DDL for the configured SQL store backend
(postgres, mysql or sqlite3). With --apply it creates the table instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, dialect, err := ctx.sqlDB()
			if err != nil {
				return err
			}
			tables := ctx.sqlTableConfig()
			if err := tables.Validate(); err != nil {
				return err
			}

			if !apply {
				if down {
					fmt.Fprint(cmd.OutOrStdout(), sqlstore.MigrationDown(dialect, tables))
				} else {
					fmt.Fprint(cmd.OutOrStdout(), sqlstore.MigrationUp(dialect, tables))
				}
				return nil
			}
			if down {
				return fmt.Errorf("--down cannot be combined with --apply")
			}

			if err := sqlstore.NewWithConfig(db, dialect, tables).Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s table %s\n", dialect, tables.AssignmentsTable)
			return nil
		},
	}

	cmd.Flags().BoolVar(&apply, "apply", false, "Create the table instead of printing the DDL")
	cmd.Flags().BoolVar(&down, "down", false, "Print the rollback DDL")

	return cmd
}
