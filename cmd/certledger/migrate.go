package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bigkaa/certledger/internal/config"
	"github.com/bigkaa/certledger/internal/ledger/pgstore"
)

func migrateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Применить миграции PostgreSQL",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			if a.cfg.StoreBackend != config.StorePostgres {
				return fmt.Errorf("миграции применимы только к бэкенду postgres (CL_STORE_BACKEND=%s)", a.cfg.StoreBackend)
			}
			return pgstore.Migrate(a.cfg.DatabaseMigrateURL(), a.logger)
		},
	}
}
