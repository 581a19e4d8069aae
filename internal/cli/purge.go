package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-venue-backend/internal/repo"
)

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-idempotency",
		Short: "Delete expired Idempotency-Key records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			db, err := repo.OpenSQLite(rt.cfg.DBPath)
			if err != nil {
				return err
			}
			if sqlDB, err := db.DB(); err == nil {
				defer sqlDB.Close()
			}
			if err := repo.AutoMigrate(db); err != nil {
				return err
			}
			n, err := repo.PurgeExpiredIdempotency(cmd.Context(), db, time.Now())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d expired keys\n", n)
			return err
		},
	}
}
