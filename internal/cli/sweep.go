package cli

import (
	"fmt"
	"log"
	"time"

	"arena-duel-service/internal/app"
	"arena-duel-service/internal/config"
	pgstore "arena-duel-service/internal/infra/postgres"

	"github.com/spf13/cobra"
)

// NewSweepCmd expires overdue pending challenges. Intended to be run from
// cron or a scheduler; how often is a product decision, not an engine one.
func NewSweepCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Expire pending challenges whose acceptance window has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}

			db := newBunDB(cfg.Postgres.URL)
			defer db.Close()

			store := pgstore.NewDuelStore(db)
			acceptTTL := config.TTLDuration(cfg.Duel.AcceptTTL, 24*time.Hour)
			service := app.NewDuelService(store, nil, nil, acceptTTL)

			expired, err := service.SweepOverdue(cmd.Context())
			if err != nil {
				return err
			}
			log.Printf("sweep: expired %d overdue challenges", expired)
			return nil
		},
	}
}
