package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/summitflow/summitflow-term/internal/muxdriver"
	"github.com/summitflow/summitflow-term/internal/reconcile"
	"github.com/summitflow/summitflow-term/internal/store"
)

func newReconcileOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile-once",
		Short: "Run a single reconciliation pass and exit",
		Long: `Reconciles store state against the mux without starting the HTTP
server: useful after an unclean shutdown, or to clear out dead sessions
on a schedule outside the running service.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfigOrDefaults(resolveConfigPath())

			st, err := store.Open(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer st.Close()

			mux := muxdriver.New(cfg.MuxBin)
			mux.SecretDenyList = cfg.SecretDenyList

			stats, err := reconcile.New(st, mux, cfg.PurgeAfterDays).Run(cmd.Context())
			if err != nil {
				return err
			}

			slog.Info("[reconcile-once] pass complete",
				"store_sessions", stats.TotalStoreSessions,
				"mux_sessions", stats.TotalMuxSessions,
				"marked_alive", stats.MarkedAlive,
				"marked_dead", stats.MarkedDead,
				"purged", stats.Purged,
				"orphans_killed", stats.OrphansKilled,
			)
			return nil
		},
	}
}
