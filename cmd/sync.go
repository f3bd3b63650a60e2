package cmd

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"table-sync/core/sync"
	"table-sync/feature/syncclient"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags for the sync command
	syncScope     string
	syncTables    []string
	syncPolicy    string
	syncServerURL string
	syncJSON      bool
)

// syncCmd runs one session from the client database to the server.
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the client database with the sync server",
	Long: `Runs one sync session: uploads client changes, applies server changes
and checkpoints both sides. Retryable failures (concurrent session, incomplete
batch, store timeout) are retried up to sync.max_attempts times.

Examples:
  # Sync every configured table
  table-sync sync

  # Sync one table, client wins conflicts
  table-sync sync --tables Customers --policy local_wins`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncScope, "scope", "", "Scope name (defaults to sync.scope_name)")
	syncCmd.Flags().StringSliceVar(&syncTables, "tables", nil, "Tables to synchronize (defaults to all configured tables)")
	syncCmd.Flags().StringVar(&syncPolicy, "policy", "", "Conflict policy (defaults to sync.conflict_policy)")
	syncCmd.Flags().StringVar(&syncServerURL, "server", "", "Sync server URL (defaults to client.server_url)")
	syncCmd.Flags().BoolVar(&syncJSON, "json", false, "Print the session report as JSON")

	RootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	if syncPolicy != "" {
		rt.cfg.Sync.ConflictPolicy = syncPolicy
	}
	policy, err := rt.cfg.Sync.Policy()
	if err != nil {
		return err
	}
	if syncServerURL != "" {
		rt.cfg.Client.ServerURL = syncServerURL
	}

	store, err := rt.openStore("client")
	if err != nil {
		return err
	}

	remote, err := syncclient.New(syncclient.Config{
		BaseURL: rt.cfg.Client.ServerURL,
		ApiKey:  rt.cfg.Client.ApiKey,
		Timeout: rt.cfg.Client.Timeout(),
	}, rt.logger)
	if err != nil {
		return err
	}

	agent, err := sync.NewAgent(store, remote, rt.setup, rt.logger, sync.AgentOptions{
		BatchSize:    rt.cfg.Sync.BatchSize,
		StoreTimeout: rt.cfg.Sync.StoreTimeout(),
		MaxAttempts:  rt.cfg.Sync.MaxAttempts,
		RetryDelay:   rt.cfg.Sync.RetryDelay(),
	})
	if err != nil {
		return err
	}

	// Cancellation is honored between batches
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := agent.SynchronizeWithRetry(ctx, rt.scopeName(syncScope), syncTables, policy)
	if err != nil {
		return err
	}

	printSessionReport(rt.logger, report)
	if syncJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return nil
}

// printSessionReport logs the session summary and every row error.
func printSessionReport(l *zap.Logger, r *sync.SessionReport) {
	l.Info("Sync report",
		zap.String("session_id", r.SessionID),
		zap.String("scope", r.ScopeName),
		zap.Bool("initial", r.Initial),
		zap.Int("uploaded", r.TotalUploaded),
		zap.Int("downloaded", r.TotalDownloaded),
		zap.Int("conflicts_resolved", r.ConflictsResolved),
		zap.Int("errors", len(r.Errors)),
		zap.Duration("duration", r.Duration()))

	for _, rowErr := range r.Errors {
		l.Warn("Row not applied",
			zap.String("table", rowErr.Table),
			zap.String("key", rowErr.Key.String()),
			zap.String("kind", string(rowErr.Kind)),
			zap.String("error", rowErr.Message))
	}
}
