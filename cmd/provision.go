package cmd

import (
	"context"

	"table-sync/core/sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// Flags shared by provision and deprovision
	provisionSide   string
	provisionScope  string
	provisionTables []string
	deprovisionYes  bool
)

// provisionCmd creates tracking tables, triggers and the local scope row.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create change tracking for a scope",
	Long: `Creates the tracking tables and triggers of the scope tables and stores the
local scope row. Existing rows are recorded as inserts. Running it again is a no-op.`,
	RunE: runProvision,
}

// deprovisionCmd drops tracking tables, triggers and scope rows.
var deprovisionCmd = &cobra.Command{
	Use:   "deprovision",
	Short: "Remove change tracking for a scope",
	Long: `Drops the triggers and tracking tables of the scope tables and deletes every
scope row of the scope. Data tables are left untouched. The next session
after re-provisioning is an initial one.`,
	RunE: runDeprovision,
}

func init() {
	for _, c := range []*cobra.Command{provisionCmd, deprovisionCmd} {
		c.Flags().StringVar(&provisionSide, "side", "client", "Database to work on: client or server")
		c.Flags().StringVar(&provisionScope, "scope", "", "Scope name (defaults to sync.scope_name)")
		c.Flags().StringSliceVar(&provisionTables, "tables", nil, "Tables (defaults to all configured tables)")
		RootCmd.AddCommand(c)
	}
	deprovisionCmd.Flags().BoolVar(&deprovisionYes, "yes", false, "Skip the confirmation prompt")
}

func scopeTables(rt *runtime) ([]sync.TableSchema, error) {
	return rt.setup.Tables(provisionTables)
}

func runProvision(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	tables, err := scopeTables(rt)
	if err != nil {
		return err
	}
	store, err := rt.openStore(provisionSide)
	if err != nil {
		return err
	}

	scopes := sync.NewScopeManager(store, rt.logger, rt.cfg.Sync.StoreTimeout())
	info, err := scopes.Provision(context.Background(), rt.scopeName(provisionScope), tables)
	if err != nil {
		return err
	}

	rt.logger.Info("Scope ready",
		zap.String("side", provisionSide),
		zap.String("scope", info.Name),
		zap.String("scope_id", info.ID),
		zap.Strings("tables", info.Tables))
	return nil
}

func runDeprovision(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	defer rt.logger.Sync()

	tables, err := scopeTables(rt)
	if err != nil {
		return err
	}
	name := rt.scopeName(provisionScope)

	if !deprovisionYes && !confirmDestructiveAction("Drop change tracking of scope "+name+" on the "+provisionSide+" database?") {
		rt.logger.Warn("Operation cancelled by user. No changes were made.")
		return nil
	}

	store, err := rt.openStore(provisionSide)
	if err != nil {
		return err
	}

	scopes := sync.NewScopeManager(store, rt.logger, rt.cfg.Sync.StoreTimeout())
	if err := scopes.Deprovision(context.Background(), name, tables); err != nil {
		return err
	}

	rt.logger.Info("Scope deprovisioned", zap.String("side", provisionSide), zap.String("scope", name))
	return nil
}
