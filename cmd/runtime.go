package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"table-sync/core/config"
	"table-sync/core/database"
	"table-sync/core/logger"
	"table-sync/core/sync"
	"table-sync/core/sync/gormstore"

	"go.uber.org/zap"
)

// runtime bundles what every command needs.
type runtime struct {
	cfg    *config.Config
	logger *zap.Logger
	setup  *sync.Setup
}

func loadRuntime() (*runtime, error) {
	cfg, err := config.LoadConfig(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	l, err := logger.New(&cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	setup, err := cfg.Sync.Setup()
	if err != nil {
		return nil, fmt.Errorf("invalid sync.tables: %w", err)
	}

	return &runtime{cfg: cfg, logger: l, setup: setup}, nil
}

// openStore connects to the database of one side.
func (r *runtime) openStore(side string) (*gormstore.Store, error) {
	var dbCfg database.Config
	switch side {
	case "server":
		dbCfg = r.cfg.Database
	case "client":
		dbCfg = r.cfg.Client.Database
	default:
		return nil, fmt.Errorf("unknown side %q, expected client or server", side)
	}

	db, err := database.Connect(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s database: %w", side, err)
	}

	return gormstore.New(side, db, r.logger.With(zap.String("store", side)))
}

func (r *runtime) scopeName(flag string) string {
	if flag != "" {
		return flag
	}
	return r.cfg.Sync.ScopeName
}

// confirmDestructiveAction asks for confirmation on stdin.
func confirmDestructiveAction(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
