package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"table-sync/core/loader"
	"table-sync/core/logger"
	"table-sync/core/middleware/auth"
	"table-sync/core/middleware/rayid"
	"table-sync/core/storage"
	"table-sync/core/sync"
	"table-sync/feature/integrity"
	"table-sync/feature/syncserver"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "table-sync/docs/swagger"
)

// @title table-sync API
// @version 1.0
// @description Bidirectional table synchronization sessions and change tracking checks.
// @host localhost:8080
// @BasePath /
// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	Long: `Starts the HTTP server hosting sync sessions against the server database.
The server scope is provisioned by the first session that asks for it.`,
	RunE: runServe,
}

func init() {
	RootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	rt, err := loadRuntime()
	if err != nil {
		return err
	}
	logg := rt.logger
	defer logg.Sync()
	zap.ReplaceGlobals(logg)

	store, err := rt.openStore("server")
	if err != nil {
		return err
	}
	logg.Info("Connected to server database", zap.String("dialect", store.Dialect()))

	// Batches are staged in memory unless object storage is enabled
	var stage sync.BatchStage
	if rt.cfg.Storage.Enabled {
		client, err := storage.NewClient(rt.cfg.Storage)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(context.Background(), rt.cfg.Storage.Timeout())
		err = storage.EnsureBucket(ctx, client, rt.cfg.Storage.Bucket, rt.cfg.Storage.Region)
		cancel()
		if err != nil {
			return err
		}
		stage = syncserver.NewObjectStage(client, rt.cfg.Storage.Bucket, rt.cfg.Storage.Prefix)
		logg.Info("Staging batches in object storage", zap.String("bucket", rt.cfg.Storage.Bucket))
	}

	orch, err := sync.NewOrchestrator(store, rt.setup, stage, logg, sync.OrchestratorOptions{
		ScopeName:    rt.cfg.Sync.ScopeName,
		BatchSize:    rt.cfg.Sync.BatchSize,
		StoreTimeout: rt.cfg.Sync.StoreTimeout(),
		SessionTTL:   rt.cfg.Sync.SessionTTL(),
	})
	if err != nil {
		return err
	}

	app := fiber.New(rt.cfg.Server.FiberConfig())

	mgr := loader.NewManager()
	mgr.Register(syncserver.NewFeature(orch, logg))
	mgr.Register(integrity.NewFeature(store, rt.setup, logg))

	// RayID first so every log line carries it
	app.Use(rayid.New())

	app.Use(func(c *fiber.Ctx) error {
		l := logger.WithRayID(logg, c)
		l.Info("Request started",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("ip", c.IP()),
		)
		err := c.Next()
		if err != nil {
			l.Error("Request error", zap.Error(err))
		}
		return err
	})

	// Swagger stays public
	app.Get("/swagger/*", swagger.HandlerDefault)

	app.Use(auth.New(auth.Config{ApiKey: rt.cfg.Server.ApiKey}))
	if rt.cfg.Server.ApiKey == "" {
		logg.Warn("server.api_key is empty, sync endpoints are unprotected")
	}

	loaded, err := mgr.LoadAll(app)
	if err != nil {
		return err
	}
	logg.Info("Features loaded", zap.Strings("features", loaded))

	errCh := make(chan error, 1)
	go func() {
		logg.Info("Starting server", zap.String("port", rt.cfg.Server.Port))
		errCh <- app.Listen(rt.cfg.Server.Addr())
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logg.Info("Shutting down server...", zap.Int("active_sessions", orch.ActiveSessions()))
	return app.Shutdown()
}
