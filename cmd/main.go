package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"docvault/internal/config"
	"docvault/internal/handler"
	"docvault/internal/logging"
	"docvault/internal/metrics"
	"docvault/internal/repository"
	"docvault/internal/scheduler"
	"docvault/internal/service"
	"docvault/internal/service/s3"
)

const (
	shutdownTimeout     = 30 * time.Second
	healthCheckInterval = 10 * time.Second
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "docvault",
		Short: "Versioned document storage for the marketplace",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		SilenceUsage: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrations()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.String("http-port", defaults.GetString("server.http_port"), "HTTP listen port")
	flags.String("grpc-port", defaults.GetString("server.grpc_port"), "gRPC listen port")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (postgres, sqlite)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("s3-endpoint", defaults.GetString("s3.endpoint"), "Custom S3 endpoint (MinIO, LocalStack)")
	flags.Bool("enforce-sharing", defaults.GetBool("sharing.enforce"), "Check read and write permissions")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "server.http_port", "http-port")
	bindFlag(cmd, "server.grpc_port", "grpc-port")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "s3.endpoint", "s3-endpoint")
	bindFlag(cmd, "sharing.enforce", "enforce-sharing")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("docvault")
		viper.AddConfigPath(".")
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &configNotFound) {
			return err
		}
	}
	return nil
}

func runMigrations() error {
	dbConfig, err := config.LoadDatabase(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(viper.GetString("log.level"))
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	return repository.Migrate(dbConfig.Driver, dbConfig.GetDSN(), logger)
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dsn := appConfig.Database.GetDSN()
	if err := repository.Migrate(appConfig.Database.Driver, dsn, logger); err != nil {
		return err
	}
	db, err := repository.Open(signalCtx, appConfig.Database.Driver, dsn, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	s3Client, err := s3.NewClient(signalCtx, &appConfig.S3, logger, m)
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}

	// Репозитории
	fileRepo := repository.NewFileRepository(db)
	versionRepo := repository.NewVersionRepository(db)
	annotationRepo := repository.NewAnnotationRepository(db)
	permissionRepo := repository.NewPermissionRepository(db)

	// Сервисы
	permissionService := service.NewPermissionService(permissionRepo, fileRepo, logger)
	fileService := service.NewFileService(fileRepo, versionRepo, s3Client, permissionService, service.NopIndexer{},
		service.FileServiceConfig{
			Workers:        appConfig.Upload.Workers,
			MaxFileSize:    appConfig.Upload.MaxFileSize,
			EnforceSharing: appConfig.Sharing.Enforce,
		}, logger, m)
	annotationService := service.NewAnnotationService(annotationRepo, fileService, logger)
	retrievalService := service.NewRetrievalService(fileService, s3Client, appConfig.Upload.SignedURLTTL, logger)
	metadataService := service.NewMetadataService(fileService, annotationService, permissionService, appConfig.Sharing.Enforce)

	router, err := handler.NewRouter(handler.Dependencies{
		Files:          fileService,
		Annotations:    annotationService,
		Permissions:    permissionService,
		Retrieval:      retrievalService,
		Metadata:       metadataService,
		DB:             db,
		Gatherer:       registry,
		Logger:         logger,
		EnforceSharing: appConfig.Sharing.Enforce,
		MaxFileSize:    appConfig.Upload.MaxFileSize,
		MaxBulkFiles:   appConfig.Upload.MaxBulkFiles,
		RateLimit:      appConfig.RateLimit.RequestsPerMinute,
		RateBurst:      appConfig.RateLimit.Burst,
	})
	if err != nil {
		return err
	}

	cleanup, err := scheduler.New(fileService, appConfig.Cleanup.Schedule, appConfig.Cleanup.OrphanGrace, logger)
	if err != nil {
		return err
	}
	cleanup.Start(signalCtx)
	defer cleanup.Stop()

	grpcServer, healthServer := handler.NewGRPCServer(logger)
	go handler.WatchHealth(signalCtx, healthServer, db, healthCheckInterval, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", appConfig.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)

	go func() {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%s", appConfig.Server.GRPCPort))
		if err != nil {
			errCh <- fmt.Errorf("failed to listen for gRPC: %w", err)
			return
		}
		logger.Info("grpc server starting", zap.String("port", appConfig.Server.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	go func() {
		logger.Info("http server starting", zap.String("port", appConfig.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-signalCtx.Done():
		logger.Info("shutting down servers")
	case runErr = <-errCh:
		logger.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server forced to shutdown", zap.Error(err))
	}
	grpcServer.GracefulStop()

	logger.Info("server exited properly")
	return runErr
}
