package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/ota/api"
	"example.com/backstage/services/ota/api/handlers"
	"example.com/backstage/services/ota/config"
	"example.com/backstage/services/ota/internal/audit"
	"example.com/backstage/services/ota/internal/auth"
	"example.com/backstage/services/ota/internal/broadcast"
	"example.com/backstage/services/ota/internal/cache"
	"example.com/backstage/services/ota/internal/database"
	"example.com/backstage/services/ota/internal/integrity"
	"example.com/backstage/services/ota/internal/jobs"
	"example.com/backstage/services/ota/internal/messaging"
	"example.com/backstage/services/ota/internal/metrics"
	"example.com/backstage/services/ota/internal/registry"
	"example.com/backstage/services/ota/internal/repository"
	"example.com/backstage/services/ota/internal/service"
	"example.com/backstage/services/ota/internal/storage"
	"example.com/backstage/services/ota/internal/telemetry"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	// Serve command flags
	disableNewRelic bool
	serverPort      int
	gracefulTimeout int
	autoMigrate     bool
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and job engine",
	Long: `Starts the OTA service: the HTTP API, the live progress feed,
the update job engine and the stale job sweeper.

The server respects the configuration in config.yaml or specified via the --config flag.
It will gracefully shut down on receiving SIGINT or SIGTERM signals.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "Server port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", false, "Run database migrations before serving")
}

// connectDatabase retries with exponential backoff while the database comes up
func connectDatabase(cfg config.DatabaseConfig) (database.DB, error) {
	var (
		db  database.DB
		err error
	)
	maxRetries := 5
	retryInterval := time.Second

	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg)
		if err == nil {
			return db, nil
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}
	return nil, err
}

// connectCache falls back to a no-op cache so the registry always has one
func connectCache(cfg config.RedisConfig) cache.RedisClient {
	if !cfg.Enabled {
		log.Info("Redis disabled, device cache is off")
		return cache.NewNoopClient()
	}

	log.Info("Connecting to Redis...")
	client, err := cache.NewRedisClient(cfg)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to Redis, continuing without device cache")
		return cache.NewNoopClient()
	}
	return client
}

// auditRecorder writes to the database and, when enabled, mirrors to Elasticsearch
func auditRecorder(cfg config.ElasticConfig, repo repository.Repository) audit.Recorder {
	store := audit.NewStoreRecorder(repo)
	if !cfg.Enabled {
		return store
	}

	elastic, err := audit.NewElasticRecorder(cfg)
	if err != nil {
		log.WithError(err).Warn("Failed to initialize Elasticsearch, audit search disabled")
		return store
	}
	log.WithField("index", cfg.Index).Info("Audit entries are mirrored to Elasticsearch")
	return audit.NewMultiRecorder(log, store, elastic)
}

// startServer wires every component and runs until a signal arrives
func startServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":              cfg.Server.Port,
		"content_store":     cfg.Firmware.Backend,
		"encrypt_at_rest":   cfg.Firmware.EncryptAtRest,
		"failure_policy":    cfg.Jobs.PartialFailurePolicy,
		"newrelic_enabled":  cfg.NewRelic.Enabled && !disableNewRelic,
		"servicebus_queues": []string{cfg.ServiceBus.DispatchQueue, cfg.ServiceBus.EventsQueue},
	}).Info("Initializing service components...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := connectDatabase(cfg.Database)
	if err != nil {
		return err
	}
	log.Info("Successfully connected to database")
	defer func() {
		log.Info("Closing database connection...")
		if err := db.Close(); err != nil {
			log.WithError(err).Error("Error closing database connection")
		}
	}()

	if autoMigrate {
		log.Info("Running database migrations...")
		if err := database.AutoMigrate(db); err != nil {
			return err
		}
	}

	redisClient := connectCache(cfg.Redis)
	defer redisClient.Close()

	log.Info("Connecting to message broker...")
	dispatchClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, cfg.ServiceBus.DispatchQueue, "ota-dispatch", log)
	if err != nil {
		return err
	}
	defer dispatchClient.Close()

	eventsClient, err := messaging.NewServiceBusClient(cfg.ServiceBus, cfg.ServiceBus.EventsQueue, "ota-events", log)
	if err != nil {
		return err
	}
	defer eventsClient.Close()

	var nrApp *newrelic.Application
	if !disableNewRelic {
		nrApp, err = telemetry.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize New Relic")
		} else if nrApp != nil {
			log.Info("New Relic monitoring initialized successfully")
			defer nrApp.Shutdown(10 * time.Second)
		}
	}

	contentStore, err := storage.New(ctx, cfg.Firmware, cfg.S3)
	if err != nil {
		return err
	}
	pipeline, err := integrity.NewPipeline(contentStore, cfg.Firmware.MasterKey.Bytes(), cfg.Firmware.EncryptAtRest, log)
	if err != nil {
		return err
	}

	repo := repository.NewRepository(db)
	devices := registry.New(repo, redisClient, log)
	collector := metrics.NewMetrics()

	hub := broadcast.NewHub(log)
	forwarder := messaging.NewEventForwarder(eventsClient, log, cfg.ServiceBus.EventWorkers, cfg.ServiceBus.EventBuffer)
	defer forwarder.Stop()

	publisher := broadcast.MultiPublisher{hub, forwarder, telemetry.NewJobEvents(nrApp)}
	engine := jobs.NewEngine(repo, devices, pipeline, jobs.NewServiceBusDispatcher(dispatchClient), publisher, cfg.Jobs, log)

	sweeper, err := jobs.NewSweeper(engine, cfg.Jobs, log)
	if err != nil {
		return err
	}

	svc, err := service.NewService(service.ServiceConfig{
		Repository:     repo,
		Firmware:       pipeline,
		Devices:        devices,
		Engine:         engine,
		Feed:           hub,
		Recorder:       auditRecorder(cfg.Elastic, repo),
		Tokens:         auth.NewTokenVerifier(cfg.Auth.JWTSecret.Bytes(), cfg.Auth.JWTIssuer),
		Metrics:        collector,
		Logger:         log,
		MaxUploadBytes: cfg.Firmware.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	server := api.NewServer(cfg, log, svc, api.ServerOptions{
		NewRelic: nrApp,
		Metrics:  collector,
		Gauges: map[string]handlers.GaugeFunc{
			metrics.ActiveJobs:  func() int64 { return int64(engine.Active()) },
			metrics.Subscribers: func() int64 { return int64(hub.Subscribers()) },
		},
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(ctx)
	})

	g.Go(func() error {
		log.WithField("port", cfg.Server.Port).Info("Starting server...")
		return server.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Server shutdown error")
		}
		if err := svc.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Job engine shutdown error")
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Server shutdown complete")
	return nil
}
