package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	alertapp "hydroponics-cloud/internal/alerts/application"
	alertevents "hydroponics-cloud/internal/alerts/application/events"
	alerts "hydroponics-cloud/internal/alerts/domain"
	alertrepo "hydroponics-cloud/internal/alerts/infrastructure/postgres"
	alerthttp "hydroponics-cloud/internal/alerts/interfaces/http"
	alertnotify "hydroponics-cloud/internal/alerts/interfaces/notify"
	apihttp "hydroponics-cloud/internal/api/http"
	"hydroponics-cloud/internal/audit"
	commandsapp "hydroponics-cloud/internal/commands/application"
	commandsevents "hydroponics-cloud/internal/commands/application/events"
	commandsrepo "hydroponics-cloud/internal/commands/infrastructure/postgres"
	commandshttp "hydroponics-cloud/internal/commands/interfaces/http"
	commandsmqtt "hydroponics-cloud/internal/commands/interfaces/mqtt"
	"hydroponics-cloud/internal/commands/interfaces/sweeper"
	"hydroponics-cloud/internal/config"
	"hydroponics-cloud/internal/eventing"
	masterdataapp "hydroponics-cloud/internal/masterdata/application"
	masterdataevents "hydroponics-cloud/internal/masterdata/application/events"
	masterdatarepo "hydroponics-cloud/internal/masterdata/infrastructure/postgres"
	masterdatahttp "hydroponics-cloud/internal/masterdata/interfaces/http"
	"hydroponics-cloud/internal/mqttclient"
	"hydroponics-cloud/internal/observability/metrics"
	reportsapp "hydroponics-cloud/internal/reports/application"
	reportshttp "hydroponics-cloud/internal/reports/interfaces/http"
	sensorsapp "hydroponics-cloud/internal/sensors/application"
	sensorevents "hydroponics-cloud/internal/sensors/application/events"
	sensorsrepo "hydroponics-cloud/internal/sensors/infrastructure/postgres"
	sensorshttp "hydroponics-cloud/internal/sensors/interfaces/http"
	"hydroponics-cloud/internal/sensors/interfaces/ingest"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := config.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("service stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("db open: %w", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}
	metrics.Init(db, logger)

	bus, err := newBus(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}

	profile, err := alerts.LoadProfile(cfg.Alerts.ProfilePath)
	if err != nil {
		return fmt.Errorf("alert profile: %w", err)
	}

	groupsSvc, err := masterdataapp.NewService(masterdatarepo.NewGroupRepository(db), masterdatarepo.NewDeviceRepository(db), bus)
	if err != nil {
		return err
	}
	sensorSvc, err := sensorsapp.NewService(sensorsrepo.NewReadingRepository(db), sensorsrepo.NewTargetRepository(db), bus,
		sensorsapp.WithLogger(logger.Named("sensors")))
	if err != nil {
		return err
	}
	commandSvc, err := commandsapp.NewService(commandsrepo.NewCommandRepository(db), bus,
		commandsapp.WithStopMarkerTTL(cfg.Alerts.StopMarkerTTL),
		commandsapp.WithLogger(logger.Named("commands")))
	if err != nil {
		return err
	}

	historyRecorder, err := alertapp.NewHistoryRecorder(alertrepo.NewHistoryRepository(db), logger.Named("alert-history"))
	if err != nil {
		return err
	}

	manager, err := alertapp.NewManager(alertapp.Dependencies{
		Bus:       bus,
		Snapshots: sensorSvc,
		Devices:   groupsSvc,
		Commands:  commandSvc,
		Profile:   profile,
		Logger:    logger.Named("alerts"),
		StopTTL:   cfg.Alerts.StopMarkerTTL,
	}, groupsSvc, alertapp.WithWatchAll(cfg.Alerts.WatchAll))
	if err != nil {
		return err
	}

	broker := alerthttp.NewBroker()
	subscribers := []busSubscriber{historyRecorder, broker}

	notifier, err := newNotifier(cfg.Notify, manager, logger.Named("notify"))
	if err != nil {
		return err
	}
	if notifier != nil {
		subscribers = append(subscribers, notifier)
		go notifier.Run(ctx)
		defer notifier.Close()
	}

	var mqttClient paho.Client
	if cfg.MQTT.BrokerURL != "" {
		mqttClient, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:      cfg.MQTT.BrokerURL,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
		}, logger.Named("mqtt"))
		if err != nil {
			return err
		}
		defer mqttClient.Disconnect(250)

		publisher, err := commandsmqtt.NewPublisher(mqttClient, cfg.MQTT.CommandPrefix, cfg.MQTT.QoS, logger.Named("device-commands"))
		if err != nil {
			return err
		}
		subscribers = append(subscribers, publisher)
		go publisher.Run(ctx)
	} else {
		logger.Warn("mqtt broker not configured; sensor bridge and device commands disabled")
	}

	if err := startAlerting(ctx, bus, manager, subscribers...); err != nil {
		return fmt.Errorf("alert sessions: %w", err)
	}
	defer manager.Shutdown()

	if mqttClient != nil {
		bridge, err := ingest.NewBridge(mqttClient, cfg.MQTT.SensorTopic, cfg.MQTT.QoS, sensorSvc, logger.Named("ingest"))
		if err != nil {
			return err
		}
		if err := bridge.Start(); err != nil {
			return err
		}
		defer bridge.Stop()
	}

	stopSweeper, err := sweeper.New(commandSvc, cfg.Alerts.SweepSchedule, logger.Named("sweeper"))
	if err != nil {
		return fmt.Errorf("sweeper: %w", err)
	}
	stopSweeper.Start()

	handler, err := newRouter(cfg, db, routeDeps{
		groups:   groupsSvc,
		sensors:  sensorSvc,
		commands: commandSvc,
		sweeper:  stopSweeper,
		manager:  manager,
		history:  historyRecorder,
		broker:   broker,
	}, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTP.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	stopSweeper.Stop(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

type busSubscriber interface {
	Register(bus eventing.Bus) []eventing.Unsubscribe
}

type sessionStarter interface {
	Start(ctx context.Context) error
}

// startAlerting registers the downstream subscribers, then starts the sessions. Sessions evaluate
// their stored snapshot as soon as they start, so alerts and device commands raised by that first
// pass need every subscriber in place.
func startAlerting(ctx context.Context, bus eventing.Bus, sessions sessionStarter, subscribers ...busSubscriber) error {
	for _, subscriber := range subscribers {
		subscriber.Register(bus)
	}
	return sessions.Start(ctx)
}

// newBus returns the in-memory bus, or a redis bus when an address is configured.
func newBus(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (eventing.Bus, error) {
	if cfg.Addr == "" {
		return eventing.NewInMemoryBus(), nil
	}
	registry := eventing.NewRegistry()
	registry.Register(
		sensorevents.SensorReadingRecorded{},
		sensorevents.ControlTargetChanged{},
		masterdataevents.GroupCreated{},
		masterdataevents.DeviceRegistered{},
		masterdataevents.DeviceRemoved{},
		commandsevents.ActuatorCommandIssued{},
		commandsevents.StopCommandIssued{},
		commandsevents.StopMarkerExpired{},
		commandsevents.ActuatorCommandCleared{},
		alertevents.AlertRaised{},
		alertevents.AlertCleared{},
	)
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	bus, err := eventing.NewRedisBus(client, cfg.Channel, registry, logger.Named("bus"))
	if err != nil {
		return nil, err
	}
	go func() {
		if err := bus.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("redis bus stopped", zap.Error(err))
		}
	}()
	return bus, nil
}

func newNotifier(cfg config.NotifyConfig, reader alertnotify.AlertReader, logger *zap.Logger) (*alertnotify.Notifier, error) {
	if len(cfg.WebhookURLs) == 0 {
		return nil, nil
	}
	channels := make([]alertnotify.Channel, 0, len(cfg.WebhookURLs))
	for _, url := range cfg.WebhookURLs {
		channel, err := alertnotify.NewWebhookChannel(url)
		if err != nil {
			return nil, err
		}
		channels = append(channels, channel)
	}
	var templateText string
	if cfg.TemplatePath != "" {
		data, err := os.ReadFile(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("notify template: %w", err)
		}
		templateText = string(data)
	}
	template, err := alertnotify.NewTemplate(templateText)
	if err != nil {
		return nil, fmt.Errorf("notify template: %w", err)
	}
	return alertnotify.NewNotifier(alertnotify.NewMultiChannel(channels...), template,
		alertnotify.WithCooldown(cfg.Cooldown),
		alertnotify.WithDedupeWindow(cfg.DedupeWindow),
		alertnotify.WithEscalation(cfg.Escalation, reader),
		alertnotify.WithLogger(logger),
	)
}

type routeDeps struct {
	groups   *masterdataapp.Service
	sensors  *sensorsapp.Service
	commands *commandsapp.Service
	sweeper  *sweeper.Sweeper
	manager  *alertapp.Manager
	history  *alertapp.HistoryRecorder
	broker   *alerthttp.Broker
}

func newRouter(cfg *config.Config, db *sql.DB, deps routeDeps, logger *zap.Logger) (http.Handler, error) {
	groupHandler, err := masterdatahttp.NewHandler(deps.groups, logger)
	if err != nil {
		return nil, err
	}
	sensorHandler, err := sensorshttp.NewHandler(deps.sensors, logger)
	if err != nil {
		return nil, err
	}
	commandHandler, err := commandshttp.NewHandler(deps.commands, deps.sweeper, logger)
	if err != nil {
		return nil, err
	}
	alertHandler, err := alerthttp.NewHandler(deps.manager, deps.history, logger)
	if err != nil {
		return nil, err
	}
	reportSvc, err := reportsapp.NewService(deps.sensors, deps.history)
	if err != nil {
		return nil, err
	}
	reportHandler, err := reportshttp.NewHandler(reportSvc, logger)
	if err != nil {
		return nil, err
	}
	ingestHandler, err := ingest.NewHTTPHandler(deps.sensors, cfg.Auth.IngestToken, logger.Named("ingest"))
	if err != nil {
		return nil, err
	}

	return apihttp.NewRouter(apihttp.Routes{
		Groups:        groupHandler.Groups,
		Devices:       groupHandler.Devices,
		Device:        groupHandler.Device,
		Targets:       sensorHandler.Targets,
		Readings:      sensorHandler.Readings,
		LatestReading: sensorHandler.LatestReading,
		Alerts:        alertHandler.Alerts,
		Watch:         alertHandler.Watch,
		AlertHistory:  alertHandler.History,
		Sweep:         commandHandler.Sweep,
		Commands:      commandHandler,
		Reports:       reportHandler,
		AlertStream:   alerthttp.NewStreamHandler(deps.broker, deps.manager, cfg.HTTP.AllowedOrigins, logger.Named("alert-stream")),
		Ingest:        ingestHandler,
	}, apihttp.Options{
		JWTSecret:      []byte(cfg.Auth.JWTSecret),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Health:         db,
		Audit:          audit.NewRepository(db),
		Logger:         logger.Named("http"),
	})
}
