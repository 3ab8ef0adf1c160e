package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/taskbid/internal/clock"
	"github.com/phrazzld/taskbid/internal/config"
	"github.com/phrazzld/taskbid/internal/events"
	"github.com/phrazzld/taskbid/internal/gateway"
	"github.com/phrazzld/taskbid/internal/notify"
	"github.com/phrazzld/taskbid/internal/platform/memstore"
	"github.com/phrazzld/taskbid/internal/platform/postgres"
	"github.com/phrazzld/taskbid/internal/service"
	"github.com/phrazzld/taskbid/internal/store"
	"github.com/phrazzld/taskbid/internal/task"
)

// application holds all the shared application dependencies to simplify management
// and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock

	// db is nil when the in-memory store is selected.
	db    *sql.DB
	store store.Store

	gateway  gateway.ExternalGateway
	notifier *notify.Async

	bidService     *service.BidServiceImpl
	paymentService *service.PaymentServiceImpl
	orchestrator   *service.Orchestrator

	emitter   *events.InMemoryEventEmitter
	relay     *events.Relay
	scheduler *task.Scheduler
}

// newApplication creates a new application instance with all dependencies
// initialized. Nothing is started; Run starts the relay, the scheduler and
// the HTTP server.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
		clock:  clock.Real{},
	}

	if err := app.setupStore(ctx); err != nil {
		return nil, err
	}

	if err := app.setupGateway(); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupNotifier(); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupServices(); err != nil {
		app.cleanup()
		return nil, err
	}

	if err := app.setupEvents(); err != nil {
		app.cleanup()
		return nil, err
	}

	app.scheduler = task.NewScheduler(logger)
	if err := registerJobs(app); err != nil {
		app.cleanup()
		return nil, fmt.Errorf("failed to register scheduled jobs: %w", err)
	}

	logger.Info("application initialized",
		slog.String("store_driver", cfg.Store.Driver),
		slog.Any("jobs", app.scheduler.Jobs()))
	return app, nil
}

func (app *application) setupStore(ctx context.Context) error {
	switch app.config.Store.Driver {
	case "memory":
		app.store = memstore.New(app.clock)
		app.logger.Warn("using in-memory store; data is lost on restart")
	case "postgres":
		db, err := setupAppDatabase(ctx, app.config.Database, app.logger)
		if err != nil {
			return err
		}
		app.db = db
		app.store = postgres.NewStore(db, app.clock, app.logger)
	default:
		return fmt.Errorf("unknown store driver %q", app.config.Store.Driver)
	}
	return nil
}

func (app *application) setupGateway() error {
	gwCfg := app.config.Gateway

	tasks, err := gateway.NewHTTPTaskService(gwCfg.TaskServiceURL, gwCfg.RequestTimeout, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize task service client: %w", err)
	}
	users, err := gateway.NewHTTPUserService(gwCfg.UserServiceURL, gwCfg.RequestTimeout, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize user service client: %w", err)
	}
	provider, err := gateway.NewHTTPPaymentProvider(
		app.config.Provider.URL,
		app.config.Provider.APIKey,
		app.config.Provider.Timeout,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize payment provider client: %w", err)
	}

	app.gateway = gateway.New(tasks, users, provider)
	return nil
}

func (app *application) setupNotifier() error {
	nc := app.config.Notify

	var next notify.Notifier
	if nc.TwilioAccountSID != "" {
		twilio, err := notify.NewTwilioNotifier(nc.TwilioAccountSID, nc.TwilioAuthToken, nc.TwilioFromNumber, app.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize twilio notifier: %w", err)
		}
		next = twilio
		app.logger.Info("sms notifications enabled")
	} else {
		next = notify.NewLogNotifier(app.logger)
	}

	app.notifier = notify.NewAsync(next, app.config.Gateway.RequestTimeout, app.logger)
	return nil
}

func (app *application) setupServices() error {
	bidCfg, err := service.NewBidConfig(app.config)
	if err != nil {
		return fmt.Errorf("failed to build bid config: %w", err)
	}
	paymentCfg, err := service.NewPaymentConfig(app.config)
	if err != nil {
		return fmt.Errorf("failed to build payment config: %w", err)
	}

	app.bidService, err = service.NewBidService(app.store, app.gateway, app.clock, bidCfg, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize bid service: %w", err)
	}
	app.paymentService, err = service.NewPaymentService(app.store, app.gateway, app.clock, paymentCfg, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize payment service: %w", err)
	}

	app.orchestrator, err = service.NewOrchestrator(
		app.paymentService,
		app.bidService,
		app.gateway,
		app.notifier,
		app.logger,
	)
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}
	return nil
}

// setupEvents connects the outbox to the orchestrator. Services signal the
// relay after each committed write so delivery does not wait for the poll.
func (app *application) setupEvents() error {
	app.emitter = events.NewInMemoryEventEmitter(app.logger)
	app.emitter.Subscribe(app.orchestrator, app.orchestrator.EventTypes()...)

	sc := app.config.Scheduler
	relay, err := events.NewRelay(app.store.Outbox(), app.emitter, app.clock, events.RelayConfig{
		Interval:    sc.OutboxInterval,
		BatchSize:   sc.BatchSize,
		MaxAttempts: sc.OutboxMaxAttempts,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize outbox relay: %w", err)
	}
	app.relay = relay

	app.bidService.SetSignaler(relay)
	app.paymentService.SetSignaler(relay)
	return nil
}

// Run starts the background machinery and serves HTTP until ctx is done.
func (app *application) Run(ctx context.Context) error {
	app.relay.Start()
	if app.config.Scheduler.Enabled {
		app.scheduler.Start()
	} else {
		app.logger.Info("scheduler disabled; sweeps run only via the sweep command")
	}

	return app.startHTTPServer(ctx, app.setupRouter())
}

// cleanup releases resources in reverse order of acquisition. Safe to call
// on a partially initialized application.
func (app *application) cleanup() {
	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.relay != nil {
		app.relay.Stop()
	}
	if app.notifier != nil {
		app.notifier.Wait()
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			app.logger.Error("failed to close database", slog.String("error", err.Error()))
		}
	}
}
