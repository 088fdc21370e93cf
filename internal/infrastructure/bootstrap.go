package infrastructure

import (
	"context"

	"pagcore/internal/config"
	"pagcore/internal/rail"
	"pagcore/internal/repository"
	"pagcore/internal/scheduler"
	"pagcore/internal/service"
	transportHTTP "pagcore/internal/transport/http"
	transportNATS "pagcore/internal/transport/nats"
	"pagcore/internal/webhook"
	"pagcore/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	store := repository.NewStore(db)
	cache := repository.NewIdemCache(rdb)
	bus := transportNATS.NewBus(nc)

	var gateway rail.Gateway
	switch cfg.RailProvider {
	case "celcoin":
		gateway = rail.NewCelcoinGateway(cfg.CelcoinBaseURL, cfg.CelcoinClientID, cfg.CelcoinClientKey)
	default:
		gateway = rail.NewLoopback(bus)
	}

	core := service.NewCore(store, cache, gateway)

	servers := []Server{
		transportNATS.NewHandler(core, nc),
		worker.NewOutboxRelay(store, bus),
		worker.NewEventWorker(store, core, nc, cfg.WebhookMaxAttempts),
		transportHTTP.NewServer(cfg.ApiAddr(), core, store),
	}
	if cfg.SchedulerEnabled {
		servers = append(servers, scheduler.New(store, core, scheduler.Config{
			RailTimeout: cfg.RailTimeout,
		}))
	}
	if cfg.DispatcherEnabled {
		servers = append(servers, webhook.NewDispatcher(store, webhook.Config{
			BaseBackoff: cfg.WebhookBaseBackoff,
		}))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
