package cli

import (
	"context"
	"time"

	"saldo/internal/amqp"
	"saldo/internal/cache"
	"saldo/internal/config"
	"saldo/internal/feed"
	applog "saldo/internal/log"
	"saldo/internal/observability"
	"saldo/internal/services"
	"saldo/internal/storage"
)

// App is the object graph shared by the API server and the worker.
type App struct {
	Repo     *storage.SQLiteRepository
	AMQP     *amqp.Client
	Broker   *feed.Broker
	Metrics  *observability.Metrics
	Caches   *cache.Manager
	Groups   *services.GroupService
	Expenses *services.ExpenseService
	Users    *services.UserService
	Balances *services.BalanceService
}

// BuildApp wires storage, messaging, caches and services. The AMQP client is
// optional: without AMQP_URL, or when the broker is unreachable at start,
// changes only reach subscribers in this process.
func BuildApp(logger *applog.Logger, cfg *config.Config, repo *storage.SQLiteRepository) *App {
	app := &App{
		Repo:    repo,
		Broker:  feed.NewBroker(),
		Metrics: observability.NewMetrics(),
		Caches:  cache.NewManager(),
	}

	var publisher services.ChangePublisher
	if cfg.AMQPEnabled() {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, change messages stay in-process", applog.FieldError, err)
		} else {
			app.AMQP = client
			publisher = client
			logger.Info("AMQP client connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	notifier := services.NewNotifier(app.Broker, publisher)
	names := cache.NewLRUCache[string](cfg.NameCacheSize, cfg.NameCacheTTL)
	app.Caches.Register(names)
	app.Caches.StartCleanup(cfg.NameCacheTTL)

	app.Users = services.NewUserService(repo, names, notifier)
	app.Groups = services.NewGroupService(repo, notifier)
	app.Expenses = services.NewExpenseService(repo, repo, notifier)

	loader := feed.NewLoader(repo, app.Users)
	f := feed.New(loader, app.Broker, feed.Config{Debounce: cfg.FeedDebounce, MaxWait: cfg.FeedMaxWait})
	app.Balances = services.NewBalanceService(loader, f, app.Metrics)
	return app
}

// Close releases what BuildApp opened, except the repository.
func (a *App) Close(ctx context.Context) {
	a.Caches.Stop()
	if a.AMQP != nil {
		if err := a.AMQP.Close(); err != nil {
			applog.FromContext(ctx).Warn("Failed to close AMQP client", applog.FieldError, err)
		}
	}
}

// ShutdownTimeout bounds graceful shutdown in both binaries.
const ShutdownTimeout = 30 * time.Second
