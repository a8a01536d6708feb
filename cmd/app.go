package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/fjod/go_cart/ordering-service/internal/cart"
	"github.com/fjod/go_cart/ordering-service/internal/config"
	"github.com/fjod/go_cart/ordering-service/internal/ledger"
	"github.com/fjod/go_cart/ordering-service/internal/menu"
	"github.com/fjod/go_cart/ordering-service/internal/pos"
	"github.com/fjod/go_cart/ordering-service/internal/publisher"
	"github.com/fjod/go_cart/ordering-service/internal/workflow"
	"github.com/fjod/go_cart/ordering-service/pkg/logger"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	log    *slog.Logger
	ledger *ledger.SQLLedger
	pos    *pos.Client
	menu   *menu.Cache
	carts  *cart.Service
	engine *workflow.Engine

	closers []func() error
}

func loadConfig(opts *rootOptions) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	log := logger.New(logger.Options{Service: cfg.Service, Level: cfg.LogLevel})
	slog.SetDefault(log)

	// Incoming and POS requests carry W3C trace context.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return cfg, log, nil
}

func openLedger(ctx context.Context, cfg *config.Config, log *slog.Logger) (*ledger.SQLLedger, error) {
	l, err := ledger.Open(ctx, ledger.Dialect(cfg.Ledger.Dialect), cfg.Ledger.DSN)
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		l.Close()
		return nil, err
	}
	log.Info("order ledger ready", slog.String("dialect", cfg.Ledger.Dialect))
	return l, nil
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.ledger, err = openLedger(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.ledger.Close)

	a.pos = pos.NewClient(pos.Config{
		BaseURL:            cfg.POS.BaseURL,
		APILogin:           cfg.POS.APILogin,
		OrganizationID:     cfg.POS.OrganizationID,
		TokenTTL:           cfg.POS.TokenTTL,
		RefreshMargin:      cfg.POS.RefreshMargin,
		DialTimeout:        cfg.POS.DialTimeout,
		ResponseTimeout:    cfg.POS.ResponseTimeout,
		CallTimeout:        cfg.POS.CallTimeout,
		BreakerFailures:    cfg.POS.BreakerFailures,
		BreakerOpenTimeout: cfg.POS.BreakerOpenTimeout,
	}, log)

	var redisClient *redis.Client
	if cfg.Menu.Persist || cfg.Cart.Cache {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, redisClient.Close)
		if err = redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		log.Info("redis ping succeeded", slog.String("addr", cfg.Redis.Addr))
	}

	var snapshots menu.SnapshotStore
	if cfg.Menu.Persist {
		snapshots = menu.NewRedisStore(redisClient)
	}
	a.menu = menu.NewCache(a.pos, snapshots, log)

	repo, err := a.cartRepository(ctx)
	if err != nil {
		return nil, err
	}
	var cartCache cart.Cache
	if cfg.Cart.Cache {
		cartCache = cart.NewRedisCache(redisClient)
	}
	a.carts = cart.NewService(repo, cartCache, a.menu, cfg.Menu.MaxAge, log)

	a.engine = workflow.NewEngine(a.carts, a.pos, a.ledger, workflow.Options{
		SubmitTimeout: cfg.Workflow.SubmitTimeout,
		FinishTimeout: config.SubmitFinishTimeout,
	}, log)
	return a, nil
}

func (a *app) cartRepository(ctx context.Context) (cart.Repository, error) {
	if a.cfg.Cart.Store != "mongo" {
		return cart.NewMemoryRepository(), nil
	}

	db, err := cart.ConnectMongoDB(ctx, a.cfg.Cart.MongoURI, a.cfg.Cart.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return db.Client().Disconnect(context.Background())
	})

	repo := cart.NewMongoRepository(db, a.cfg.Cart.Retention)
	if err := repo.CreateIndexes(ctx); err != nil {
		return nil, err
	}
	a.log.Info("connected to MongoDB", slog.String("database", a.cfg.Cart.MongoDB))
	return repo, nil
}

func (a *app) newSink() (publisher.Sink, error) {
	switch a.cfg.Publisher.Sink {
	case "kafka":
		return publisher.NewKafkaSink(a.cfg.Publisher.KafkaTopic, a.cfg.Publisher.KafkaBrokers...), nil
	case "rabbitmq":
		return publisher.DialRabbit(a.cfg.Publisher.RabbitURL, a.cfg.Publisher.RabbitExchange)
	default:
		return publisher.NewLogSink(a.log), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
