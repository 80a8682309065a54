package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-booking/internal/booking"
	"github.com/noah-isme/backend-booking/internal/config"
	"github.com/noah-isme/backend-booking/internal/events"
	"github.com/noah-isme/backend-booking/internal/lock"
	"github.com/noah-isme/backend-booking/internal/obs"
	"github.com/noah-isme/backend-booking/internal/payment"
	"github.com/noah-isme/backend-booking/internal/resilience"
)

// Options tunes how shared dependencies are opened per process.
type Options struct {
	ApplicationName string
	RedisMetrics    bool
}

// Dependencies enumerates the clients shared by the API and the worker.
type Dependencies struct {
	Config     *config.Config
	Logger     zerolog.Logger
	DB         *pgxpool.Pool
	Redis      *redis.Client
	Bookings   booking.Store
	Events     *events.Bus
	Locker     lock.Locker
	URWAY      payment.URWAYClient
	ARB        payment.ARBClient
	Reconciler payment.Reconciler
}

// New opens Postgres and Redis and assembles the payment collaborators.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, error) {
	pool, err := openDatabase(ctx, cfg, opts.ApplicationName)
	if err != nil {
		return nil, err
	}
	rdb, err := openRedis(ctx, cfg, opts.RedisMetrics, logger)
	if err != nil {
		pool.Close()
		return nil, err
	}

	d := &Dependencies{
		Config:   cfg,
		Logger:   logger,
		DB:       pool,
		Redis:    rdb,
		Bookings: booking.Store{DB: pool},
		Events: &events.Bus{
			Store:     events.PGStore{DB: pool},
			Notifiers: []events.Notifier{events.LogNotifier{Logger: obs.Component(logger, "events")}},
		},
		Locker: lock.Locker{R: rdb, Prefix: "booking:lock:", RetryBackoff: cfg.LockRetryBackoff},
	}
	d.URWAY, d.ARB = GatewayClients(cfg, logger)
	d.Reconciler = payment.Reconciler{
		Bookings:       d.Bookings,
		Events:         d.Events,
		URWAYSecretKey: cfg.URWAY.SecretKey,
		Logger:         obs.Component(logger, "reconciler"),
	}
	return d, nil
}

// Service builds the payment service. followUp may be nil.
func (d *Dependencies) Service(followUp payment.FollowUpScheduler) *payment.Service {
	return &payment.Service{
		URWAY:      d.URWAY,
		ARB:        d.ARB,
		Inquirer:   d.URWAY,
		Reconciler: d.Reconciler,
		Locker:     d.Locker,
		LockTTL:    d.Config.LockTTL,
		Events:     d.Events,
		FollowUp:   followUp,
		Logger:     obs.Component(d.Logger, "payment"),
	}
}

// Diagnostics reports both gateway configurations without secrets.
func (d *Dependencies) Diagnostics() payment.Diagnostics {
	return payment.Diagnostics{URWAY: d.URWAY.DiagnosticInfo(), ARB: d.ARB.DiagnosticInfo()}
}

// Close releases Redis and Postgres.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error().Err(err).Msg("close redis")
		}
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// GatewayClients builds the URWAY and ARB clients, each behind its own
// circuit breaker. Purchases are not retried.
func GatewayClients(cfg *config.Config, logger zerolog.Logger) (payment.URWAYClient, payment.ARBClient) {
	httpClient := resilience.NewInstrumentedClient(cfg.Payment.VendorTimeout)
	doer := func(target string) resilience.HTTPClient {
		return resilience.HTTPClient{
			Client: httpClient,
			Breaker: resilience.NewBreaker(cfg.Payment.CircuitMinRequests, cfg.Payment.CircuitFailureRatio, cfg.Payment.CircuitOpenFor).
				WithTarget(target).
				WithLogger(logger),
			MaxAttempts: 1,
			Timeout:     cfg.Payment.VendorTimeout,
		}
	}
	urway := payment.URWAYClient{
		Config:      cfg.URWAY,
		Environment: cfg.Payment.Environment,
		HTTP:        doer(payment.VendorURWAY),
		Logger:      obs.Component(logger, "urway"),
		DebugHashes: cfg.Payment.DebugHashes && !cfg.IsProduction(),
	}
	arb := payment.ARBClient{
		Config:      cfg.ARB,
		Environment: cfg.Payment.Environment,
		HTTP:        doer(payment.VendorARB),
		Logger:      obs.Component(logger, "arb"),
	}
	return urway, arb
}

func openDatabase(ctx context.Context, cfg *config.Config, appName string) (*pgxpool.Pool, error) {
	if cfg.DBAutoMigrate {
		if err := booking.Migrate(cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse database config: %w", err)
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	if appName != "" {
		poolConfig.ConnConfig.RuntimeParams["application_name"] = appName
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("app: connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("app: ping database: %w", err)
	}
	return pool, nil
}

func openRedis(ctx context.Context, cfg *config.Config, metrics bool, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("app: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if metrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: ping redis: %w", err)
	}
	return client, nil
}
