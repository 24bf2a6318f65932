// Command gatehoused runs the gatehouse API daemon.
package main

import (
	"context"
	"fmt"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gatehouse-io/gatehouse"
	"github.com/gatehouse-io/gatehouse/authorization"
	"github.com/gatehouse-io/gatehouse/cache"
	gatehousehttp "github.com/gatehouse-io/gatehouse/http"
	"github.com/gatehouse-io/gatehouse/idempotency"
	"github.com/gatehouse-io/gatehouse/jsonweb"
	"github.com/gatehouse-io/gatehouse/kit/cli"
	"github.com/gatehouse-io/gatehouse/ratelimit"
	"github.com/gatehouse-io/gatehouse/rules"
	"github.com/gatehouse-io/gatehouse/tenant"
)

type options struct {
	listenAddr     string
	logLevel       string
	redisAddr      string
	postgresDSN    string
	jwtSecret      string
	bootstrapAdmin string

	globalLimit  int64
	globalWindow time.Duration
	tenantLimit  int64
	tenantWindow time.Duration
	userLimit    int64
	userWindow   time.Duration
	ipLimit      int64
	ipWindow     time.Duration
}

func main() {
	var opts options

	prog := &cli.Program{
		Name: "gatehoused",
		Run:  func() error { return run(&opts) },
		Opts: []cli.Opt{
			cli.NewOpt(&opts.listenAddr, "listen-addr", ":8086", "address the api server listens on"),
			cli.NewOpt(&opts.logLevel, "log-level", "info", "supported log levels are debug, info, warn and error"),
			cli.NewOpt(&opts.redisAddr, "redis-addr", "", "redis address for counters and caching; empty uses in-process stores"),
			cli.NewOpt(&opts.postgresDSN, "postgres-dsn", "", "postgres DSN for the grant store; empty uses an in-process store"),
			cli.NewOpt(&opts.jwtSecret, "jwt-secret", "", "HMAC secret verifying principal tokens; empty disables authentication"),
			cli.NewOpt(&opts.bootstrapAdmin, "bootstrap-admin", "", "user id seeded with the Admin grant at startup; empty skips seeding"),
			cli.NewOpt(&opts.globalLimit, "ratelimit-global", int64(0), "global requests per window; 0 disables"),
			cli.NewOpt(&opts.globalWindow, "ratelimit-global-window", time.Minute, "global rate limit window"),
			cli.NewOpt(&opts.tenantLimit, "ratelimit-tenant", int64(0), "per-tenant requests per window; 0 disables"),
			cli.NewOpt(&opts.tenantWindow, "ratelimit-tenant-window", time.Minute, "per-tenant rate limit window"),
			cli.NewOpt(&opts.userLimit, "ratelimit-user", int64(0), "per-user requests per window; 0 disables"),
			cli.NewOpt(&opts.userWindow, "ratelimit-user-window", time.Minute, "per-user rate limit window"),
			cli.NewOpt(&opts.ipLimit, "ratelimit-ip", int64(0), "per-ip requests per window; 0 disables"),
			cli.NewOpt(&opts.ipWindow, "ratelimit-ip-window", time.Minute, "per-ip rate limit window"),
		},
	}

	cmd := cli.NewCommand(prog)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unsupported log level %q: %w", level, err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func policies(opts *options) []gatehouse.RateLimitPolicy {
	return []gatehouse.RateLimitPolicy{
		{Scope: gatehouse.ScopeGlobal, Limit: opts.globalLimit, Window: opts.globalWindow, Enabled: opts.globalLimit > 0},
		{Scope: gatehouse.ScopeTenant, Limit: opts.tenantLimit, Window: opts.tenantWindow, Enabled: opts.tenantLimit > 0},
		{Scope: gatehouse.ScopeUser, Limit: opts.userLimit, Window: opts.userWindow, Enabled: opts.userLimit > 0},
		{Scope: gatehouse.ScopeIP, Limit: opts.ipLimit, Window: opts.ipWindow, Enabled: opts.ipLimit > 0},
	}
}

func run(opts *options) error {
	log, err := newLogger(opts.logLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	health := make(map[string]gatehousehttp.HealthCheck)

	var (
		counterStore ratelimit.CounterStore
		cacheStore   gatehouse.CacheStore
	)
	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		counterStore = ratelimit.NewRedisCounterStore(client)
		cacheStore = cache.NewRedisStore(client)
		health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		log.Info("using redis stores", zap.String("addr", opts.redisAddr))
	} else {
		counterStore = ratelimit.NewInmemCounterStore()
		cacheStore = cache.NewInmemStore()
		log.Warn("using in-process counter and cache stores; counters are not shared across instances")
	}

	var grantStore gatehouse.GrantStore
	if opts.postgresDSN != "" {
		pool, err := pgxpool.New(ctx, opts.postgresDSN)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		defer pool.Close()

		pgStore := authorization.NewPGGrantStore(pool)
		if err := pgStore.Migrate(ctx); err != nil {
			return fmt.Errorf("migrating grant store: %w", err)
		}
		grantStore = pgStore
		health["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
		log.Info("using postgres grant store")
	} else {
		grantStore = authorization.NewInmemGrantStore()
		log.Warn("using in-process grant store; grants do not survive restarts")
	}

	// The grants API only admits existing admins, so the very first admin
	// has to come from outside the API.
	if opts.bootstrapAdmin != "" {
		id, err := uuid.Parse(opts.bootstrapAdmin)
		if err != nil {
			return fmt.Errorf("invalid bootstrap-admin user id: %w", err)
		}
		if err := grantStore.Assign(ctx, gatehouse.Grant{UserID: id, Rule: gatehouse.AdminRule, Level: gatehouse.LevelEdit}); err != nil {
			return fmt.Errorf("seeding admin grant: %w", err)
		}
		log.Info("seeded admin grant", zap.String("user_id", id.String()))
	}

	limiter := ratelimit.NewLimiter(counterStore, log.With(zap.String("service", "ratelimit")))
	evaluator, err := ratelimit.NewEvaluator(limiter, policies(opts), ratelimit.NewMetrics(reg), log)
	if err != nil {
		return err
	}

	responseCache := cache.NewService(cacheStore, cache.NewMetrics(reg), log.With(zap.String("service", "cache")))

	var permissionService gatehouse.PermissionService
	permissionService = authorization.NewService(grantStore, cacheStore, log.With(zap.String("service", "authorization")))
	permissionService = authorization.NewAuthLogger(log.With(zap.String("service", "authorization")), permissionService)

	idempotencyService := idempotency.NewService(cacheStore, log.With(zap.String("service", "idempotency")))

	var parser *jsonweb.TokenParser
	if opts.jwtSecret != "" {
		parser = jsonweb.NewTokenParser(jsonweb.SingleKeyStore([]byte(opts.jwtSecret)))
	} else {
		log.Warn("token authentication disabled; requests are anonymous")
	}

	pipeline := gatehousehttp.NewPipeline(log, evaluator, permissionService, responseCache, idempotencyService)
	server := gatehousehttp.NewServer(log, pipeline, parser, tenant.NewResolver(log), reg, health)

	ruleHandler := rules.NewHTTPRuleHandler(log.With(zap.String("handler", "rules")), rules.NewService())
	if err := server.Register(ruleHandler.Routes()...); err != nil {
		return err
	}

	grantHandler := authorization.NewHTTPGrantHandler(log.With(zap.String("handler", "grants")), permissionService)
	if err := server.Register(grantHandler.Routes()...); err != nil {
		return err
	}

	srv := &nethttp.Server{
		Addr:    opts.listenAddr,
		Handler: server,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", opts.listenAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}
