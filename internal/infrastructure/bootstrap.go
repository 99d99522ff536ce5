package infrastructure

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sproutxp/internal/auth"
	"sproutxp/internal/config"
	"sproutxp/internal/repository"
	"sproutxp/internal/service"
	transportGRPC "sproutxp/internal/transport/grpc"
	transportHTTP "sproutxp/internal/transport/http"
	transportNATS "sproutxp/internal/transport/nats"
	"sproutxp/internal/worker"
)

// Bootstrap initialises all dependencies from cfg and wires up the application.
// Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context, cfg *config.Config) (*App, func(), error) {
	db, err := connectPostgres(cfg.DSN(), cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr(), cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	// ── Bus ────────────────────────────────────────────────────────────────────
	var (
		bus repository.MessageBus = repository.NopBus{}
		nc  *nats.Conn
	)
	if cfg.BusProvider == "nats" {
		nc, err = connectNats(cfg.NatsURL)
		if err != nil {
			return nil, runCleanup(cleanupFns), err
		}
		// Registered after the stores, so it runs first and in-flight handlers can finish.
		cleanupFns = append(cleanupFns, func() { _ = nc.Drain() })
		bus = transportNATS.NewBus(nc)
	}

	// ── Repositories ───────────────────────────────────────────────────────────
	auditRepo := repository.NewAuditRepo(db)
	var auditSink service.AuditSink = auditRepo
	if cfg.AuditSink == "bus" {
		auditSink = repository.NewBusAuditSink(bus)
	}

	rateLimiter := repository.NewRateLimitRepo(db, cfg.RateLimitRequests, cfg.RateLimitWindow)

	pool, err := worker.NewPool(cfg.WorkerPoolSize)
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}

	svc := service.NewXP(service.Deps{
		Ledger:     repository.NewXPRepo(db, rdb, repository.LedgerMode(cfg.LedgerMode), cfg.XPCacheTTL),
		Limiter:    rateLimiter,
		Plants:     repository.NewPlantRepo(db),
		Audit:      auditSink,
		Dispatcher: pool,
		Sessions:   repository.NewSessionStore(rdb, cfg.SessionTTL),
		Bus:        bus,
	})

	// ── Servers ────────────────────────────────────────────────────────────────
	var servers []Server

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
		servers = append(servers, transportHTTP.NewServer(addr, svc, verifier, transportHTTP.Options{
			AllowedOrigins: cfg.AllowedOrigins,
			MaxBodyBytes:   cfg.MaxBodyBytes,
		}))
	} else {
		slog.Info("HTTP API disabled", "reason", apiErr)
	}

	servers = append(servers, transportGRPC.NewServer(cfg.GRPCAddr(), map[string]transportGRPC.Pinger{
		"postgres": db,
		"redis":    redisPinger{rdb: rdb},
	}))

	if nc != nil {
		servers = append(servers,
			transportNATS.NewHandler(svc, nc),
			worker.NewAuditWorker(auditRepo, nc),
		)
	}

	if cfg.RetentionSchedule != "" {
		servers = append(servers, worker.NewRetentionSweeper(rateLimiter, cfg.RetentionSchedule, cfg.RetentionMaxAge))
	}

	// Stopped last so audit tasks submitted by the transports above can drain.
	servers = append(servers, pool)

	slog.Info("application wired",
		"bus", cfg.BusProvider,
		"ledger_mode", cfg.LedgerMode,
		"audit_sink", cfg.AuditSink,
		"servers", len(servers),
	)

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
