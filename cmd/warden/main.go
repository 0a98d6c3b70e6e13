package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/warden/pkg/accessreq"
	"github.com/platinummonkey/warden/pkg/api"
	"github.com/platinummonkey/warden/pkg/audit"
	"github.com/platinummonkey/warden/pkg/authz"
	"github.com/platinummonkey/warden/pkg/config"
	"github.com/platinummonkey/warden/pkg/hierarchy"
	"github.com/platinummonkey/warden/pkg/middleware"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/registry"
	"github.com/platinummonkey/warden/pkg/storage/postgres"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx := context.Background()

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to initialize OpenTelemetry")
		os.Exit(1)
	}

	connections, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: cfg.Database.ReplicaURLs,
		MaxConns:    cfg.Database.MaxOpenConns,
		MinConns:    cfg.Database.MaxIdleConns,
		MaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.WithError(err).Error("failed to connect to database")
		os.Exit(1)
	}

	if err := postgres.RunMigrations(ctx, connections.Primary(), logger); err != nil {
		logger.WithError(err).Error("failed to run migrations")
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = postgres.NewRedisClient(cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		logger.Info("redis connected, shared caching enabled")
	} else {
		logger.Warn("redis not configured, running with in-process caches only")
	}

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	nodes := postgres.NewNodeStore(connections.Primary())
	nodeCache := hierarchy.NewCachedStore(nodes, hierarchy.CacheConfig{
		MaxEntries: cfg.Cache.NodeCacheEntries,
		TTL:        cfg.Cache.NodeCacheTTL,
	}, metrics)

	acls := postgres.NewACLStore(connections.Primary())
	var aclStore authz.ACLStore = acls
	if redisClient != nil {
		aclStore = postgres.NewCachedACLStore(acls, redisClient, cfg.Cache.ACLCacheTTL, logger, metrics)
	}

	// Child visibility is a pure read and tolerates replica lag.
	childLister := postgres.NewACLStore(connections.Replica())

	requirements := postgres.NewRequirementStore(connections.Primary())
	gate := accessreq.NewGate(requirements, nodeCache, logger, metrics)

	evaluator := authz.NewEvaluator(nodeCache, aclStore, gate, logger,
		authz.WithMetrics(metrics),
		authz.WithCertifiedGate(cfg.Authz.CertifiedGateEnabled),
		authz.WithTrashFolder(cfg.Authz.TrashRootNodeID),
	)
	aclManager := authz.NewACLManager(nodeCache, aclStore, evaluator, logger)

	auditLogger, err := audit.NewDBLogger(connections.Primary())
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit log")
		os.Exit(1)
	}

	dockerRepos := postgres.NewDockerStore(connections.Primary(), nodes)
	events := postgres.NewEventStore(connections.Primary())
	scopeResolver := registry.NewScopeResolver(dockerRepos, evaluator, logger, metrics)
	eventProcessor := registry.NewEventProcessor(events, dockerRepos, redisClient, logger, metrics)

	apiLogger := logrus.New()
	apiLogger.SetFormatter(&logrus.JSONFormatter{})

	server := api.NewServer(api.Dependencies{
		Evaluator:        evaluator,
		ACLManager:       aclManager,
		Hierarchy:        nodeCache,
		ChildrenLister:   childLister,
		Gate:             gate,
		RequirementStore: requirements,
		ScopeResolver:    scopeResolver,
		EventProcessor:   eventProcessor,
		Audit:            auditLogger,
	}, apiLogger)

	router := server.Router()
	router.Use(routeMetrics(metrics))

	var handler http.Handler = router
	handler = middleware.NewPrincipalMiddleware(logger).Handler(handler)
	if redisClient != nil {
		handler = middleware.NewRateLimitMiddleware(redisClient, logger).Handler(handler)
	}
	handler = middleware.RequestLogger(logger)(handler)
	handler = middleware.RequestID(handler)
	if providers != nil {
		handler = otelhttp.NewHandler(handler, "warden")
	}

	mainServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(connections.Primary(), redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", metrics.Handler())
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Registry.PurgeSchedule, func() {
		defer observability.RecoverPanic(logger, "event purge")
		cutoff := time.Now().UTC().Add(-cfg.Registry.EventRetention)
		purged, err := events.PurgeOlderThan(context.Background(), cutoff)
		if err != nil {
			logger.WithError(err).Error("registry event purge failed")
			return
		}
		logger.WithField("purged", purged).Info("registry event purge complete")
	})
	if err != nil {
		logger.WithError(err).Errorf("invalid purge schedule %q", cfg.Registry.PurgeSchedule)
		os.Exit(1)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, mainServer, cfg.Server.ShutdownTimeout)
	shutdown.Register(healthServer.Shutdown)
	shutdown.Register(func(ctx context.Context) error {
		stopped := scheduler.Stop()
		select {
		case <-stopped.Done():
		case <-ctx.Done():
		}
		return nil
	})
	shutdown.Register(func(ctx context.Context) error { return auditLogger.Close() })
	if redisClient != nil {
		shutdown.Register(func(ctx context.Context) error { return redisClient.Close() })
	}
	shutdown.Register(func(ctx context.Context) error { return connections.Close() })
	if providers != nil {
		shutdown.Register(providers.Shutdown)
	}

	poolStatsDone := make(chan struct{})
	shutdown.Register(func(ctx context.Context) error {
		close(poolStatsDone)
		return nil
	})
	go connections.EmitPoolStats(metrics, 15*time.Second, poolStatsDone)

	group, _ := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Infof("warden listening on %s", mainServer.Addr)
		if err := mainServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Infof("health and metrics on %s", healthServer.Addr)
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(shutdown.Wait)

	if err := group.Wait(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}

// routeMetrics labels request metrics with the registered route template so
// path cardinality stays bounded.
func routeMetrics(metrics *observability.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			path := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if template, err := route.GetPathTemplate(); err == nil {
					path = template
				}
			}
			metrics.InstrumentHandler(path, next).ServeHTTP(w, r)
		})
	}
}
