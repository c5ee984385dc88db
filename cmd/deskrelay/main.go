package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deskrelay/deskrelay/pkg/api"
	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/config"
	"github.com/deskrelay/deskrelay/pkg/directory"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
	"github.com/deskrelay/deskrelay/pkg/requester"
	"github.com/deskrelay/deskrelay/pkg/session"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	logger.Info("starting deskrelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	var otelProviders *observability.OTelProviders
	if cfg.Observability.OTelEnabled {
		otelProviders, err = observability.InitOTel(ctx, observability.OTelConfig{
			Enabled:        true,
			Endpoint:       cfg.Observability.OTelEndpoint,
			ServiceName:    cfg.Observability.OTelServiceName,
			ServiceVersion: cfg.Observability.OTelServiceVersion,
			Insecure:       cfg.Observability.OTelInsecure,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("failed to initialize OpenTelemetry")
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			observability.ShutdownOTel(shutdownCtx, otelProviders, logger)
		}()
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.WithError(err).Error("failed to open database")
		os.Exit(1)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		logger.WithError(err).Error("failed to ping database")
		os.Exit(1)
	}

	dbRecorder, err := audit.NewDBRecorder(db, cfg.Database.Driver)
	if err != nil {
		logger.WithError(err).Error("failed to initialize audit trail")
		os.Exit(1)
	}
	recorder := audit.NewBestEffort(dbRecorder, logger, metrics)

	var sessions session.Store
	if cfg.Session.RedisURL != "" {
		redisStore, err := session.NewRedisStoreFromURL(ctx, cfg.Session.RedisURL, cfg.Session.TTL)
		if err != nil {
			logger.WithError(err).Error("failed to connect to redis")
			os.Exit(1)
		}
		defer redisStore.Close()
		go resyncSessionGauge(ctx, redisStore, metrics, logger)
		sessions = redisStore
		logger.Info("using redis session store")
	} else {
		memStore := session.NewMemoryStore(cfg.Session.TTL)
		go sweepSessions(ctx, memStore, metrics, logger)
		sessions = memStore
		logger.Info("using in-memory session store")
	}

	pending := session.NewPendingAuthorizations(session.DefaultPendingTTL)
	go sweepPending(ctx, pending)

	authenticator, err := directory.NewLDAPAuthenticator(directory.Config{
		URL:     cfg.Directory.URL,
		BaseDN:  cfg.Directory.BaseDN,
		Timeout: cfg.Directory.Timeout,
	})
	if err != nil {
		logger.WithError(err).Error("failed to configure directory authenticator")
		os.Exit(1)
	}

	tokens, err := oauth.NewManager(oauth.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		RedirectURL:  cfg.OAuth.RedirectURL,
		Scopes:       cfg.OAuth.Scopes,
		Timeout:      cfg.OAuth.Timeout,
	})
	if err != nil {
		logger.WithError(err).Error("failed to configure OAuth manager")
		os.Exit(1)
	}

	localStore, err := requester.NewLocalStore(db, cfg.Database.Driver)
	if err != nil {
		logger.WithError(err).Error("failed to initialize requester store")
		os.Exit(1)
	}
	searchClient := requester.NewSearchClient(requester.SearchConfig{
		BaseURL:  cfg.Search.BaseURL,
		Timeout:  cfg.Search.Timeout,
		CacheTTL: cfg.Search.CacheTTL,
	}, metrics)
	remoteClient := requester.NewRemoteClient(requester.RemoteConfig{
		BaseURL: cfg.Ticketing.BaseURL,
		Timeout: cfg.Ticketing.Timeout,
	}, metrics)
	gateway := requester.NewGateway(localStore, searchClient, remoteClient, tokens, recorder, logger)

	metricsRegistry := registry
	if !cfg.Observability.MetricsEnabled {
		metricsRegistry = nil
	}
	server := api.NewServer(api.Options{
		Logger:        logger,
		Authenticator: authenticator,
		Sessions:      sessions,
		Pending:       pending,
		Tokens:        tokens,
		Gateway:       gateway,
		Recorder:      recorder,
		AuditLog:      dbRecorder,
		Metrics:       metrics,
		Registry:      metricsRegistry,
		FrontendURL:   cfg.OAuth.FrontendURL,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", httpServer.Addr).Info("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("server failed")
			cancel()
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
		logger.Info("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
		os.Exit(1)
	}
	logger.Info("stopped")
}

// sweepSessions evicts expired sessions so the in-memory store does not
// grow without bound under abandoned logins. The active-sessions gauge
// is reduced by the eviction count so lapsed sessions do not inflate it.
func sweepSessions(ctx context.Context, store *session.MemoryStore, metrics *observability.Metrics, logger *observability.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := store.Sweep(ctx); evicted > 0 {
				metrics.SessionsActive.Sub(float64(evicted))
				logger.WithField("evicted", evicted).Debug("swept expired sessions")
			}
		}
	}
}

// resyncSessionGauge periodically sets the active-sessions gauge from a
// Redis key count. Redis expires sessions server-side, so without the
// resync, sessions that lapse without a logout never leave the gauge.
func resyncSessionGauge(ctx context.Context, store *session.RedisStore, metrics *observability.Metrics, logger *observability.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := store.Count(ctx)
			if err != nil {
				logger.WithError(err).Warn("failed to count sessions")
				continue
			}
			metrics.SessionsActive.Set(float64(count))
		}
	}
}

func sweepPending(ctx context.Context, pending *session.PendingAuthorizations) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending.Sweep()
		}
	}
}
