package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/core/port"
	"github.com/arklim/academy-sessions/internal/infra/config"
	"github.com/arklim/academy-sessions/internal/infra/database"
	kafkainfra "github.com/arklim/academy-sessions/internal/infra/kafka"
	"github.com/arklim/academy-sessions/internal/infra/logger"
	redisinfra "github.com/arklim/academy-sessions/internal/infra/redis"
	"github.com/arklim/academy-sessions/internal/infra/security"
	"github.com/arklim/academy-sessions/internal/infra/telemetry"
	"github.com/arklim/academy-sessions/internal/repository/memory"
	postgresrepo "github.com/arklim/academy-sessions/internal/repository/postgres"
	redisrepo "github.com/arklim/academy-sessions/internal/repository/redis"
	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	"github.com/arklim/academy-sessions/internal/transport/http/routes"
	"github.com/arklim/academy-sessions/internal/usecase"
)

const (
	tracerName      = "github.com/arklim/academy-sessions"
	shutdownTimeout = 10 * time.Second
)

type Application struct {
	cfg      *config.AppConfig
	engine   *gin.Engine
	logger   *zap.Logger
	manager  *usecase.SessionManager
	tracer   *telemetry.TracerProvider
	store    *postgresrepo.Store
	redis    *redisinfra.Client
	producer *kafkainfra.Producer
	consumer *kafkainfra.ConsumerGroup

	snapshotter port.BlacklistSnapshotter
	snapshots   port.BlacklistSnapshotStore
}

// revocationStack is the blacklist selected by configuration plus its optional snapshot plumbing.
type revocationStack struct {
	blacklist   port.RevocationStore
	snapshotter port.BlacklistSnapshotter
	snapshots   port.BlacklistSnapshotStore
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(cfg.App.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if cfg.App.InstanceID == "" {
		cfg.App.InstanceID = defaultInstanceID()
	}
	log = log.With(zap.String("instance_id", cfg.App.InstanceID))

	application := &Application{cfg: cfg, logger: log}
	ok := false
	defer func() {
		if !ok {
			application.release(context.Background(), false)
		}
	}()

	application.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	sessionMetrics, err := telemetry.NewSessionMetrics(telemetry.MetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init session metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	if cfg.Postgres.Enabled {
		pool, err := database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		application.store = postgresrepo.NewStore(pool)
	}

	if cfg.Redis.Enabled {
		application.redis, err = redisinfra.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}

	codec, err := newTokenCodec(cfg)
	if err != nil {
		return nil, err
	}

	revocation := application.newRevocationStack(ctx)
	application.snapshotter = revocation.snapshotter
	application.snapshots = revocation.snapshots

	var refresh port.RefreshRegistry = memory.NewRefreshRegistry()
	if application.redis != nil {
		refresh = redisrepo.NewRefreshRegistry(application.redis.Client(), cfg.Redis.RefreshPrefix)
	}

	deps := usecase.SessionManagerDeps{
		Codec:     codec,
		Blacklist: revocation.blacklist,
		Refresh:   refresh,
		Sessions:  memory.NewSessionStore(),
		Devices:   memory.NewDeviceTracker(memory.DeviceTrackerOptions{MaxDevicesPerSubject: cfg.Session.MaxDevicesPerUser}),
		Metrics:   sessionMetrics,
		Tracer:    application.tracer.Tracer(tracerName),
		Logger:    log,
	}

	if verifier := newIdentityVerifier(cfg.Identity, log); verifier != nil {
		deps.Verifier = verifier
	}
	if cfg.Identity.UseDirectory && application.store != nil {
		deps.Identity = application.store.IdentityDirectory()
	}

	if err := application.wireKafka(&deps, revocation, sessionMetrics); err != nil {
		return nil, err
	}

	manager, err := usecase.NewSessionManager(usecase.SessionManagerConfig{
		SessionTTL:            cfg.Session.SessionTTL,
		MaxSessionsPerSubject: cfg.Session.MaxSessionsPerUser,
		CleanupInterval:       cfg.Session.CleanupInterval,
		ProviderTimeout:       cfg.Session.ProviderTimeout,
		RequireVerifiedEmail:  cfg.Session.RequireVerifiedEmail,
	}, deps)
	if err != nil {
		return nil, fmt.Errorf("init session manager: %w", err)
	}
	application.manager = manager

	routeDeps := routes.Dependencies{
		Config:      cfg,
		Logger:      log,
		Manager:     manager,
		HTTPMetrics: httpMetrics,
	}
	if application.store != nil {
		routeDeps.Database = application.store
	}
	if application.redis != nil {
		routeDeps.Cache = application.redis
		rateLimitWindow := cfg.RateLimit.WindowDuration
		if rateLimitWindow <= 0 {
			rateLimitWindow = time.Minute
		}
		rateLimitStore := redisrepo.NewRateLimitRepository(application.redis.Client(), redisrepo.SlidingWindowConfig{
			KeyPrefix: "sessions:rate-limit",
			TTL:       rateLimitWindow * 2,
		})
		routeDeps.RateLimiter = middleware.NewRateLimiter(rateLimitStore, log)
	} else {
		log.Info("redis disabled, rate limiting is off")
	}

	application.engine = routes.Register(routeDeps)
	ok = true
	return application, nil
}

func newTokenCodec(cfg *config.AppConfig) (*security.TokenCodec, error) {
	accessSecret := []byte(cfg.Tokens.AccessSecret)
	refreshSecret := []byte(cfg.Tokens.RefreshSecret)
	if len(accessSecret) == 0 || len(refreshSecret) == 0 {
		var err error
		accessSecret, refreshSecret, err = security.DeriveTokenSecrets([]byte(cfg.Tokens.MasterSecret), cfg.Tokens.DerivationSalt)
		if err != nil {
			return nil, fmt.Errorf("derive token secrets: %w", err)
		}
	}

	codec, err := security.NewTokenCodec(security.CodecOptions{
		AccessSecret:  accessSecret,
		RefreshSecret: refreshSecret,
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		AccessTTL:     cfg.Session.AccessTokenTTL,
		RefreshTTL:    cfg.Session.RefreshTokenTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("init token codec: %w", err)
	}
	return codec, nil
}

// newIdentityVerifier returns nil when no provider keys are available; logins then fail with 503.
func newIdentityVerifier(cfg config.IdentitySettings, log *zap.Logger) *security.IdentityVerifier {
	provider, err := security.NewDirKeyProvider(cfg.KeyDirectory)
	if err != nil {
		log.Warn("identity provider keys unavailable, logins disabled",
			zap.String("key_directory", cfg.KeyDirectory),
			zap.Error(err),
		)
		return nil
	}

	verifier, err := security.NewIdentityVerifier(provider, security.IdentityVerifierOptions{
		Issuer:   cfg.Issuer,
		Audience: cfg.Audience,
		Leeway:   cfg.Leeway,
	})
	if err != nil {
		log.Warn("identity verifier misconfigured, logins disabled", zap.Error(err))
		return nil
	}
	return verifier
}

func (a *Application) newRevocationStack(ctx context.Context) revocationStack {
	cfg := a.cfg
	switch cfg.Revocation.Backend {
	case config.BackendRedis:
		a.logger.Info("using redis revocation store")
		return revocationStack{blacklist: redisrepo.NewRevocationRepository(a.redis.Client(), cfg.Redis.BlacklistPrefix)}
	case config.BackendPostgres:
		a.logger.Info("using postgres revocation store")
		return revocationStack{blacklist: a.store.Blacklist()}
	}

	blacklist := memory.NewBlacklist(memory.BlacklistOptions{MaxEntries: cfg.Session.BlacklistMaxEntries})
	stack := revocationStack{blacklist: blacklist, snapshotter: blacklist}
	if a.redis == nil {
		a.logger.Info("using in-memory revocation store without snapshots")
		return stack
	}

	snapshots := redisrepo.NewBlacklistSnapshotRepository(a.redis.Client(), cfg.Redis.SnapshotKey, cfg.Revocation.SnapshotTTL)
	stack.snapshots = snapshots

	snapshot, err := snapshots.LoadLatestSnapshot(ctx)
	switch {
	case err != nil:
		a.logger.Warn("load blacklist snapshot", zap.Error(err))
	case snapshot == nil:
		a.logger.Info("no blacklist snapshot to restore")
	default:
		if err := blacklist.RestoreSnapshot(ctx, *snapshot); err != nil {
			a.logger.Warn("restore blacklist snapshot", zap.Error(err))
		} else {
			a.logger.Info("blacklist snapshot restored", zap.Time("generated_at", snapshot.GeneratedAt))
		}
	}
	return stack
}

// wireKafka installs the audit sink and, for the in-memory blacklist, the peer revocation feed.
func (a *Application) wireKafka(deps *usecase.SessionManagerDeps, revocation revocationStack, metrics port.RevocationReplayMetrics) error {
	cfg := a.cfg
	if !cfg.KafkaEnabled() {
		a.logger.Info("kafka brokers not configured, using stub audit sink")
		deps.Audit = kafkainfra.NewStubAuditSink(a.logger)
		return nil
	}

	producer, err := kafkainfra.NewProducer(cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub audit sink", zap.Error(err))
		deps.Audit = kafkainfra.NewStubAuditSink(a.logger)
		return nil
	}
	a.producer = producer

	publisher := kafkainfra.NewAuditPublisher(producer, cfg.App, a.logger)
	deps.Audit = publisher
	a.logger.Info("kafka audit publisher initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	if !cfg.Revocation.Broadcast || cfg.Revocation.Backend != config.BackendMemory {
		return nil
	}
	deps.Broadcaster = publisher

	handler := kafkainfra.NewRevocationConsumer(revocation.blacklist, revocation.snapshotter, revocation.snapshots, metrics, a.logger,
		kafkainfra.RevocationConsumerOptions{
			InstanceID:       cfg.App.InstanceID,
			SnapshotInterval: cfg.Revocation.SnapshotInterval,
			MaxEventLag:      cfg.Revocation.MaxEventLag,
		})
	groupID := cfg.Kafka.ConsumerGroup + "-" + cfg.App.InstanceID
	consumer, err := kafkainfra.NewRevocationConsumerGroup(cfg.Kafka.Brokers, groupID, cfg.Kafka.TopicPrefix, handler, a.logger)
	if err != nil {
		return fmt.Errorf("init revocation consumer: %w", err)
	}
	a.consumer = consumer
	return nil
}

func (a *Application) Run(ctx context.Context) error {
	defer func() {
		_ = a.logger.Sync()
	}()

	if err := a.manager.Start(ctx); err != nil {
		a.release(context.Background(), false)
		return fmt.Errorf("start session manager: %w", err)
	}

	if a.consumer != nil {
		go func() {
			if err := a.consumer.Run(ctx); err != nil {
				a.logger.Error("revocation consumer stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting session API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
		zap.String("revocation_backend", a.cfg.Revocation.Backend),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErrCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown server: %w", err)
	}
	a.release(shutdownCtx, true)
	return runErr
}

// release stops background work and closes connections. persist writes a final blacklist snapshot.
func (a *Application) release(ctx context.Context, persist bool) {
	if a.manager != nil {
		if err := a.manager.Shutdown(ctx); err != nil {
			a.logger.Warn("stop session manager", zap.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Warn("close revocation consumer", zap.Error(err))
		}
	}
	if persist {
		a.persistSnapshot(ctx)
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
	}
}

func (a *Application) persistSnapshot(ctx context.Context) {
	if a.snapshotter == nil || a.snapshots == nil {
		return
	}
	snapshot, err := a.snapshotter.Snapshot(ctx)
	if err != nil || snapshot == nil {
		a.logger.Warn("snapshot blacklist on shutdown", zap.Error(err))
		return
	}
	if err := a.snapshots.SaveSnapshot(ctx, *snapshot); err != nil {
		a.logger.Warn("save blacklist snapshot on shutdown", zap.Error(err))
		return
	}
	a.logger.Info("blacklist snapshot saved", zap.String("snapshot_id", snapshot.SnapshotID))
}

func defaultInstanceID() string {
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return uuid.NewString()
}
