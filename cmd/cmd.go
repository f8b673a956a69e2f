package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anicoll/relay-bridge/internal/pkg/bridge"
	"github.com/anicoll/relay-bridge/internal/pkg/config"
	"github.com/anicoll/relay-bridge/internal/pkg/contxt"
	"github.com/anicoll/relay-bridge/internal/pkg/database"
	"github.com/anicoll/relay-bridge/internal/pkg/database/migration"
	"github.com/anicoll/relay-bridge/internal/pkg/hub"
	"github.com/anicoll/relay-bridge/internal/pkg/influx"
	"github.com/anicoll/relay-bridge/internal/pkg/mqtt"
	"github.com/anicoll/relay-bridge/internal/pkg/pending"
	"github.com/anicoll/relay-bridge/internal/pkg/publisher"
	"github.com/anicoll/relay-bridge/internal/pkg/registry"
	"github.com/anicoll/relay-bridge/internal/pkg/router"
	"github.com/anicoll/relay-bridge/internal/pkg/schema"
	"github.com/anicoll/relay-bridge/internal/pkg/server"
	"github.com/anicoll/relay-bridge/internal/pkg/statecache"
	"github.com/anicoll/relay-bridge/internal/pkg/storage"
	"github.com/anicoll/relay-bridge/pkg/sockets"
)

const (
	shutdownTimeout   = 5 * time.Second
	minWriteTimeout   = 15 * time.Second
	writeTimeoutSlack = 5 * time.Second
)

var errCron = errors.New("cron error")

func ServeCommand(ctx *cli.Context) error {
	cfg := &config.Config{
		ListenAddr:    ctx.String("listen-addr"),
		LogLevel:      ctx.String("log-level"),
		BridgeTimeout: ctx.Duration("bridge-timeout"),
		RelayCount:    ctx.Int("relay-count"),
		HistorySize:   ctx.Int("history-size"),
		DatabaseCfg: &config.DatabaseConfig{
			URL:              ctx.String("database-url"),
			MigrationsFolder: ctx.String("migrations-folder"),
			CleanupSchedule:  ctx.String("cleanup-schedule"),
			Retention:        ctx.Duration("telemetry-retention"),
		},
		RedisCfg: &config.RedisConfig{
			Addr: ctx.String("redis-addr"),
			TTL:  ctx.Duration("redis-ttl"),
		},
		MqttCfg: &config.MqttConfig{
			Host:        ctx.String("mqtt-host"),
			Username:    ctx.String("mqtt-user"),
			Password:    ctx.String("mqtt-pass"),
			TopicPrefix: ctx.String("mqtt-topic-prefix"),
		},
		InfluxCfg: &config.InfluxConfig{
			URL:    ctx.String("influx-url"),
			Token:  ctx.String("influx-token"),
			Org:    ctx.String("influx-org"),
			Bucket: ctx.String("influx-bucket"),
		},
		SocketCfg: &config.SocketConfig{
			PingInterval:   ctx.Duration("ws-ping-interval"),
			PongWait:       ctx.Duration("ws-pong-wait"),
			MaxMessageSize: ctx.Int64("ws-max-message-size"),
		},
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync() // flushes buffer, if any.
	}()
	zap.ReplaceGlobals(logger)

	sigCtx, stop := signal.NotifyContext(ctx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return run(sigCtx, cfg, logger)
}

func newLogger(level string) (*zap.Logger, error) {
	logCfg := zap.NewProductionConfig()
	var err error
	logCfg.Level, err = zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg.OutputPaths = []string{"stdout"}
	logCfg.ErrorOutputPaths = []string{"stdout"}
	logCfg.Sampling = nil
	return logCfg.Build(zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	errorChan := make(chan error, 1000)
	eg, ctx := errgroup.WithContext(ctx)

	validator, err := schema.New()
	if err != nil {
		return err
	}

	var closers []closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}
	}()

	store, db, err := openStore(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}
	publishers, err := openPublishers(ctx, cfg, logger, &closers)
	if err != nil {
		return err
	}

	sessions := registry.New()
	waiters := pending.New()
	rooms := hub.New()
	routerOpts := []router.Option{router.WithRelayCount(cfg.RelayCount)}
	if len(publishers.Names()) > 0 {
		routerOpts = append(routerOpts, router.WithPublisher(publishers))
	}
	rt := router.New(sessions, waiters, rooms, store, validator, routerOpts...)
	b := bridge.New(sessions, waiters, cfg.BridgeTimeout)

	srv := &http.Server{
		Handler: server.HandlerWithOptions(
			server.New(b, rt, sessions, store, validator, server.WithSocketOptions(socketOptions(cfg.SocketCfg)...)),
			server.GorillaServerOptions{
				Middlewares: []server.MiddlewareFunc{server.CorsMiddleware, server.LoggingMiddleware},
			}),
		Addr:         cfg.ListenAddr,
		WriteTimeout: writeTimeout(cfg.BridgeTimeout),
		ReadTimeout:  15 * time.Second,
	}

	if db != nil && cfg.DatabaseCfg.CleanupSchedule != "" {
		eg.Go(func() error {
			return cronDbCleanup(ctx, db, cfg.DatabaseCfg.CleanupSchedule, cfg.DatabaseCfg.Retention, errorChan)
		})
	}

	eg.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr), zap.Duration("bridge_timeout", b.Timeout()))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		<-ctx.Done()
		rooms.CloseAll()
		shutdownCtx, cancel := contxt.Detached(ctx, shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	eg.Go(func() error {
		// handle any async errors from background jobs
		for {
			select {
			case err := <-errorChan:
				if errors.Is(err, errCron) {
					logger.Error("cron error", zap.Error(err))
					return err
				}
				logger.Warn("background error", zap.Error(err))
			case <-ctx.Done():
				logger.Info("context done")
				return nil
			}
		}
	})

	return eg.Wait()
}

// openStore picks the store from cfg: memory by default, PostgreSQL when a
// database url is set, fronted by Redis when a redis address is set.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *[]closer) (storage.Store, *database.Database, error) {
	var (
		store storage.Store = storage.NewMemory(cfg.HistorySize)
		db    *database.Database
	)

	if cfg.DatabaseCfg != nil && cfg.DatabaseCfg.URL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseCfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		db = database.NewDatabase(pool, cfg.HistorySize)
		*closers = append(*closers, db)
		if err := migration.Migrate(cfg.DatabaseCfg.URL, cfg.DatabaseCfg.MigrationsFolder); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		store = db
		logger.Info("using postgres store")
	}

	if cfg.RedisCfg != nil && cfg.RedisCfg.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisCfg.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, cache will fall through", zap.Error(err), zap.String("addr", cfg.RedisCfg.Addr))
		}
		*closers = append(*closers, rdb)
		store = statecache.New(rdb, store, cfg.RedisCfg.TTL)
		logger.Info("caching device state in redis", zap.String("addr", cfg.RedisCfg.Addr))
	}
	return store, db, nil
}

func openPublishers(ctx context.Context, cfg *config.Config, logger *zap.Logger, closers *[]closer) (*publisher.Registry, error) {
	publishers := publisher.New()

	if cfg.MqttCfg != nil && cfg.MqttCfg.Host != "" {
		mqttSvc := mqtt.New(mqtt.NewClient(cfg.MqttCfg.Host, cfg.MqttCfg.Username, cfg.MqttCfg.Password), cfg.MqttCfg.TopicPrefix)
		if err := mqttSvc.Connect(); err != nil {
			return nil, fmt.Errorf("connect mqtt: %w", err)
		}
		*closers = append(*closers, mqttSvc)
		if err := publishers.Register("mqtt", mqttSvc); err != nil {
			return nil, err
		}
	}

	if cfg.InfluxCfg != nil && cfg.InfluxCfg.URL != "" {
		w, err := influx.Connect(ctx, cfg.InfluxCfg.URL, cfg.InfluxCfg.Token, cfg.InfluxCfg.Org, cfg.InfluxCfg.Bucket)
		if err != nil {
			return nil, err
		}
		*closers = append(*closers, w)
		if err := publishers.Register("influx", w); err != nil {
			return nil, err
		}
	}

	logger.Info("publishers registered", zap.Strings("publishers", publishers.Names()))
	return publishers, nil
}

// writeTimeout leaves room for a bridge call to time out and still answer.
func writeTimeout(bridgeTimeout time.Duration) time.Duration {
	return max(minWriteTimeout, bridgeTimeout+writeTimeoutSlack)
}

func socketOptions(cfg *config.SocketConfig) []func(*sockets.Conn) {
	if cfg == nil {
		return nil
	}
	var opts []func(*sockets.Conn)
	if cfg.PingInterval > 0 {
		opts = append(opts, sockets.WithPingInterval(cfg.PingInterval))
	}
	if cfg.PongWait > 0 {
		opts = append(opts, sockets.WithPongWait(cfg.PongWait))
	}
	if cfg.MaxMessageSize > 0 {
		opts = append(opts, sockets.WithMaxMessageSize(cfg.MaxMessageSize))
	}
	return opts
}

// cronDbCleanup trims old telemetry once straight away and then on schedule
// until ctx ends.
func cronDbCleanup(ctx context.Context, db Cleaner, schedule string, retention time.Duration, errChan chan error) error {
	if _, err := db.Cleanup(ctx, retention); err != nil {
		return err
	}

	// CRON automation
	c := cron.New()
	if _, err := c.AddFunc(schedule, func() {
		removed, err := db.Cleanup(ctx, retention)
		if err != nil {
			zap.L().Error("error cleaning up database", zap.Error(err))
			errChan <- fmt.Errorf("%w: %w", errCron, err)
			return
		}
		zap.L().Info("telemetry cleaned up", zap.Int64("removed", removed))
	}); err != nil {
		return err
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}
