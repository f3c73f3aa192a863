package main

import (
	"CoverLedger/internal/config"
	"CoverLedger/internal/core"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"
	"CoverLedger/internal/server"
	"CoverLedger/internal/settlement"
	"CoverLedger/internal/state"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := observability.NewLogger("main")
	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("CoverLedger stopped")
	}
	logger.Info().Msg("CoverLedger shutdown complete")
}

func run(logger zerolog.Logger) error {
	logger.Info().Msg("CoverLedger starting")

	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("postgres open: %w", err)
	}
	defer db.Close()

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	logger.Info().Msg("Postgres connected")

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
	if err := migrator.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// --- Observability ---
	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()
	healthChecker.AddCheck("postgres", func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return db.PingContext(pingCtx)
	})

	// --- Deterministic core ---
	assets, err := settlement.ResolveAssets(cfg.BaseAsset, cfg.RewardAsset)
	if err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	clock, err := state.NewEpochClock(cfg.Genesis, cfg.EpochLength)
	if err != nil {
		return fmt.Errorf("epoch clock: %w", err)
	}

	// Persist blocks (backpressure); projection and publish drop when full.
	persistChan := make(chan core.CoreOutput, cfg.PersistChanSize)
	projectionChan := make(chan core.CoreOutput, cfg.ProjectionChanSize)
	var publishChan chan core.CoreOutput
	if cfg.PublishBackend != config.PublishNone {
		publishChan = make(chan core.CoreOutput, cfg.PublishChanSize)
	}

	coreLogger := observability.NewLogger("core")
	deterministicCore := core.NewDeterministicCore(core.Config{
		LRUCapacity: cfg.IdempotencyLRUCapacity,
		Assets:      assets,
		Clock:       clock,
	}, persistChan, projectionChan, publishChan,
		persistence.NewPostgresIdempotencyChecker(db), metrics, coreLogger)

	snapMgr := persistence.NewSnapshotManager(db)
	if err := recoverCore(ctx, deterministicCore, snapMgr, cfg.IdempotencyLRUCapacity, logger); err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	runner := core.NewRunner(deterministicCore, cfg.InboxSize, coreLogger)

	// --- NATS ---
	ingestLogger := observability.NewLogger("ingestion")
	conn, js, err := ingestion.ConnectNATS(cfg.NATSURL, ingestLogger)
	if err != nil {
		return err
	}
	defer conn.Close()
	healthChecker.AddCheck("nats", func() error {
		if !conn.IsConnected() {
			return errors.New("disconnected")
		}
		return nil
	})

	if err := ingestion.EnsureStreams(ctx, js, ingestLogger); err != nil {
		return fmt.Errorf("ensure NATS streams: %w", err)
	}

	// --- Outbound publishing ---
	var sink ingestion.Sink
	switch cfg.PublishBackend {
	case config.PublishNATS:
		if err := ingestion.EnsureOutboundStream(ctx, js); err != nil {
			return fmt.Errorf("ensure outbound stream: %w", err)
		}
		sink = ingestion.NewNATSSink(js)
	case config.PublishKafka:
		sink = ingestion.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	if sink != nil {
		defer sink.Close()
		logger.Info().Str("sink", sink.Name()).Msg("outbound publishing enabled")
	}

	// --- Queries ---
	pool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("pgx pool: %w", err)
	}
	defer pool.Close()

	projLogger := observability.NewLogger("projection")
	serverLogger := observability.NewLogger("server")
	hub := server.NewWSHub(metrics, serverLogger)
	hooks := []projection.Hook{hub}

	var store query.Store = query.NewPostgresStore(pool)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()

		cached := query.NewCachedStore(store, rdb, cfg.CacheTTL, observability.NewLogger("cache"))
		cached.OnLookup(func(hit bool) {
			result := "miss"
			if hit {
				result = "hit"
			}
			metrics.QueryCacheHits.WithLabelValues(result).Inc()
		})
		store = cached
		hooks = append(hooks, cached)
		logger.Info().Msg("Redis balance cache enabled")
	}

	api := server.NewAPI(
		ingestion.NewIngestService(runner),
		query.NewQueryService(store),
		server.NewRunnerLiveReader(runner),
		server.Admin{
			TakeSnapshot: func(ctx context.Context) (int64, error) {
				return takeSnapshot(ctx, runner, snapMgr, metrics)
			},
			RebuildProjections: func(ctx context.Context) error {
				return projection.RebuildProjections(ctx, db, projLogger)
			},
		},
		metrics,
		serverLogger,
	)
	srv, err := server.New(cfg.GRPCAddr, cfg.HTTPAddr, server.Deps{
		API:           api,
		Hub:           hub,
		HealthChecker: healthChecker,
	}, serverLogger)
	if err != nil {
		return err
	}

	// --- Workers ---
	persistWorker := persistence.NewPersistenceWorker(db, persistChan, cfg.PersistBatchSize,
		cfg.PersistFlushTimeout, metrics, observability.NewLogger("persistence"))
	projWorker := projection.NewProjectionWorker(db, projectionChan, metrics, projLogger, hooks...)

	rawChan := make(chan ingestion.RawEvent, cfg.InboxSize)
	subscriber := ingestion.NewNATSSubscriber(js, rawChan, ingestLogger)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error { return runner.Run(gctx) })
	g.Go(func() error { return persistWorker.Run(gctx) })
	g.Go(func() error { return projWorker.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	if sink != nil {
		publisher := ingestion.NewOutboundPublisher(sink, publishChan, metrics, ingestLogger)
		g.Go(func() error { return publisher.Run(gctx) })
	}
	g.Go(func() error { return runIngestionLoop(gctx, rawChan, runner, ingestLogger) })
	epochTicker := core.NewEpochTicker(runner, clock, cfg.SettleRetries, observability.NewLogger("epoch-ticker"))
	g.Go(func() error { return epochTicker.Run(gctx, cfg.TickInterval) })
	g.Go(func() error {
		return runPeriodicSnapshots(gctx, runner, snapMgr, cfg.SnapshotInterval, cfg.SnapshotCheck, metrics, logger)
	})
	g.Go(func() error {
		return monitorChannels(gctx, metrics, map[string]chan core.CoreOutput{
			"persist":    persistChan,
			"projection": projectionChan,
			"publish":    publishChan,
		})
	})
	g.Go(func() error { return srv.StartGRPC(gctx) })
	g.Go(func() error { return srv.StartHTTP(gctx) })

	if err := subscriber.Subscribe(gctx, ingestion.DefaultSubjects()); err != nil {
		cancelRun()
		g.Wait()
		return fmt.Errorf("nats subscribe: %w", err)
	}

	healthChecker.SetReady(true)
	srv.SetServing(true)
	logger.Info().
		Int64("sequence", deterministicCore.GetSequence()).
		Str("grpc", cfg.GRPCAddr).
		Str("http", cfg.HTTPAddr).
		Msg("CoverLedger ready")

	<-gctx.Done()
	logger.Info().Msg("shutting down")
	healthChecker.SetReady(false)
	srv.SetServing(false)
	subscriber.Stop()

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker failed")
	}

	// The runner has stopped, so the core is safe to read here. Skip the
	// final snapshot when outputs are still unpersisted.
	if n := len(persistChan); n > 0 {
		logger.Warn().Int("pending", n).Msg("skipping final snapshot, persist queue not drained")
	} else {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := saveSnapshot(shutdownCtx, deterministicCore.CreateSnapshotState(), snapMgr, metrics); err != nil {
			logger.Error().Err(err).Msg("final snapshot failed")
		} else {
			logger.Info().Msg("final snapshot saved")
		}
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runIngestionLoop parses raw NATS messages and queues them on the runner.
// Messages are acked once queued, not once applied, so a slow core never
// trips AckWait; backpressure comes from the runner's inbox blocking.
func runIngestionLoop(ctx context.Context, rawChan <-chan ingestion.RawEvent, runner *core.Runner, logger zerolog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw := <-rawChan:
			evt, err := ingestion.ParseRawEvent(raw, raw.EventType)
			if err != nil {
				// Unparseable commands are acked to avoid a redelivery loop.
				logger.Warn().Err(err).Str("subject", raw.Subject).Msg("parse command failed")
				raw.AckFunc()
				continue
			}
			if err := runner.Enqueue(ctx, evt); err != nil {
				raw.NakFunc()
				return err
			}
			raw.AckFunc()
		}
	}
}

func monitorChannels(ctx context.Context, metrics *observability.Metrics, chans map[string]chan core.CoreOutput) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for name, ch := range chans {
				if ch != nil {
					metrics.SetChannelMetrics(name, len(ch), cap(ch))
				}
			}
		}
	}
}
