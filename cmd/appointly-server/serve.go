package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"appointly/backend/internal/config"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/reminder"
	"appointly/backend/internal/service/booking"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
	"appointly/backend/internal/store/postgres"
	"appointly/backend/internal/telemetry"
	grpcTransport "appointly/backend/internal/transport/grpc"
	"appointly/backend/internal/transport/health"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gRPC booking API, health probes and the reminder scanner",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config load: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, newLogger(cfg.LogLevel))
		},
	}
}

type repository interface {
	store.BookingRepository
	store.ReminderRepository
}

func serve(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	log.Info("starting",
		slog.String("grpc_addr", cfg.GRPCAddr()),
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("store_driver", cfg.StoreDriver),
		slog.String("log_level", cfg.LogLevel),
	)

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:      cfg.OTelEnabled,
		ServiceName:  serviceName,
		OTLPEndpoint: cfg.OTelEndpoint,
		SampleRatio:  cfg.OTelSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("telemetry setup: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown failed", slog.Any("err", err))
		}
	}()

	probes := health.NewServer(log, 0)

	repo, closeRepo, err := openRepository(ctx, cfg, log, probes)
	if err != nil {
		return err
	}
	defer closeRepo()

	notifiers := notify.Multi{notify.NewLogNotifier(log)}
	if brokers := notify.SplitBrokers(cfg.KafkaBrokers); len(brokers) > 0 {
		kn, err := notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: brokers, TopicPrefix: cfg.KafkaTopicPrefix}, log)
		if err != nil {
			return fmt.Errorf("kafka notifier: %w", err)
		}
		defer func() {
			if err := kn.Close(); err != nil {
				log.Warn("kafka writer close failed", slog.Any("err", err))
			}
		}()
		notifiers = append(notifiers, kn)
		probes.AddCheck("kafka", notify.ReadyCheck(brokers))
	}

	var claims reminder.Claimer = reminder.NewMemoryClaimer()
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		claims = reminder.NewRedisClaimer(rdb, "")
		probes.AddCheck("redis", reminder.RedisReadyCheck(rdb))
	}

	svc := booking.NewService(repo,
		booking.WithNotifier(notifiers),
		booking.WithPolicy(booking.Policy{
			CancellationWindow: cfg.CancellationWindow,
			BookingHorizon:     cfg.BookingHorizon,
		}),
	)

	auth, err := grpcTransport.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return fmt.Errorf("authenticator: %w", err)
	}

	grpcServer := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			defaultRequestTimeoutInterceptor(cfg.GRPCRequestTimeout),
			auth.UnaryInterceptor(),
		),
	)
	grpcTransport.RegisterBookingServiceServer(grpcServer, grpcTransport.NewBookingServer(svc, log))
	grpcHealth := grpchealth.NewServer()
	grpcHealth.SetServingStatus(grpcTransport.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, grpcHealth)

	lis, err := net.Listen("tcp", cfg.GRPCAddr())
	if err != nil {
		log.Error("grpc listen failed", slog.Any("err", err), slog.String("grpc_addr", cfg.GRPCAddr()))
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("grpc server started", slog.String("grpc_addr", cfg.GRPCAddr()))
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")
		grpcHealth.Shutdown()
		shutdown(log, grpcServer, cfg.ShutdownTimeout)
		return nil
	})
	g.Go(func() error {
		return probes.ListenAndServe(gctx, cfg.HTTPAddr, cfg.ShutdownTimeout)
	})
	if cfg.ReminderEnabled {
		scanner := reminder.NewScanner(repo, claims, notifiers, log, reminder.Config{
			Interval:  cfg.ReminderInterval,
			Lookahead: cfg.ReminderLookahead,
			BatchSize: cfg.ReminderBatchSize,
			ClaimTTL:  cfg.ReminderClaimTTL,
		})
		g.Go(func() error {
			scanner.Run(gctx)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server stopped with error", slog.Any("err", err))
		return err
	}
	log.Info("stopped")
	return nil
}

func openRepository(ctx context.Context, cfg config.Config, log *slog.Logger, probes *health.Server) (repository, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		log.Warn("using in-memory store; data is lost on restart")
		mem := memory.New()
		if cfg.StoreSeedFile == "" {
			log.Warn("no store.seed_file set; the in-memory store has no users")
			return mem, func() {}, nil
		}
		users, err := memory.LoadSeedUsers(cfg.StoreSeedFile)
		if err != nil {
			return nil, nil, fmt.Errorf("memory store seed: %w", err)
		}
		mem.Seed(users)
		log.Info("memory store seeded", slog.Int("users", len(users)), slog.String("seed_file", cfg.StoreSeedFile))
		return mem, func() {}, nil
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	closeDB := func() {
		if err := postgres.Close(db); err != nil {
			log.Warn("database close failed", slog.Any("err", err))
		}
	}

	if cfg.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			closeDB()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		log.Info("migrations applied")
	}

	probes.AddCheck("database", func(ctx context.Context) error { return postgres.Ping(ctx, db) })
	return postgres.NewBookingRepo(db), closeDB, nil
}

func openDatabase(cfg config.Config, log *slog.Logger) (*bun.DB, error) {
	log.Info("connecting to database", databaseLogArgs(cfg.DatabaseURL)...)
	db, err := postgres.Open(cfg.DatabaseURL, postgres.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
		ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
	})
	if err != nil {
		args := append([]any{slog.Any("err", err)}, databaseLogArgs(cfg.DatabaseURL)...)
		log.Error("database connection failed", args...)
		return nil, err
	}
	return db, nil
}
