package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/school-portal/portal/cmd/portal/cli"
	"github.com/school-portal/portal/internal/app"
	"github.com/school-portal/portal/internal/auth"
	"github.com/school-portal/portal/internal/fees"
	"github.com/school-portal/portal/internal/observability"
	"github.com/school-portal/portal/internal/platform/cache"
	"github.com/school-portal/portal/internal/platform/db"
	"github.com/school-portal/portal/internal/rbac"
)

const usage = `usage: portal <command> [flags]

commands:
  serve                                 run the HTTP API (default)
  migrate [up|down]                     apply or roll back the schema
  report daily [--date YYYY-MM-DD] [--json]
                                        print the daily collection report
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	if command == "help" || command == "-h" || command == "--help" {
		fmt.Print(usage)
		return 0
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return 1
	}
	logger := app.NewLogger(cfg)

	switch command {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			return 1
		}
		return 0
	case "migrate":
		direction := ""
		if len(args) > 0 {
			direction = args[0]
		}
		migrator, err := db.NewMigrator(cfg.PGDSN, logger)
		if err != nil {
			logger.Error("open migrations", slog.Any("error", err))
			return 1
		}
		defer migrator.Close()
		return cli.MigrateCommand(migrator, direction, os.Stderr)
	case "report":
		return report(ctx, cfg, logger, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		return 2
	}
}

func report(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "daily" {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
	fs := flag.NewFlagSet("report daily", flag.ContinueOnError)
	date := fs.String("date", "", "report date (YYYY-MM-DD), defaults to today in the school time zone")
	jsonOut := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	service := fees.NewService(fees.NewRepository(pool, cfg.CollectMaxRetries), fees.Options{
		Logger:   logger,
		Location: cfg.Location(),
	})
	reports, err := cli.NewReportCLI(service)
	if err != nil {
		logger.Error("report cli", slog.Any("error", err))
		return 1
	}
	return reports.DailyCommand(ctx, cli.DailyOptions{Date: *date, JSONOutput: *jsonOut})
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	plan := app.StartupPlan(cfg)
	if plan.Migrate {
		migrator, err := db.NewMigrator(cfg.PGDSN, logger)
		if err != nil {
			return err
		}
		err = migrator.Up()
		_ = migrator.Close()
		if err != nil {
			return err
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: cfg.DBMaxConns, MaxConnIdleTime: 5 * time.Minute})
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	if plan.RuleCache {
		redisClient = cache.Optional(ctx, cfg.RedisAddr, logger)
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	feeService := fees.NewService(fees.NewRepository(pool, cfg.CollectMaxRetries), fees.Options{
		Cache:    fees.NewRuleCache(redisClient, cfg.RuleCacheTTL, logger),
		Observer: metrics,
		Logger:   logger,
		Location: cfg.Location(),
	})
	feesHandler := fees.NewHandler(logger, feeService, rbac.Middleware{Logger: logger})

	router := app.NewRouter(app.RouterParams{
		Logger:      logger,
		Config:      cfg,
		Auth:        auth.Middleware{Verifier: auth.NewService(cfg.JWTSecret, cfg.JWTIssuer), Logger: logger},
		FeesHandler: feesHandler,
		Metrics:     metrics,
		DB:          pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.SchoolTimezone))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
