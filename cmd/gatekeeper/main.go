package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/gatekeeper/cmd/gatekeeper/cli"
	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/identity"
	jobmetrics "github.com/odyssey-erp/gatekeeper/internal/jobs"
	"github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/rbac"
	"github.com/odyssey-erp/gatekeeper/jobs"
)

const usage = `usage: gatekeeper [serve | provision | queue stats | queue retry [n] | queue send-test <email>]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command = args[0]
	}

	switch command {
	case "serve":
		err = serve(ctx, cfg, logger)
	case "provision":
		err = provision(ctx, cfg)
	case "queue":
		err = queue(ctx, cfg, args[1:])
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(command, slog.Any("error", err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	deps := app.Dependencies{Metrics: metrics}

	redisClient, err := cache.New(ctx, cfg.RedisOptions())
	if err != nil {
		logger.Warn("redis unavailable, running without replay ledger", slog.Any("error", err))
	} else {
		deps.Redis = redisClient
		defer closeRedis(redisClient, logger)
	}

	if cfg.PGDSN != "" {
		pool, err := db.New(ctx, cfg.DBOptions())
		if err != nil {
			return err
		}
		defer pool.Close()
		deps.Pool = pool
	}

	switch cfg.MailDelivery {
	case app.MailDeliveryQueue:
		client := jobs.NewClient(cfg.RedisOptions().AsynqOpts(), jobmetrics.NewMetrics(metrics.Registerer()))
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("asynq client close", slog.Any("error", err))
			}
		}()
		deps.Sender = client

		inspector := asynq.NewInspector(cfg.RedisOptions().AsynqOpts())
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		deps.Inspector = inspector
	default:
		sender, err := mail.NewSMTPSender(cfg.SMTPConfig())
		if err != nil {
			logger.Warn("smtp not configured, sign-in codes cannot be sent", slog.Any("error", err))
		} else {
			deps.Sender = sender
		}
	}

	handler, err := app.NewHandler(cfg, logger, deps)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      handler,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("mail_delivery", cfg.MailDelivery))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func provision(ctx context.Context, cfg *app.Config) error {
	if cfg.PGDSN == "" {
		return errors.New("provision: PG_DSN is required")
	}
	pool, err := db.New(ctx, cfg.DBOptions())
	if err != nil {
		return err
	}
	defer pool.Close()

	assignments, err := cfg.Assignments()
	if err != nil {
		return err
	}
	provisioner, err := newProvisioner(pool)
	if err != nil {
		return err
	}
	summary, err := provisioner.Run(ctx, cfg.Seed(), assignments)
	if err != nil {
		return err
	}
	return printJSON(summary)
}

func newProvisioner(pool *pgxpool.Pool) (*cli.ProvisionCLI, error) {
	return cli.NewProvisionCLI(identity.NewPGDirectory(pool), rbac.NewPGOwnership(pool))
}

func queue(ctx context.Context, cfg *app.Config, args []string) error {
	q := cli.NewQueueCLI(cfg.RedisOptions().AsynqOpts())
	defer q.Close()

	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "stats":
		stats, err := q.InspectQueue(ctx)
		if err != nil {
			return err
		}
		return printJSON(stats)
	case "retry":
		size := 0
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return errors.New(usage)
			}
			size = n
		}
		entries, err := q.ListRetry(ctx, size)
		if err != nil {
			return err
		}
		return printJSON(entries)
	case "send-test":
		if len(args) < 2 {
			return errors.New(usage)
		}
		info, err := q.SendTest(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(map[string]string{"id": info.ID, "queue": info.Queue})
	default:
		return errors.New(usage)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func closeRedis(client *redis.Client, logger *slog.Logger) {
	if err := client.Close(); err != nil {
		logger.Warn("redis close", slog.Any("error", err))
	}
}
