package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/gatekeeper/internal/jobs"
	"github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/internal/platform/httpx"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
)

// Worker wraps the Asynq server.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *slog.Logger
}

// WorkerConfig collects dependencies required to bootstrap the worker.
type WorkerConfig struct {
	RedisOpts   asynq.RedisClientOpt
	Logger      *slog.Logger
	Sender      mail.Sender
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewWorker constructs a Worker delivering queued mail through cfg.Sender.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Sender == nil {
		return nil, fmt.Errorf("%w: worker needs a mail sender", shared.ErrConfiguration)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueMail: 1,
		},
		Logger:   asynqLogger{cfg.Logger},
		LogLevel: asynq.WarnLevel,
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeSendEmail, NewSendEmailHandler(cfg.Sender, cfg.Metrics, cfg.Logger))
	return &Worker{server: srv, mux: mux, logger: cfg.Logger}, nil
}

// Run processes jobs until ctx is cancelled, then drains in-flight work.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("worker: start: %w", err)
	}
	w.logger.Info("mail worker started", slog.String("queue", QueueMail))
	<-ctx.Done()
	w.server.Shutdown()
	return ctx.Err()
}

// Client submits jobs to the queue. It satisfies mail.Sender so the OTP
// issuer can hand delivery to the worker.
type Client struct {
	client  *asynq.Client
	metrics *jobmetrics.Metrics
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt, metrics *jobmetrics.Metrics) *Client {
	return &Client{client: asynq.NewClient(redisOpts), metrics: metrics}
}

// EnqueueSendEmail enqueues a send-email task.
func (c *Client) EnqueueSendEmail(ctx context.Context, msg mail.Message) (*asynq.TaskInfo, error) {
	task, err := NewSendEmailTask(msg)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task)
	c.metrics.Enqueued(TaskTypeSendEmail, err)
	return info, err
}

// Send implements mail.Sender. A failed enqueue is a transport failure.
func (c *Client) Send(ctx context.Context, msg mail.Message) error {
	if _, err := c.EnqueueSendEmail(ctx, msg); err != nil {
		return fmt.Errorf("%w: enqueue mail: %v", shared.ErrTransport, err)
	}
	return nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// Handler exposes HTTP endpoints for job observability.
type Handler struct {
	inspector *asynq.Inspector
	logger    *slog.Logger
}

// NewHandler constructs an HTTP handler for jobs endpoints.
func NewHandler(inspector *asynq.Inspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
}

type queueHealth struct {
	Queue    string `json:"queue"`
	Mode     string `json:"mode"`
	Pending  int    `json:"pending"`
	Active   int    `json:"active"`
	Retry    int    `json:"retry"`
	Archived int    `json:"archived"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if h.inspector == nil {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueMail, Mode: "direct"})
		return
	}
	queues, err := h.inspector.Queues()
	if err != nil {
		h.unavailable(w, err)
		return
	}
	if !slices.Contains(queues, QueueMail) {
		httpx.JSON(w, http.StatusOK, queueHealth{Queue: QueueMail, Mode: "queue"})
		return
	}
	info, err := h.inspector.GetQueueInfo(QueueMail)
	if err != nil {
		h.unavailable(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, queueHealth{
		Queue:    info.Queue,
		Mode:     "queue",
		Pending:  info.Pending,
		Active:   info.Active,
		Retry:    info.Retry,
		Archived: info.Archived,
	})
}

func (h *Handler) unavailable(w http.ResponseWriter, err error) {
	h.logger.Warn("jobs health", slog.Any("error", err))
	httpx.Problem(w, http.StatusServiceUnavailable, http.StatusText(http.StatusServiceUnavailable), "queue unavailable")
}

// asynqLogger routes asynq's internal logging through slog.
type asynqLogger struct {
	logger *slog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) {
	l.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
