package cli

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	mailer "github.com/odyssey-erp/gatekeeper/internal/mail"
	"github.com/odyssey-erp/gatekeeper/jobs"
)

// QueueCLI wraps manual management helpers for the mail queue.
type QueueCLI struct {
	client    *jobs.Client
	inspector *asynq.Inspector
}

// NewQueueCLI initialises the helpers using the provided Redis options.
func NewQueueCLI(opts asynq.RedisClientOpt) *QueueCLI {
	return &QueueCLI{
		client:    jobs.NewClient(opts, nil),
		inspector: asynq.NewInspector(opts),
	}
}

// Close releases underlying resources.
func (c *QueueCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// SendTest enqueues a test message so the worker path can be checked end to end.
func (c *QueueCLI) SendTest(ctx context.Context, to string) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("queue cli: client not configured")
	}
	addr, err := mail.ParseAddress(strings.TrimSpace(to))
	if err != nil {
		return nil, errors.New("queue cli: invalid recipient")
	}
	return c.client.EnqueueSendEmail(ctx, mailer.Message{
		To:      addr.Address,
		Subject: "Gatekeeper test message",
		Body:    "Mail delivery through the worker queue is working.\r\n",
	})
}

// QueueStats summarises the mail queue state.
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
}

// InspectQueue reports the mail queue metrics.
func (c *QueueCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("queue cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueMail)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueMail}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// RetryEntry describes one message waiting for redelivery. The payload is
// left out because it carries a sign-in code.
type RetryEntry struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	Retried       int       `json:"retried"`
	MaxRetry      int       `json:"max_retry"`
	LastError     string    `json:"last_error,omitempty"`
	NextProcessAt time.Time `json:"next_process_at"`
}

// ListRetry returns messages waiting for another delivery attempt.
func (c *QueueCLI) ListRetry(ctx context.Context, size int) ([]RetryEntry, error) {
	if c == nil || c.inspector == nil {
		return nil, errors.New("queue cli: inspector not configured")
	}
	if size <= 0 {
		size = 10
	}
	tasks, err := c.inspector.ListRetryTasks(jobs.QueueMail, asynq.PageSize(size), asynq.Page(1))
	if err != nil {
		return nil, err
	}
	return retryEntries(tasks), nil
}

func retryEntries(tasks []*asynq.TaskInfo) []RetryEntry {
	entries := make([]RetryEntry, 0, len(tasks))
	for _, task := range tasks {
		if task == nil {
			continue
		}
		entries = append(entries, RetryEntry{
			ID:            task.ID,
			Type:          task.Type,
			Retried:       task.Retried,
			MaxRetry:      task.MaxRetry,
			LastError:     task.LastErr,
			NextProcessAt: task.NextProcessAt,
		})
	}
	return entries
}
