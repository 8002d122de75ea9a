package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/gatekeeper/internal/jobs"
	"github.com/odyssey-erp/gatekeeper/internal/mail"
)

const (
	// QueueMail carries sign-in code deliveries.
	QueueMail = "mail"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"

	// sendEmailRetries stays small: a code is only useful inside its
	// challenge window.
	sendEmailRetries = 3
	sendEmailTimeout = 30 * time.Second
)

// NewSendEmailTask constructs an Asynq task for msg.
func NewSendEmailTask(msg mail.Message) (*asynq.Task, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data,
		asynq.Queue(QueueMail),
		asynq.MaxRetry(sendEmailRetries),
		asynq.Timeout(sendEmailTimeout),
	), nil
}

// NewSendEmailHandler delivers TaskTypeSendEmail tasks through sender.
func NewSendEmailHandler(sender mail.Sender, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, t *asynq.Task) error {
		var msg mail.Message
		if err := json.Unmarshal(t.Payload(), &msg); err != nil || msg.To == "" {
			logger.Error("mail task payload rejected", slog.Any("error", err))
			return fmt.Errorf("decode mail payload: %w", asynq.SkipRetry)
		}
		tracker := metrics.Track(TaskTypeSendEmail)
		if err := tracker.End(sender.Send(ctx, msg)); err != nil {
			logger.Warn("mail delivery failed", slog.String("to", msg.To), slog.Any("error", err))
			return err
		}
		logger.Info("mail delivered", slog.String("to", msg.To))
		return nil
	}
}
