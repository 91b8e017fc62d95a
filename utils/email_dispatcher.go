package utils

import (
	"context"
	"time"

	"featureforge/metrics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultEmailTimeout bounds inline delivery so a slow provider cannot hang a request
const DefaultEmailTimeout = 30 * time.Second

// EmailDispatcher hands emails to the queue when one is configured and falls
// back to sending inline under a timeout. Delivery problems are logged and
// recorded in the stats store, never returned to the caller.
type EmailDispatcher struct {
	mailer  Mailer
	queue   *EmailQueue
	stats   EmailStatsStore
	timeout time.Duration
	log     *logrus.Entry
}

// NewEmailDispatcher builds a dispatcher. queue may be nil, in which case every
// message is sent inline.
func NewEmailDispatcher(mailer Mailer, queue *EmailQueue, stats EmailStatsStore, timeout time.Duration) *EmailDispatcher {
	if timeout <= 0 {
		timeout = DefaultEmailTimeout
	}
	if stats == nil {
		stats = NewMemoryEmailStats(24 * time.Hour)
	}
	return &EmailDispatcher{
		mailer:  mailer,
		queue:   queue,
		stats:   stats,
		timeout: timeout,
		log:     Logger("email"),
	}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, msg EmailMessage) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	if d.queue != nil {
		err := d.queue.Push(ctx, msg)
		if err == nil {
			d.record(ctx, EmailOutcomeQueued)
			return
		}
		d.log.WithError(err).WithField("email_id", msg.ID).Warn("email queue unavailable, sending inline")
	}

	d.SendInline(ctx, msg)
}

// SendInline delivers msg within the dispatcher timeout and reports the outcome
func (d *EmailDispatcher) SendInline(ctx context.Context, msg EmailMessage) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	logContext := map[string]interface{}{
		"email_id": msg.ID,
		"kind":     msg.Kind,
		"to":       msg.To,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- d.mailer.Send(msg)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			LogError("email_send", err, logContext)
			d.record(ctx, EmailOutcomeFailed)
			return EmailOutcomeFailed
		}
	case <-ctx.Done():
		LogError("email_send_timeout", ctx.Err(), logContext)
		d.record(context.Background(), EmailOutcomeTimeout)
		return EmailOutcomeTimeout
	}

	d.record(ctx, EmailOutcomeSent)
	LogEvent("email_sent", logContext)
	return EmailOutcomeSent
}

// Record stores an outcome produced outside the dispatcher, e.g. by the queue worker
func (d *EmailDispatcher) Record(ctx context.Context, outcome string) {
	d.record(ctx, outcome)
}

func (d *EmailDispatcher) record(ctx context.Context, outcome string) {
	metrics.EmailsProcessed.WithLabelValues(outcome).Inc()
	if err := d.stats.Incr(ctx, outcome); err != nil {
		d.log.WithError(err).Warn("failed to record email stats")
	}
}

func (d *EmailDispatcher) Stats(ctx context.Context) (map[string]int64, error) {
	return d.stats.Snapshot(ctx)
}
