package worker

import (
	"context"
	"errors"
	"time"

	"featureforge/utils"

	"github.com/sirupsen/logrus"
)

// EmailSource is the queue the worker drains
type EmailSource interface {
	Pop(ctx context.Context, timeout time.Duration) (utils.EmailMessage, error)
	Push(ctx context.Context, msg utils.EmailMessage) error
}

// EmailSender delivers one message and reports its outcome
type EmailSender interface {
	SendInline(ctx context.Context, msg utils.EmailMessage) string
}

type EmailWorker struct {
	Queue       EmailSource
	Sender      EmailSender
	MaxAttempts int
	PollTimeout time.Duration
	RetryDelay  time.Duration
	Logger      *logrus.Entry
}

func NewEmailWorker(queue EmailSource, sender EmailSender, maxAttempts int) *EmailWorker {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	return &EmailWorker{
		Queue:       queue,
		Sender:      sender,
		MaxAttempts: maxAttempts,
		PollTimeout: 5 * time.Second,
		RetryDelay:  2 * time.Second,
		Logger:      utils.Logger("email_worker"),
	}
}

// Start consumes the queue until ctx is cancelled
func (ew *EmailWorker) Start(ctx context.Context) {
	ew.Logger.Info("Email worker started")

	for {
		select {
		case <-ctx.Done():
			ew.Logger.Info("Email worker shutting down...")
			return
		default:
		}

		msg, err := ew.Queue.Pop(ctx, ew.PollTimeout)
		if errors.Is(err, utils.ErrQueueEmpty) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			ew.Logger.WithError(err).Warn("Failed to read email queue")
			select {
			case <-ctx.Done():
			case <-time.After(ew.RetryDelay):
			}
			continue
		}

		ew.Process(ctx, msg)
	}
}

// Process sends msg and puts it back on the queue when delivery fails and
// attempts remain. The n-th retry waits n*RetryDelay before it is requeued.
// It returns the delivery outcome.
func (ew *EmailWorker) Process(ctx context.Context, msg utils.EmailMessage) string {
	outcome := ew.Sender.SendInline(ctx, msg)
	if outcome == utils.EmailOutcomeSent {
		return outcome
	}

	msg.Attempts++
	log := ew.Logger.WithFields(logrus.Fields{
		"email_id": msg.ID,
		"kind":     msg.Kind,
		"attempts": msg.Attempts,
		"outcome":  outcome,
	})
	if msg.Attempts >= ew.MaxAttempts {
		log.Error("Giving up on email")
		return outcome
	}

	delay := ew.RetryDelay * time.Duration(msg.Attempts)
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	// a shutdown cuts the wait short but must not lose the message
	if err := ew.Queue.Push(context.WithoutCancel(ctx), msg); err != nil {
		log.WithError(err).Error("Failed to requeue email")
		return outcome
	}
	log.WithField("delay", delay.String()).Warn("Email requeued")
	return outcome
}
