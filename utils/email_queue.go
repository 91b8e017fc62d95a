package utils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const emailQueueKey = "featureforge:email_queue"

// ErrQueueEmpty is returned by Pop when nothing arrived before the timeout
var ErrQueueEmpty = errors.New("email queue empty")

// EmailQueue is a FIFO of EmailMessage kept in a Redis list
type EmailQueue struct {
	client *redis.Client
	key    string
}

func NewEmailQueue(client *redis.Client) *EmailQueue {
	return &EmailQueue{client: client, key: emailQueueKey}
}

func (q *EmailQueue) Push(ctx context.Context, msg EmailMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode email: %w", err)
	}
	return q.client.LPush(ctx, q.key, payload).Err()
}

// Pop blocks for up to timeout waiting for the oldest message
func (q *EmailQueue) Pop(ctx context.Context, timeout time.Duration) (EmailMessage, error) {
	var msg EmailMessage

	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return msg, ErrQueueEmpty
	}
	if err != nil {
		return msg, err
	}
	// BRPOP replies with [key, value]
	if len(res) != 2 {
		return msg, fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))
	}
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return msg, fmt.Errorf("failed to decode email: %w", err)
	}
	return msg, nil
}

func (q *EmailQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
