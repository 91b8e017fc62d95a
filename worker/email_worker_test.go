package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"featureforge/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryQueue struct {
	mu    sync.Mutex
	items []utils.EmailMessage
}

func (q *memoryQueue) Push(_ context.Context, msg utils.EmailMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, msg)
	return nil
}

func (q *memoryQueue) Pop(ctx context.Context, timeout time.Duration) (utils.EmailMessage, error) {
	q.mu.Lock()
	if len(q.items) > 0 {
		msg := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		return msg, nil
	}
	q.mu.Unlock()

	select {
	case <-ctx.Done():
		return utils.EmailMessage{}, ctx.Err()
	case <-time.After(timeout):
		return utils.EmailMessage{}, utils.ErrQueueEmpty
	}
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type scriptedSender struct {
	mu       sync.Mutex
	outcomes []string
	sent     []utils.EmailMessage
}

func (s *scriptedSender) SendInline(_ context.Context, msg utils.EmailMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	if len(s.outcomes) == 0 {
		return utils.EmailOutcomeSent
	}
	out := s.outcomes[0]
	s.outcomes = s.outcomes[1:]
	return out
}

func (s *scriptedSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestProcessRequeuesUntilMaxAttempts(t *testing.T) {
	queue := &memoryQueue{}
	sender := &scriptedSender{outcomes: []string{utils.EmailOutcomeFailed, utils.EmailOutcomeTimeout, utils.EmailOutcomeFailed}}
	w := NewEmailWorker(queue, sender, 3)
	w.RetryDelay = time.Millisecond

	msg := utils.EmailMessage{ID: "m1", To: "a@example.com"}
	assert.Equal(t, utils.EmailOutcomeFailed, w.Process(context.Background(), msg))
	require.Equal(t, 1, queue.len())
	assert.Equal(t, 1, queue.items[0].Attempts)

	next, err := queue.Pop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, utils.EmailOutcomeTimeout, w.Process(context.Background(), next))
	require.Equal(t, 1, queue.len())

	next, err = queue.Pop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	w.Process(context.Background(), next)
	assert.Equal(t, 0, queue.len(), "third failure drops the message")
}

func TestProcessWaitsBeforeRequeue(t *testing.T) {
	queue := &memoryQueue{}
	sender := &scriptedSender{outcomes: []string{utils.EmailOutcomeFailed, utils.EmailOutcomeFailed}}
	w := NewEmailWorker(queue, sender, 5)
	w.RetryDelay = 40 * time.Millisecond

	start := time.Now()
	w.Process(context.Background(), utils.EmailMessage{ID: "m1"})
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Equal(t, 1, queue.len())

	next, err := queue.Pop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	start = time.Now()
	w.Process(context.Background(), next)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond, "second retry waits twice as long")
	assert.Equal(t, 1, queue.len())
}

func TestProcessRequeuesOnShutdown(t *testing.T) {
	queue := &memoryQueue{}
	sender := &scriptedSender{outcomes: []string{utils.EmailOutcomeFailed}}
	w := NewEmailWorker(queue, sender, 3)
	w.RetryDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	w.Process(ctx, utils.EmailMessage{ID: "m1"})
	assert.Less(t, time.Since(start), time.Second)
	require.Equal(t, 1, queue.len())
	assert.Equal(t, 1, queue.items[0].Attempts)
}

func TestProcessSuccessDoesNotRequeue(t *testing.T) {
	queue := &memoryQueue{}
	sender := &scriptedSender{}
	w := NewEmailWorker(queue, sender, 3)

	assert.Equal(t, utils.EmailOutcomeSent, w.Process(context.Background(), utils.EmailMessage{ID: "ok"}))
	assert.Equal(t, 0, queue.len())
}

func TestStartDrainsQueueAndStops(t *testing.T) {
	queue := &memoryQueue{}
	sender := &scriptedSender{}
	w := NewEmailWorker(queue, sender, 3)
	w.PollTimeout = 10 * time.Millisecond

	for i := 0; i < 3; i++ {
		require.NoError(t, queue.Push(context.Background(), utils.EmailMessage{ID: string(rune('a' + i))}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sender.count() == 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}
