package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryJobQueue is an in-process JobEnqueuer/JobDequeuer. Messages with the
// "drop" dedup policy are dropped while another message with the same
// idempotency key is queued or in flight.
type MemoryJobQueue struct {
	mu          sync.Mutex
	pending     []*JobExecutionMessage
	inFlight    map[string]struct{}
	deadLetters []*JobExecutionMessage
	timers      map[*time.Timer]struct{}
	notify      chan struct{}
	closed      bool
}

func NewMemoryJobQueue() *MemoryJobQueue {
	return &MemoryJobQueue{
		inFlight: map[string]struct{}{},
		timers:   map[*time.Timer]struct{}{},
		notify:   make(chan struct{}, 1),
	}
}

func (q *MemoryJobQueue) Enqueue(_ context.Context, msg *JobExecutionMessage) error {
	if q == nil {
		return fmt.Errorf("core: memory job queue is not configured")
	}
	if msg == nil {
		return fmt.Errorf("core: job message is required")
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return fmt.Errorf("core: memory job queue is closed")
	}
	key := strings.TrimSpace(msg.IdempotencyKey)
	if key != "" && strings.EqualFold(msg.DedupPolicy, JobDedupPolicyDrop) {
		if _, ok := q.inFlight[key]; ok {
			return nil
		}
	}
	if key != "" {
		q.inFlight[key] = struct{}{}
	}
	q.pending = append(q.pending, copyJobMessage(msg))
	q.signalLocked()
	return nil
}

func (q *MemoryJobQueue) Dequeue(ctx context.Context) (JobDelivery, error) {
	if q == nil {
		return nil, fmt.Errorf("core: memory job queue is not configured")
	}
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, fmt.Errorf("core: memory job queue is closed")
		}
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				q.signalLocked()
			}
			q.mu.Unlock()
			return &memoryJobDelivery{queue: q, msg: msg}, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len reports queued messages, excluding delayed retries.
func (q *MemoryJobQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *MemoryJobQueue) DeadLetters() []*JobExecutionMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*JobExecutionMessage, 0, len(q.deadLetters))
	for _, msg := range q.deadLetters {
		out = append(out, copyJobMessage(msg))
	}
	return out
}

func (q *MemoryJobQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for timer := range q.timers {
		timer.Stop()
	}
	q.timers = map[*time.Timer]struct{}{}
	q.signalLocked()
}

func (q *MemoryJobQueue) signalLocked() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemoryJobQueue) release(msg *JobExecutionMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if key := strings.TrimSpace(msg.IdempotencyKey); key != "" {
		delete(q.inFlight, key)
	}
}

func (q *MemoryJobQueue) requeue(msg *JobExecutionMessage, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	if delay <= 0 {
		q.pending = append(q.pending, msg)
		q.signalLocked()
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, timer)
		if q.closed {
			return
		}
		q.pending = append(q.pending, msg)
		q.signalLocked()
	})
	q.timers[timer] = struct{}{}
}

func (q *MemoryJobQueue) deadLetter(msg *JobExecutionMessage) {
	q.mu.Lock()
	q.deadLetters = append(q.deadLetters, msg)
	q.mu.Unlock()
	q.release(msg)
}

type memoryJobDelivery struct {
	queue *MemoryJobQueue
	msg   *JobExecutionMessage
	once  sync.Once
}

func (d *memoryJobDelivery) Message() *JobExecutionMessage {
	return copyJobMessage(d.msg)
}

func (d *memoryJobDelivery) Ack(context.Context) error {
	if !d.settle() {
		return fmt.Errorf("core: delivery already settled")
	}
	d.queue.release(d.msg)
	return nil
}

func (d *memoryJobDelivery) Nack(_ context.Context, opts JobNackOptions) error {
	if !d.settle() {
		return fmt.Errorf("core: delivery already settled")
	}
	switch {
	case opts.DeadLetter:
		d.queue.deadLetter(d.msg)
	case opts.Requeue:
		d.queue.requeue(d.msg, opts.Delay)
	default:
		d.queue.release(d.msg)
	}
	return nil
}

func (d *memoryJobDelivery) settle() bool {
	first := false
	d.once.Do(func() {
		first = true
	})
	return first
}

func copyJobMessage(msg *JobExecutionMessage) *JobExecutionMessage {
	if msg == nil {
		return nil
	}
	out := *msg
	out.Parameters = copyMap(msg.Parameters)
	return &out
}

var (
	_ JobEnqueuer = (*MemoryJobQueue)(nil)
	_ JobDequeuer = (*MemoryJobQueue)(nil)
	_ JobDelivery = (*memoryJobDelivery)(nil)
)
