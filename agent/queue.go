//
// Copyright (C) 2025 Canopy Authors. All rights reserved.
//
// canopy is licensed under the Apache License Version 2.0.
//
//

package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/canopyai/canopy/event"
	"github.com/canopyai/canopy/log"
)

// ErrQueueClosed is returned by Publish after the queue has been closed by a
// terminal event or an explicit StopListen.
var ErrQueueClosed = errors.New("agent: task queue is closed")

const (
	// defaultQueueBufferSize bounds the producer/consumer channel.
	defaultQueueBufferSize = 256

	// defaultPollInterval is how long a listen cycle blocks on dequeue
	// before running its side checks.
	defaultPollInterval = time.Second

	// defaultPingInterval is the keep-alive ping period.
	defaultPingInterval = 10 * time.Second

	// defaultListenTimeout is how long a listener waits in total before a
	// timeout event is emitted.
	defaultListenTimeout = 600 * time.Second

	// taskBelongTTL is the lifetime of the task ownership record.
	taskBelongTTL = 1800 * time.Second
)

// TaskQueue bridges one run's producer goroutine to its foreground consumer.
// Events are delivered strictly FIFO; publishing a terminal event closes the
// queue after the already-buffered items drain.
//
// Creating a queue also registers the task's ownership record in the shared
// store, which later authorizes out-of-band stop requests for the task.
type TaskQueue struct {
	taskID     string
	userID     string
	invokeFrom InvokeFrom
	store      KeyValueStore

	ch        chan *event.Event
	done      chan struct{}
	closeOnce sync.Once

	pollInterval  time.Duration
	pingInterval  time.Duration
	listenTimeout time.Duration
}

// TaskQueueOption configures a TaskQueue.
type TaskQueueOption func(*TaskQueue)

// WithQueueBufferSize sets the event channel buffer size.
func WithQueueBufferSize(size int) TaskQueueOption {
	return func(q *TaskQueue) { q.ch = make(chan *event.Event, size) }
}

// WithPollInterval sets the dequeue poll interval.
func WithPollInterval(d time.Duration) TaskQueueOption {
	return func(q *TaskQueue) { q.pollInterval = d }
}

// WithPingInterval sets the keep-alive ping period.
func WithPingInterval(d time.Duration) TaskQueueOption {
	return func(q *TaskQueue) { q.pingInterval = d }
}

// WithListenTimeout sets the total listen timeout.
func WithListenTimeout(d time.Duration) TaskQueueOption {
	return func(q *TaskQueue) { q.listenTimeout = d }
}

// NewTaskQueue creates the queue for one task and records the task's
// ownership in the shared store with a TTL.
func NewTaskQueue(ctx context.Context, taskID, userID string, invokeFrom InvokeFrom, store KeyValueStore, opts ...TaskQueueOption) (*TaskQueue, error) {
	q := &TaskQueue{
		taskID:        taskID,
		userID:        userID,
		invokeFrom:    invokeFrom,
		store:         store,
		ch:            make(chan *event.Event, defaultQueueBufferSize),
		done:          make(chan struct{}),
		pollInterval:  defaultPollInterval,
		pingInterval:  defaultPingInterval,
		listenTimeout: defaultListenTimeout,
	}
	for _, opt := range opts {
		opt(q)
	}
	if err := store.SetEx(ctx, taskBelongKey(taskID), ownerValue(invokeFrom, userID), taskBelongTTL); err != nil {
		return nil, err
	}
	return q, nil
}

// Publish enqueues an event. If the event's kind is terminal the queue is
// closed afterwards; buffered items still drain to the consumer.
func (q *TaskQueue) Publish(ctx context.Context, e *event.Event) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- e:
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	if e.Kind.Terminal() {
		q.StopListen()
	}
	return nil
}

// PublishError publishes the error as a terminal error event.
func (q *TaskQueue) PublishError(ctx context.Context, err error) {
	if pubErr := q.Publish(ctx, event.NewError(q.taskID, err)); pubErr != nil && !errors.Is(pubErr, ErrQueueClosed) {
		log.Errorf("task %s: publish error event: %v", q.taskID, pubErr)
	}
}

// StopListen closes the queue. Safe to call more than once.
func (q *TaskQueue) StopListen() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Listen returns the consumer side of the queue: an ordered event sequence
// that terminates when the queue closes. Each poll cycle additionally emits
// a keep-alive ping on every ping-interval boundary crossed, a terminal
// timeout event once the listen timeout elapses, and a terminal stop event
// when the task's stop flag is observed in the shared store.
//
// The elapsed clock starts fresh on each Listen call; a queue supports one
// active listener at a time.
func (q *TaskQueue) Listen(ctx context.Context) <-chan *event.Event {
	out := make(chan *event.Event, cap(q.ch))
	go func() {
		defer close(out)
		start := time.Now()
		lastPing := 0
		timer := time.NewTimer(q.pollInterval)
		defer timer.Stop()

		for {
			if !q.pollOnce(ctx, out, timer) {
				return
			}

			elapsed := time.Since(start)
			if boundary := int(elapsed / q.pingInterval); boundary > lastPing {
				q.forward(ctx, out, event.New(q.taskID, event.KindPing))
				lastPing = boundary
			}
			// Close and drain before emitting the terminal event so it is
			// delivered last, as it would be had the producer published it.
			if elapsed >= q.listenTimeout {
				q.StopListen()
				q.drain(ctx, out)
				q.forward(ctx, out, event.New(q.taskID, event.KindTimeout))
				return
			}
			if q.isStopped(ctx) {
				q.StopListen()
				q.drain(ctx, out)
				q.forward(ctx, out, event.New(q.taskID, event.KindStop))
				return
			}
		}
	}()
	return out
}

// pollOnce waits up to one poll interval for an event and forwards it.
// It reports whether listening should continue.
func (q *TaskQueue) pollOnce(ctx context.Context, out chan<- *event.Event, timer *time.Timer) bool {
	timer.Reset(q.pollInterval)
	select {
	case e := <-q.ch:
		return q.forward(ctx, out, e)
	case <-q.done:
		q.drain(ctx, out)
		return false
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// drain forwards whatever is still buffered after the queue closed.
func (q *TaskQueue) drain(ctx context.Context, out chan<- *event.Event) {
	for {
		select {
		case e := <-q.ch:
			if !q.forward(ctx, out, e) {
				return
			}
		default:
			return
		}
	}
}

// forward hands one event to the consumer, honoring cancellation.
func (q *TaskQueue) forward(ctx context.Context, out chan<- *event.Event, e *event.Event) bool {
	select {
	case out <- e:
		return true
	case <-ctx.Done():
		return false
	}
}

// isStopped checks the task's stop flag in the shared store.
func (q *TaskQueue) isStopped(ctx context.Context) bool {
	stopped, err := q.store.Exists(ctx, taskStoppedKey(q.taskID))
	if err != nil {
		log.Warnf("task %s: check stop flag: %v", q.taskID, err)
		return false
	}
	return stopped
}
