package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shinkai-run/shinkai-node/store"
)

// QueueEntry is one pending job_message invocation waiting for a
// worker, durably recorded in store.CFJobQueues so a restart does not
// lose queued work.
type QueueEntry struct {
	JobID      string    `json:"job_id"`
	Content    string    `json:"content"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue runs queued job_message calls through a bounded worker pool,
// the background counterpart to JobMessage's synchronous path. Shaped
// like a session manager's background goroutine (there a cleanup
// ticker, here a worker pool), but driven by golang.org/x/sync/errgroup's
// SetLimit rather than a hand-rolled semaphore.
type Queue struct {
	manager *Manager
	db      store.Store
	items   chan QueueEntry
	workers int
}

// NewQueue builds a Queue of workers concurrent JobMessage workers
// draining manager's queue, persisting entries to db (nil disables
// durability, as with every other component's optional store).
func NewQueue(manager *Manager, db store.Store, workers int) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{manager: manager, db: db, items: make(chan QueueEntry, 256), workers: workers}
}

// Enqueue records entry for a worker to pick up. Blocks if the queue's
// internal buffer is full, unless ctx is canceled first.
func (q *Queue) Enqueue(ctx context.Context, jobID, content string) error {
	entry := QueueEntry{JobID: jobID, Content: content, EnqueuedAt: time.Now()}
	if q.db != nil {
		data, err := json.Marshal(entry)
		if err != nil {
			return fmt.Errorf("job: marshal queue entry: %w", err)
		}
		key := fmt.Sprintf("%020d::%s", entry.EnqueuedAt.UnixNano(), jobID)
		if err := q.db.Put(ctx, store.CFJobQueues, key, data); err != nil {
			return fmt.Errorf("job: persist queue entry: %w", err)
		}
	}
	select {
	case q.items <- entry:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting new entries; Run drains whatever remains
// buffered before returning.
func (q *Queue) Close() {
	close(q.items)
}

// Run drains the queue with at most q.workers JobMessage calls in
// flight at once, until ctx is canceled or Close is called and the
// buffer empties. A per-entry inference failure (ErrInferenceFailed)
// does not abort the pool — the job's inbox already records the
// system-error node — but any other error stops Run early.
func (q *Queue) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.workers)

	for {
		select {
		case entry, ok := <-q.items:
			if !ok {
				return g.Wait()
			}
			entry := entry
			g.Go(func() error {
				_, err := q.manager.JobMessage(gctx, entry.JobID, entry.Content, nil, nil)
				if err != nil && !errors.Is(err, ErrInferenceFailed) {
					return fmt.Errorf("job: queued message for %s: %w", entry.JobID, err)
				}
				return nil
			})
		case <-gctx.Done():
			return g.Wait()
		}
	}
}
