/*
domaingate — discovery gating and domain vetting in Go
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// WorkItem represents a unit of work (one domain to validate).
// It is pooled via sync.Pool to reduce allocations when large batches are fanned out.
type WorkItem struct {
	Key       string          // Domain the work is about. Used for logging.
	Callback  WorkCallback    // Function to execute for this work item.
	OnDrop    func()          // Optional. Called instead of Callback if the item is discarded at shutdown.
	Ctx       context.Context // Context of the submitter; cancelled when its cycle ends.
	CreatedAt time.Time       // When the item was queued, for queue latency.
}

// WorkCallback is the function signature for work item callbacks.
type WorkCallback func(item *WorkItem) error

// Scheduler manages a fixed pool of worker goroutines reading from one shared
// queue. The pool size is the concurrency bound for deep validations: a slow
// domain only ever occupies its own worker, so validations of different
// domains never queue behind each other while a worker is free.
type Scheduler struct {
	numWorkers   int
	queue        chan *WorkItem     // Shared buffered queue.
	ctx          context.Context    // Master context for shutdown signalling.
	cancel       context.CancelFunc // Function to trigger shutdown.
	shutdown     atomic.Bool        // Flag to prevent submitting work during/after shutdown.
	submitMu     sync.RWMutex       // Held shared by submitters so Shutdown can wait them out.
	workItemPool sync.Pool          // Pool for reusing WorkItem structs.
	workersDone  sync.WaitGroup     // Tracks the worker goroutines themselves.
	stats        SchedulerStats
}

// SchedulerStats uses atomic counters for safe concurrent updates from workers.
type SchedulerStats struct {
	Submitted atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
	Panics    atomic.Int64
	Busy      atomic.Int64
}

// NewScheduler creates and starts a scheduler with numWorkers workers.
// numWorkers <= 0 falls back to DefaultValidationConcurrency and is capped at MaxWorkers.
func NewScheduler(parentCtx context.Context, numWorkers int) (*Scheduler, error) {
	if parentCtx == nil {
		return nil, fmt.Errorf("scheduler requires a parent context")
	}
	if numWorkers <= 0 {
		numWorkers = DefaultValidationConcurrency
	}
	if numWorkers > MaxWorkers {
		numWorkers = MaxWorkers
	}

	sctx, cancel := context.WithCancel(parentCtx)
	s := &Scheduler{
		numWorkers: numWorkers,
		queue:      make(chan *WorkItem, WorkerQueueCapacity),
		ctx:        sctx,
		cancel:     cancel,
		workItemPool: sync.Pool{
			New: func() interface{} {
				return &WorkItem{}
			},
		},
	}

	s.workersDone.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go s.run(i)
	}

	log.Printf("Scheduler initialized with %d workers.\n", numWorkers)
	return s, nil
}

// run is the processing loop for a single worker goroutine.
func (s *Scheduler) run(id int) {
	defer s.workersDone.Done()
	for {
		// Shutdown wins over queued work.
		if s.ctx.Err() != nil {
			return
		}
		select {
		case <-s.ctx.Done():
			return
		case item := <-s.queue:
			if item == nil {
				continue
			}
			s.process(id, item)
		}
	}
}

func (s *Scheduler) process(id int, item *WorkItem) {
	s.stats.Busy.Add(1)
	defer s.stats.Busy.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			s.stats.Panics.Add(1)
			s.stats.Failed.Add(1)
			log.Printf("Panic recovered in worker %d processing %s: %v", id, item.Key, r)
		}
		s.release(item)
	}()

	if err := item.Callback(item); err != nil {
		s.stats.Failed.Add(1)
		log.Printf("Error processing %s: %v\n", item.Key, err)
		return
	}
	s.stats.Completed.Add(1)
}

// release resets a WorkItem and returns it to the pool.
func (s *Scheduler) release(item *WorkItem) {
	item.Callback = nil
	item.OnDrop = nil
	item.Key = ""
	item.Ctx = nil
	item.CreatedAt = time.Time{}
	s.workItemPool.Put(item)
}

// SubmitWorkWithDrop queues a callback for key. It blocks while the queue is
// full and returns ctx.Err() if the submitter gives up first, or
// ErrWorkerShutdown once Shutdown has been called. onDrop, if set, runs instead
// of the callback when Shutdown discards the queued item; callers that wait on
// per-item completion use it to avoid waiting forever.
func (s *Scheduler) SubmitWorkWithDrop(ctx context.Context, key string, callback WorkCallback, onDrop func()) error {
	s.submitMu.RLock()
	defer s.submitMu.RUnlock()
	if s.shutdown.Load() {
		return ErrWorkerShutdown
	}
	if callback == nil {
		return fmt.Errorf("nil callback for %s", key)
	}

	item := s.workItemPool.Get().(*WorkItem)
	item.Key = key
	item.Callback = callback
	item.OnDrop = onDrop
	item.Ctx = ctx
	item.CreatedAt = time.Now()

	select {
	case s.queue <- item:
		s.stats.Submitted.Add(1)
		return nil
	case <-ctx.Done():
		s.release(item)
		return ctx.Err()
	case <-s.ctx.Done():
		s.release(item)
		return ErrWorkerShutdown
	}
}

// NumWorkers returns the size of the worker pool.
func (s *Scheduler) NumWorkers() int { return s.numWorkers }

// QueueDepth returns the number of items waiting for a worker.
func (s *Scheduler) QueueDepth() int { return len(s.queue) }

// GetStats returns the scheduler counters.
func (s *Scheduler) GetStats() *SchedulerStats { return &s.stats }

// Shutdown stops the workers and discards anything still queued. Items
// already being processed run to completion first; their callbacks observe
// their own contexts for cancellation.
func (s *Scheduler) Shutdown() {
	if !s.shutdown.CompareAndSwap(false, true) {
		return
	}
	log.Println("Scheduler shutting down...")
	s.cancel()
	// Blocked submitters return on s.ctx.Done; once the write lock is held no
	// new item can reach the queue.
	s.submitMu.Lock()
	s.submitMu.Unlock()
	s.workersDone.Wait()

	// Workers are gone; hand queued items to their drop hooks.
	for {
		select {
		case item := <-s.queue:
			if item != nil {
				if item.OnDrop != nil {
					item.OnDrop()
				}
				s.release(item)
			}
		default:
			log.Println("Scheduler shutdown complete.")
			return
		}
	}
}
