package resource

import (
	"context"
	"sync"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
)

// defaultPartitionWorkers sizes the async delta pool.
const defaultPartitionWorkers = 4

// partitionQueueSize bounds pending deltas before Apply falls back to
// inline application.
const partitionQueueSize = 1000

// applyTimeout bounds one delta application during async processing and
// shutdown drain.
const applyTimeout = 30 * time.Second

// partitionDelta is one unit of index maintenance: keys to create and
// keys to remove for a single record write.
type partitionDelta struct {
	resource string
	id       string
	puts     []string
	deletes  []string
}

func (d partitionDelta) empty() bool {
	return len(d.puts) == 0 && len(d.deletes) == 0
}

// partitionPool applies partition deltas in the background, decoupling
// index maintenance latency from record writes.
type partitionPool struct {
	store blob.Store
	queue chan partitionDelta

	workers   int
	wg        sync.WaitGroup
	taskWG    sync.WaitGroup
	stopCh    chan struct{}
	stopOnce  sync.Once
	stoppedCh chan struct{}
}

func newPartitionPool(store blob.Store, workers int) *partitionPool {
	p := &partitionPool{
		store:     store,
		queue:     make(chan partitionDelta, partitionQueueSize),
		workers:   workers,
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	go func() {
		p.wg.Wait()
		close(p.stoppedCh)
	}()

	return p
}

// Apply enqueues a delta. When the queue is full the delta is applied
// inline so index maintenance is delayed, never lost.
func (p *partitionPool) Apply(delta partitionDelta) {
	if delta.empty() {
		return
	}
	p.taskWG.Add(1)
	select {
	case p.queue <- delta:
	default:
		logger.Warn("partition delta queue full, applying inline",
			"resource", delta.resource, "id", delta.id)
		p.process(delta)
	}
}

// Drain blocks until every enqueued delta has been applied.
func (p *partitionPool) Drain() {
	p.taskWG.Wait()
}

// Close stops the workers after draining the queue.
func (p *partitionPool) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	select {
	case <-p.stoppedCh:
	case <-time.After(applyTimeout):
		logger.Warn("partition pool stop timed out")
	}
}

func (p *partitionPool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.stopCh:
			// Drain what is queued before exiting.
			for {
				select {
				case delta := <-p.queue:
					p.process(delta)
				default:
					return
				}
			}
		case delta := <-p.queue:
			p.process(delta)
		}
	}
}

func (p *partitionPool) process(delta partitionDelta) {
	defer p.taskWG.Done()

	ctx, cancel := context.WithTimeout(context.Background(), applyTimeout)
	defer cancel()

	if err := applyDelta(ctx, p.store, delta); err != nil {
		logger.Error("async partition delta failed",
			"resource", delta.resource, "id", delta.id, "error", err)
	}
}

// applyDelta creates and removes partition index keys. Per-key failures
// are collected so one bad key never blocks the rest of the delta.
func applyDelta(ctx context.Context, store blob.Store, delta partitionDelta) error {
	var firstErr error
	for _, key := range delta.puts {
		if err := store.Put(ctx, blob.PutInput{Key: key}); err != nil {
			logger.Warn("partition index put failed", "key", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	for _, key := range delta.deletes {
		err := store.Delete(ctx, key)
		if err != nil && errs.KindOf(err) != errs.KindNoSuchKey {
			logger.Warn("partition index delete failed", "key", key, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
