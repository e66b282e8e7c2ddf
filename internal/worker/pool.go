package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"resumeflow/internal/store"
)

// Pool runs a fixed set of workers polling the queue.
type Pool struct {
	queue        store.Queue
	runner       *Runner
	concurrency  int
	pollInterval time.Duration
	log          *slog.Logger
}

func NewPool(queue store.Queue, runner *Runner, concurrency int, pollInterval time.Duration, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		queue:        queue,
		runner:       runner,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		log:          logger,
	}
}

// Run blocks until ctx is cancelled and every worker has drained.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.concurrency; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.loop(ctx, worker)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	log := p.log.With("worker", worker)
	log.Info("worker.start")
	for {
		if ctx.Err() != nil {
			log.Info("worker.stop")
			return
		}
		deliveries, err := p.queue.Dequeue(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker.stop")
				return
			}
			log.Error("worker.dequeue.fail", "error", err)
			p.sleep(ctx)
			continue
		}
		if len(deliveries) == 0 {
			p.sleep(ctx)
			continue
		}
		for _, d := range deliveries {
			if err := p.runner.Handle(ctx, d); err != nil {
				// Left invisible; redelivered after the visibility
				// timeout.
				log.Error("worker.handle.fail", "delivery_id", d.ID, "error", err)
			}
		}
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.pollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
