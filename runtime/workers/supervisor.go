// Package workers holds the relay's supervised background tasks.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"relay/contract"
)

// Supervisor runs each worker in its own goroutine, recovers panics, and
// restarts the worker after a cool-down. One misbehaving worker must not
// take down the supervisor or its siblings.
type Supervisor struct {
	log             *slog.Logger
	restartInterval time.Duration
	wg              sync.WaitGroup
	workers         []contract.Worker
}

func NewSupervisor(log *slog.Logger, restartInterval time.Duration) *Supervisor {
	return &Supervisor{log: log, restartInterval: restartInterval}
}

func (s *Supervisor) Add(workers ...contract.Worker) *Supervisor {
	s.workers = append(s.workers, workers...)
	return s
}

// Run starts every registered worker and blocks until ctx is canceled and
// all workers have returned.
func (s *Supervisor) Run(ctx context.Context) {
	for _, worker := range s.workers {
		s.start(ctx, worker)
	}
	s.wg.Wait()
}

func (s *Supervisor) start(ctx context.Context, worker contract.Worker) {
	name := contract.GetWorkerName(worker)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			err := s.runOnce(ctx, worker)
			if ctx.Err() != nil {
				s.log.Debug("worker stopped", "worker", name)
				return
			}
			if err != nil {
				s.log.Error("worker failed, restarting", "worker", name, "error", err)
			} else {
				s.log.Warn("worker returned early, restarting", "worker", name)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.restartInterval):
			}
		}
	}()
}

// runOnce isolates a single worker execution so a panic is converted into an
// error for the restart loop.
func (s *Supervisor) runOnce(ctx context.Context, worker contract.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panic: %v", r)
		}
	}()
	return worker.Run(ctx)
}
