// Package engine orchestrates the daemon's background workers.
package engine

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Worker is a long-running background task owned by the engine. Run
// must return promptly once the context is canceled.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// Engine manages and runs all workers.
type Engine struct {
	workers []Worker
	logger  *logrus.Entry
}

// New creates a new Engine instance.
func New(logger *logrus.Entry) *Engine {
	return &Engine{logger: logger}
}

// Register adds a worker to the engine.
func (e *Engine) Register(w Worker) {
	e.workers = append(e.workers, w)
}

// Start runs all workers and blocks until context is canceled and
// every worker has returned.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range e.workers {
		wg.Add(1)
		go func(w Worker) {
			defer wg.Done()
			e.logger.WithField("worker", w.Name()).Info("Starting worker")
			if err := w.Run(ctx); err != nil {
				e.logger.WithField("worker", w.Name()).WithError(err).Error("Worker failed")
			}
		}(w)
	}
	wg.Wait()
}
