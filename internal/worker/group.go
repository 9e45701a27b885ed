package worker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a named long-running loop of the worker process
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Group runs the loops of the worker process side by side
type Group struct {
	tasks []Task
	log   *zap.Logger

	mu     sync.Mutex
	failed map[string]error
}

// NewGroup creates a group over the given tasks
func NewGroup(log *zap.Logger, tasks ...Task) *Group {
	return &Group{
		tasks:  tasks,
		log:    log,
		failed: make(map[string]error),
	}
}

// Start runs every task and waits for all of them. Only ctx stops the
// tasks: one that fails or panics is logged and stops alone.
func (g *Group) Start(ctx context.Context) error {
	var eg errgroup.Group
	for _, task := range g.tasks {
		eg.Go(func() error {
			if err := g.run(ctx, task); err != nil {
				g.mu.Lock()
				g.failed[task.Name] = err
				g.mu.Unlock()
				g.log.Error("Worker task stopped with error",
					zap.String("task", task.Name),
					zap.Error(err))
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

func (g *Group) run(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("Worker task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r))
			err = fmt.Errorf("%s task panicked: %v", task.Name, r)
		}
	}()
	return task.Run(ctx)
}

// Failed returns the error of every task that stopped before ctx was cancelled
func (g *Group) Failed() map[string]error {
	g.mu.Lock()
	defer g.mu.Unlock()
	failed := make(map[string]error, len(g.failed))
	for name, err := range g.failed {
		failed[name] = err
	}
	return failed
}
