// Package shutdown provides the process-wide stop signal shared by the bridge pumps.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
)

// Coordinator is a single-shot broadcast. Once triggered it stays triggered.
type Coordinator struct {
	once      sync.Once
	done      chan struct{}
	triggered atomic.Bool
}

func New() *Coordinator {
	return &Coordinator{done: make(chan struct{})}
}

// Trigger raises the signal. Calling it more than once is a no-op.
func (c *Coordinator) Trigger() {
	c.once.Do(func() {
		c.triggered.Store(true)
		close(c.done)
	})
}

// IsTriggered never blocks.
func (c *Coordinator) IsTriggered() bool {
	return c.triggered.Load()
}

// Done is closed when the signal is raised.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// NotifyOnSignal triggers the coordinator when one of sigs arrives. Call stop to
// detach from the signals again.
func (c *Coordinator) NotifyOnSignal(sigs ...os.Signal) (stop func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sigs...)
	quit := make(chan struct{})
	go func() {
		select {
		case <-sigChan:
			c.Trigger()
		case <-quit:
		case <-c.done:
		}
		signal.Stop(sigChan)
	}()
	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() { close(quit) })
	}
}

// TriggerOnDone triggers the coordinator when ctx ends. Call stop to detach the
// watcher before that happens.
func (c *Coordinator) TriggerOnDone(ctx context.Context) (stop func()) {
	quit := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			c.Trigger()
		case <-quit:
		case <-c.done:
		}
	}()
	var stopOnce sync.Once
	return func() {
		stopOnce.Do(func() { close(quit) })
	}
}
