// Package schedule provides periodic tasks with explicit cancellation handles.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Task is a handle to a scheduled periodic job. Cancel is idempotent and
// safe to call from inside the job itself.
type Task interface {
	Cancel()
}

// Scheduler runs fn every interval until the returned task is cancelled.
type Scheduler interface {
	Every(interval time.Duration, fn func()) Task
}

// Ticker is the production Scheduler backed by time.Ticker.
type Ticker struct{}

type tickerTask struct {
	cancel context.CancelFunc
	once   sync.Once
}

func (t *tickerTask) Cancel() {
	t.once.Do(t.cancel)
}

// Every starts a goroutine that invokes fn on every tick.
func (Ticker) Every(interval time.Duration, fn func()) Task {
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	task := &tickerTask{cancel: cancel}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// a tick may race with Cancel; honour the cancellation first
				if ctx.Err() != nil {
					return
				}
				fn()
			}
		}
	}()

	return task
}
