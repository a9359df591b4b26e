package tools

import (
	"context"
	"log"
)

// TaskFunc is a unit of background work.
type TaskFunc func(ctx context.Context) error

// Dispatch runs fn on its own goroutine, fire-and-forget. Used for work
// whose loss is tolerable, like download counter increments.
func Dispatch(ctx context.Context, name string, fn TaskFunc) {
	go func() {
		if err := fn(ctx); err != nil {
			log.Printf("[%s] background task failed: %v", name, err)
		}
	}()
}
