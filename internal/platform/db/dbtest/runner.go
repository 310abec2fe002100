// Package dbtest provides a db.TxRunner for tests that run against
// in-memory repositories.
package dbtest

import (
	"context"
	"sync"
)

// Snapshotter is implemented by in-memory repositories that can roll back.
// Snapshot captures the current state and returns a function restoring it.
type Snapshotter interface {
	Snapshot() (restore func())
}

type txKey struct{}

// Runner serializes units of work and restores every participant when fn
// fails, mirroring commit/rollback of a real transaction.
type Runner struct {
	mu           sync.Mutex
	participants []Snapshotter
	Commits      int
	Rollbacks    int
}

func NewRunner(participants ...Snapshotter) *Runner {
	return &Runner{participants: participants}
}

func (r *Runner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	restores := make([]func(), 0, len(r.participants))
	for _, p := range r.participants {
		restores = append(restores, p.Snapshot())
	}

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		for _, restore := range restores {
			restore()
		}
		r.Rollbacks++
		return err
	}
	r.Commits++
	return nil
}
