// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"sync"
	"time"
)

// FakeSleeper records sleep calls without actually sleeping.
type FakeSleeper struct {
	mu    sync.Mutex
	calls []time.Duration
}

// Sleep records d. Returns ctx.Err() if the context is already cancelled.
func (f *FakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	f.calls = append(f.calls, d)
	f.mu.Unlock()
	return nil
}

func (f *FakeSleeper) Calls() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration{}, f.calls...)
}

func (f *FakeSleeper) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// TotalDuration returns the sum of all recorded sleeps.
func (f *FakeSleeper) TotalDuration() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	var total time.Duration
	for _, d := range f.calls {
		total += d
	}
	return total
}
