// Package testing provides test helpers for the candlecache packages:
// goroutine error collection, candle fixtures and a scriptable provider.
package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

// GoroutineTest collects errors from goroutines started by a test.
//
// t.Fatal and t.FailNow only exit the calling goroutine, so helpers started
// with Go return an error instead; Wait reports all of them from the test
// goroutine.
//
//	gt := cctest.NewGoroutineTest(t, 5*time.Second)
//	defer gt.Wait()
//
//	gt.Go(func(ctx context.Context) error {
//	    _, err := svc.GetSeries(ctx, req, client)
//	    return err
//	})
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	mu     sync.Mutex
	errs   []error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a helper whose context expires after timeout.
func NewGoroutineTest(t *testing.T, timeout time.Duration) *GoroutineTest {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &GoroutineTest{t: t, ctx: ctx, cancel: cancel}
}

// Go runs fn in a goroutine and records a non-nil result.
func (gt *GoroutineTest) Go(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			gt.mu.Lock()
			gt.errs = append(gt.errs, err)
			gt.mu.Unlock()
		}
	}()
}

// Wait waits for all goroutines and fails the test if any returned an error.
func (gt *GoroutineTest) Wait() {
	gt.t.Helper()
	gt.wg.Wait()
	gt.cancel()

	if len(gt.errs) > 0 {
		for i, err := range gt.errs {
			gt.t.Errorf("goroutine error [%d]: %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the helper context.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Eventually polls condition until it holds or timeout elapses.
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return nil
		}
		time.Sleep(interval)
	}
	return fmt.Errorf("condition not met within %v", timeout)
}
