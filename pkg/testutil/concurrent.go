package testutil

import (
	"errors"
	"sync"
	"sync/atomic"

	dErrors "tagconsent/pkg/domain-errors"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes      int32
	NotReady       int32
	StorageFailure int32
	Errors         int32
}

// Total returns the total number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.NotReady + r.StorageFailure + r.Errors
}

// RunConcurrent executes fn in parallel goroutines and buckets the results by
// consent error kind. This replaces the WaitGroup + atomic counters pattern in tests.
func RunConcurrent(goroutines int, fn func(idx int) error) *ConcurrentResult {
	var wg sync.WaitGroup
	var successes, notReady, storage, errs atomic.Int32

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			err := fn(idx)
			switch {
			case err == nil:
				successes.Add(1)
			case dErrors.HasCode(err, dErrors.CodeRuntimeNotReady):
				notReady.Add(1)
			case dErrors.HasCode(err, dErrors.CodeStorageUnavailable):
				storage.Add(1)
			default:
				errs.Add(1)
			}
		}(i)
	}

	wg.Wait()

	return &ConcurrentResult{
		Successes:      successes.Load(),
		NotReady:       notReady.Load(),
		StorageFailure: storage.Load(),
		Errors:         errs.Load(),
	}
}

// RunConcurrentCollect executes fn in parallel and collects all errors.
func RunConcurrentCollect(goroutines int, fn func(idx int) error) (successes int32, errs []error) {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var successCount atomic.Int32
	collected := make([]error, 0)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if err := fn(idx); err != nil {
				mu.Lock()
				collected = append(collected, err)
				mu.Unlock()
			} else {
				successCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	return successCount.Load(), collected
}

// IsKind reports whether err carries any of the given domain codes.
func IsKind(err error, codes ...dErrors.Code) bool {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		return false
	}
	for _, c := range codes {
		if de.Code == c {
			return true
		}
	}
	return false
}
