package utils

import (
	"runtime"
	"sync"

	"go.uber.org/multierr"
	goutils "go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ParallelForEachPoint runs work for every index in [0, n) across a group of
// worker goroutines. The work items must be independent of each other; output
// ordering is the caller's responsibility (write to index i of a preallocated
// slice). All errors are collected and combined.
func ParallelForEachPoint(n int, work func(i int) error) error {
	if n <= 0 {
		return nil
	}
	numWorkers := ParallelFactor
	if numWorkers > n {
		numWorkers = n
	}
	groupSize := n / numWorkers
	extra := n % numWorkers

	var wait sync.WaitGroup
	var errMu sync.Mutex
	var allErrs error
	wait.Add(numWorkers)
	from := 0
	for w := 0; w < numWorkers; w++ {
		size := groupSize
		if w < extra {
			size++
		}
		start, end := from, from+size
		from = end
		goutils.PanicCapturingGo(func() {
			defer wait.Done()
			for i := start; i < end; i++ {
				if err := work(i); err != nil {
					errMu.Lock()
					allErrs = multierr.Combine(allErrs, err)
					errMu.Unlock()
				}
			}
		})
	}
	wait.Wait()
	return allErrs
}
