package utils

import (
	"runtime"
	"sync"

	"go.viam.com/utils"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

// minRowsPerWorker keeps small images on the calling goroutine.
const minRowsPerWorker = 32

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// RowWorkFunc processes the half-open row range [from, to).
type RowWorkFunc func(from, to int)

// ParallelRows splits `height` rows into contiguous bands and runs `work` on each band. Every band
// is finished before ParallelRows returns. Bands never overlap, so workers writing only to their
// own rows need no synchronization.
func ParallelRows(height int, work RowWorkFunc) {
	if height <= 0 {
		return
	}
	numGroups := ParallelFactor
	if maxGroups := height / minRowsPerWorker; numGroups > maxGroups {
		numGroups = maxGroups
	}
	if numGroups <= 1 {
		work(0, height)
		return
	}

	groupSize := height / numGroups
	extra := height % numGroups

	var wait sync.WaitGroup
	wait.Add(numGroups)
	for groupNum := 0; groupNum < numGroups; groupNum++ {
		from := groupSize * groupNum
		to := from + groupSize
		if groupNum == numGroups-1 {
			to += extra
		}
		utils.PanicCapturingGo(func() {
			defer wait.Done()
			work(from, to)
		})
	}
	wait.Wait()
}
