// Package parallel provides the data-parallel runtime used by the batch
// smoothing engines: blocked range iteration and an inclusive prefix scan
// with a user-supplied associative combiner. A runtime limited to one
// thread degenerates to the serial forms with the same observable results.
package parallel

import (
	"runtime"
	"sync"
)

// DefaultBlockSize is the number of consecutive indices handed to a worker
// at a time when no block size is configured.
const DefaultBlockSize = 10

// Config carries the process-wide tunables of the runtime. Zero or negative
// values select the defaults.
type Config struct {
	// MaxThreads limits worker parallelism; <= 0 means GOMAXPROCS.
	MaxThreads int
	// BlockSize is the range-partition granularity; <= 0 means
	// DefaultBlockSize.
	BlockSize int
}

// Runtime executes range iterations and prefix scans.
type Runtime struct {
	threads   int
	blockSize int
}

// New returns a runtime with the given tunables.
func New(cfg Config) *Runtime {
	threads := cfg.MaxThreads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}

	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	return &Runtime{threads: threads, blockSize: blockSize}
}

// Default returns a runtime with default tunables.
func Default() *Runtime {
	return New(Config{})
}

// Threads returns the worker limit.
func (r *Runtime) Threads() int {
	return r.threads
}

// BlockSize returns the range-partition granularity.
func (r *Runtime) BlockSize() int {
	return r.blockSize
}

// ForEachRange partitions [0, n) into blocks and invokes body(begin, end)
// for each block, possibly concurrently. It returns when every block has
// been processed. Each index belongs to exactly one block.
func (r *Runtime) ForEachRange(n int, body func(begin, end int)) {
	if n <= 0 {
		return
	}

	blocks := (n + r.blockSize - 1) / r.blockSize
	if r.threads == 1 || blocks == 1 {
		body(0, n)
		return
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, r.threads)
	for b := 0; b < blocks; b++ {
		begin := b * r.blockSize
		end := begin + r.blockSize
		if end > n {
			end = n
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(begin, end int) {
			defer wg.Done()
			defer func() { <-sem }()
			body(begin, end)
		}(begin, end)
	}
	wg.Wait()
}

// PrefixScan computes the inclusive prefix scan of input under the
// associative combiner and stores it in output. With stride +1,
// output[k] = input[0] ⊕ ... ⊕ input[k]; with stride -1 the input is
// consumed from its tail, output[k] = input[n-1] ⊕ ... ⊕ input[n-1-k].
// The combiner must be associative and must treat a nil/zero operand as
// the identity. input and output must have equal length and may not alias.
//
// The scan runs in three phases when the runtime allows parallelism:
// per-block reductions, a serial scan over block sums, and a final
// per-block sweep seeded with the preceding block's running sum. The
// combiner may allocate freely; intermediates it wants reclaimed go into
// a Bag owned by the caller.
func PrefixScan[E any](r *Runtime, input, output []E, combine func(a, b E) E, stride int) {
	n := len(input)
	if n == 0 {
		return
	}
	if len(output) != n {
		panic("parallel: scan input and output lengths differ")
	}
	if stride != 1 && stride != -1 {
		panic("parallel: scan stride must be +1 or -1")
	}

	at := func(k int) E {
		if stride == 1 {
			return input[k]
		}
		return input[n-1-k]
	}

	blocks := (n + r.blockSize - 1) / r.blockSize
	if r.threads == 1 || blocks == 1 {
		var sum E
		for k := 0; k < n; k++ {
			sum = combine(sum, at(k))
			output[k] = sum
		}
		return
	}

	bounds := func(b int) (int, int) {
		begin := b * r.blockSize
		end := begin + r.blockSize
		if end > n {
			end = n
		}
		return begin, end
	}

	// Phase 1: reduce each block independently.
	sums := make([]E, blocks)
	r.ForEachRange(blocks, func(bb, be int) {
		for b := bb; b < be; b++ {
			begin, end := bounds(b)
			var sum E
			for k := begin; k < end; k++ {
				sum = combine(sum, at(k))
			}
			sums[b] = sum
		}
	})

	// Phase 2: exclusive scan of the block sums, serial.
	carries := make([]E, blocks)
	var carry E
	for b := 0; b < blocks; b++ {
		carries[b] = carry
		carry = combine(carry, sums[b])
	}

	// Phase 3: sweep each block seeded with its carry.
	r.ForEachRange(blocks, func(bb, be int) {
		for b := bb; b < be; b++ {
			begin, end := bounds(b)
			sum := carries[b]
			for k := begin; k < end; k++ {
				sum = combine(sum, at(k))
				output[k] = sum
			}
		}
	})
}
