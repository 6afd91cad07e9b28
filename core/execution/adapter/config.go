// This file contains the tunables of the adapter that follow first-write-wins
// semantics: once a value is set, later calls are ignored so that concurrent
// components racing at startup cannot flip the configuration mid-flight.

package adapter

import (
	"runtime"
	"sync"
)

const (
	// defaultConcurrency is the concurrency level when none is set, which
	// selects the sequential execution strategy.
	defaultConcurrency = 1

	// defaultProofReaders is the number of proof reading threads advertised
	// when none is set.
	defaultProofReaders = 32

	// maxProofReaders bounds the number of proof reading threads.
	maxProofReaders = 256
)

// Once is a first-write-wins cell. The first Set pins the value for the
// lifetime of the cell and later calls are ignored.
type Once[T any] struct {
	sync.Mutex
	done  bool
	value T
}

// Set stores the value if the cell is still empty. It returns true when the
// value has been stored.
func (o *Once[T]) Set(value T) bool {
	o.Lock()
	defer o.Unlock()

	if o.done {
		return false
	}

	o.value = value
	o.done = true

	return true
}

// Get returns the stored value, or the fallback when nothing has been set.
func (o *Once[T]) Get(fallback T) T {
	o.Lock()
	defer o.Unlock()

	if !o.done {
		return fallback
	}

	return o.value
}

// SetConcurrencyLevel pins the block execution concurrency level, silently
// capped at the number of CPUs. Only the first call has an effect.
func (a *Adapter) SetConcurrencyLevel(level int) {
	if level < 1 {
		level = 1
	}
	if cpus := runtime.NumCPU(); level > cpus {
		level = cpus
	}

	if !a.concurrency.Set(level) {
		a.logger.Warn().Int("level", level).
			Msg("concurrency level already set, ignoring")
	}
}

// GetConcurrencyLevel returns the concurrency level, defaulting to the
// sequential strategy.
func (a *Adapter) GetConcurrencyLevel() int {
	return a.concurrency.Get(defaultConcurrency)
}

// SetProofReaderCount pins the number of proof reading threads, silently
// capped at 256. Only the first call has an effect.
func (a *Adapter) SetProofReaderCount(count int) {
	if count < 1 {
		count = 1
	}
	if count > maxProofReaders {
		count = maxProofReaders
	}

	if !a.proofReaders.Set(count) {
		a.logger.Warn().Int("count", count).
			Msg("proof reader count already set, ignoring")
	}
}

// GetProofReaderCount returns the number of proof reading threads.
func (a *Adapter) GetProofReaderCount() int {
	return a.proofReaders.Get(defaultProofReaders)
}
