package cadence

import (
	"bytes"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"sync/atomic"

	"framecadence/internal/log"
)

// Sentinel contract-violation errors. Contract violations are fatal
// and abort the process; compare with errors.Is, never by string.
var (
	// ErrAlreadyInitialized is the sentinel wrapped by the panic
	// Initialize raises when called more than once on the same
	// Dispatcher.
	ErrAlreadyInitialized = errors.New("cadence: dispatcher already initialized")
	// ErrLayerIndexOutOfRange is the sentinel wrapped by the panic
	// update_layer_enabled/update_layer_converged raise on an
	// out-of-range index.
	ErrLayerIndexOutOfRange = errors.New("cadence: layer index out of range")
	// ErrWrongGoroutine is the sentinel wrapped by the panic a
	// worker-only operation raises when invoked from a goroutine other
	// than its owner.
	ErrWrongGoroutine = errors.New("cadence: operation invoked off the owning worker")
)

// assertRange panics with ErrLayerIndexOutOfRange if index is not in
// [0, n). An out-of-range layer index is a contract violation: fatal,
// not a recoverable error.
func assertRange(index, n int) {
	if index < 0 || index >= n {
		err := fmt.Errorf("%w: index %d, layer count %d", ErrLayerIndexOutOfRange, index, n)
		log.Errorf("%v", err)
		panic(err)
	}
}

// workerGuard pins a worker-only method family to whichever goroutine
// calls it first. There is no queue-awareness here — it is a plain
// goroutine-identity check, so it works the same way whether that
// first caller is taskqueue.Real's single consumer goroutine or, for
// taskqueue.Fake's inline execution, whatever goroutine happens to
// post the first task.
type workerGuard struct {
	owner atomic.Uint64
}

// assertWorker panics with ErrWrongGoroutine if the calling goroutine
// differs from the one that first called assertWorker on g.
func (g *workerGuard) assertWorker() {
	id := goroutineID()
	if g.owner.CompareAndSwap(0, id) {
		return
	}
	if owner := g.owner.Load(); owner != id {
		err := fmt.Errorf("%w: owner goroutine %d, caller goroutine %d", ErrWrongGoroutine, owner, id)
		log.Errorf("%v", err)
		panic(err)
	}
}

// goroutineID extracts the calling goroutine's id from its stack
// trace header ("goroutine 123 [running]:"). The runtime exposes no
// public accessor, so parsing runtime.Stack's own output is the usual
// way Go code without a public API reads it.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}
