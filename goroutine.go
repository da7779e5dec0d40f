package forkjoin

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the calling goroutine's runtime id by parsing the
// "goroutine N [state]:" header of a single-goroutine stack trace. Go has
// no native goroutine-local storage, and none of the retrieval pack's
// dependencies provide it either (the usual third-party answer,
// petermattis/goid, never appears in go.mod anywhere in the pack), so this
// is the standard stdlib-only idiom for it — the same trick underlying
// packages like jtolds/gls.
//
// This is used only to implement the scheduler-scoped "current worker"
// lookup described in spec.md §9 ("model this as an explicit parameter at
// the lower layer and provide a thin convenience layer that reads a
// thread-local frame pointer set around each run()"): each worker's
// goroutine registers itself once, and CreateJob/CreateChildJob/Wait use
// this to recover the calling worker without threading it through every
// call.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	id, err := strconv.ParseUint(string(b[:i]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
