// Package pool recycles timers across host calls, so a request/reply
// round trip does not allocate a fresh time.Timer for every reply wait.
package pool

import (
	"sync"
	"time"
)

var timerPool sync.Pool

// GetTimer hands out a timer armed for d. Give it back with PutTimer once
// the wait is over.
func GetTimer(d time.Duration) *time.Timer {
	if v := timerPool.Get(); v != nil {
		t, _ := v.(*time.Timer) // the pool only ever holds *time.Timer
		if t.Reset(d) {
			// Still armed from its previous owner; swallow the stale fire.
			select {
			case <-t.C:
			default:
			}
		}
		return t
	}
	return time.NewTimer(d)
}

// PutTimer disarms t and returns it to the pool. The timer must not be
// used after this call.
func PutTimer(t *time.Timer) {
	if !t.Stop() {
		// Swallow a fire the caller never consumed.
		select {
		case <-t.C:
		default:
		}
	}
	timerPool.Put(t)
}
