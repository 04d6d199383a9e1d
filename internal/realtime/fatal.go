package realtime

import "sync/atomic"

// FatalLatch is the process-wide sticky fatal flag. The message router
// trips it when the server signals an unrecoverable session; the
// connection manager consults it to suppress automatic reconnection
// and downgrade later disconnect noise. A successful retry never
// clears it; only an explicit new-credential connect does.
type FatalLatch struct {
	tripped atomic.Bool
}

// Trip marks the session as fatally failed.
func (l *FatalLatch) Trip() {
	l.tripped.Store(true)
}

// Tripped reports whether the session has fatally failed.
func (l *FatalLatch) Tripped() bool {
	return l.tripped.Load()
}

// Reset clears the latch. Called only on an explicit new session.
func (l *FatalLatch) Reset() {
	l.tripped.Store(false)
}
