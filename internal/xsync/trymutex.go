// Package xsync carries the small concurrency primitives the wallet core
// needs beyond the standard library: a non-blocking mutex used to report
// "is a rescan already running" without blocking the caller, modeled on
// the TryMutex used by rivine's wallet package (modules/wallet/wallet.go's
// scanLock) to answer Rescanning() without waiting on the scan itself.
package xsync

// TryMutex is a mutex that additionally supports a non-blocking
// TryLock. The zero value is an unlocked TryMutex ready for use.
type TryMutex struct {
	ch chan struct{}
}

func (tm *TryMutex) lazyInit() chan struct{} {
	if tm.ch == nil {
		tm.ch = make(chan struct{}, 1)
	}
	return tm.ch
}

// Lock blocks until the mutex is acquired.
func (tm *TryMutex) Lock() {
	tm.lazyInit() <- struct{}{}
}

// Unlock releases the mutex. Unlocking an unlocked TryMutex panics, the
// same as sync.Mutex.
func (tm *TryMutex) Unlock() {
	select {
	case <-tm.lazyInit():
	default:
		panic("xsync: unlock of unlocked TryMutex")
	}
}

// TryLock attempts to acquire the mutex without blocking, reporting
// whether it succeeded. A successful TryLock must be paired with Unlock.
func (tm *TryMutex) TryLock() bool {
	select {
	case tm.lazyInit() <- struct{}{}:
		return true
	default:
		return false
	}
}
