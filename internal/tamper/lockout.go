package tamper

import "sync"

// Lockout is the one-way signal shared between the monitor and everything
// that must stop once tampering is detected. It can be tripped exactly once
// and never resets.
type Lockout struct {
	once sync.Once
	done chan struct{}

	mu    sync.RWMutex
	kind  Kind
	count int
}

func NewLockout() *Lockout {
	return &Lockout{done: make(chan struct{})}
}

// Trip latches the lockout. Only the first call has any effect; it reports
// whether this call was the one that tripped it.
func (l *Lockout) Trip(kind Kind, count int) bool {
	tripped := false
	l.once.Do(func() {
		l.mu.Lock()
		l.kind = kind
		l.count = count
		l.mu.Unlock()
		close(l.done)
		tripped = true
	})
	return tripped
}

// Tripped reports whether the lockout has fired.
func (l *Lockout) Tripped() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// Done is closed when the lockout fires.
func (l *Lockout) Done() <-chan struct{} { return l.done }

// Cause returns the violation kind and count that tripped the lockout.
func (l *Lockout) Cause() (Kind, int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.kind, l.count
}
