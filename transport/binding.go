package transport

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Binding is the client-owned handle a transport uses to reach its delegate.
//
// The transport only keeps a weak pointer to the Binding, never the Binding
// itself. The client holds the strong reference, so there is no ownership
// cycle between client -> transport -> callback -> client. Once the client
// drops the Binding (or calls Release), notifications are silently dropped.
type Binding struct {
	mu       sync.RWMutex
	delegate Delegate
}

// Bind wraps d in a Binding. Keep the returned value alive for as long as
// d should receive notifications.
func Bind(d Delegate) *Binding {
	return &Binding{delegate: d}
}

// Release detaches the delegate. Safe to call more than once.
func (b *Binding) Release() {
	b.mu.Lock()
	b.delegate = nil
	b.mu.Unlock()
}

func (b *Binding) target() Delegate {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.delegate
}

// delegateRef is the non-owning slot both transports embed.
type delegateRef struct {
	ptr atomic.Pointer[weak.Pointer[Binding]]
}

func (r *delegateRef) store(b *Binding) {
	if b == nil {
		r.ptr.Store(nil)
		return
	}
	wp := weak.Make(b)
	r.ptr.Store(&wp)
}

// load returns the live delegate, or nil if the binding was released,
// collected, or never set.
func (r *delegateRef) load() Delegate {
	wp := r.ptr.Load()
	if wp == nil {
		return nil
	}
	b := wp.Value()
	if b == nil {
		return nil
	}
	return b.target()
}
