package transport

import (
	"fmt"
	"runtime"
	"sync"
	"testing"

	"github.com/risa-org/relink/disconnect"
)

// fakeSocket is a minimal Socket for testing.
// It records lifecycle calls and lets tests fire events by hand,
// exactly like a real backend would from its read goroutine.
type fakeSocket struct {
	id string

	mu          sync.Mutex
	handlers    SocketHandlers
	open        bool
	connects    int
	disconnects int
	written     [][]byte
}

func (f *fakeSocket) ID() string { return f.id }

func (f *fakeSocket) Connect() {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
}

func (f *fakeSocket) Disconnect() {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeSocket) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return ErrNotConnected
	}
	f.written = append(f.written, data)
	return nil
}

func (f *fakeSocket) SetHandlers(h SocketHandlers) {
	f.mu.Lock()
	f.handlers = h
	f.mu.Unlock()
}

func (f *fakeSocket) current() SocketHandlers {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers
}

func (f *fakeSocket) registered() bool {
	h := f.current()
	return h.OnConnect != nil || h.OnDisconnect != nil || h.OnData != nil
}

func (f *fakeSocket) fireConnect() {
	f.mu.Lock()
	f.open = true
	f.mu.Unlock()
	if h := f.current(); h.OnConnect != nil {
		h.OnConnect()
	}
}

func (f *fakeSocket) fireData(data string) {
	if h := f.current(); h.OnData != nil {
		h.OnData([]byte(data))
	}
}

func (f *fakeSocket) fireDisconnect(err error) {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	if h := f.current(); h.OnDisconnect != nil {
		h.OnDisconnect(err)
	}
}

func (f *fakeSocket) stats() (connects, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.disconnects
}

// fakeFactory hands out fakeSockets and remembers every one it built.
type fakeFactory struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	ep      Endpoint
}

func (ff *fakeFactory) build(ep Endpoint) Socket {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	ff.ep = ep
	s := &fakeSocket{id: fmt.Sprintf("fake-%d", len(ff.sockets)+1)}
	ff.sockets = append(ff.sockets, s)
	return s
}

func (ff *fakeFactory) socket(i int) *fakeSocket {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return ff.sockets[i]
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.sockets)
}

// disconnectCall is one OnDisconnect as seen by the recorder.
type disconnectCall struct {
	err  error
	info *disconnect.Info
}

// recorder is a Delegate that keeps every notification it receives.
type recorder struct {
	mu          sync.Mutex
	connects    int
	disconnects []disconnectCall
	data        []string
}

func (r *recorder) OnConnect() {
	r.mu.Lock()
	r.connects++
	r.mu.Unlock()
}

func (r *recorder) OnDisconnect(err error, info *disconnect.Info) {
	r.mu.Lock()
	r.disconnects = append(r.disconnects, disconnectCall{err: err, info: info})
	r.mu.Unlock()
}

func (r *recorder) OnReceiveData(data []byte) {
	r.mu.Lock()
	r.data = append(r.data, string(data))
	r.mu.Unlock()
}

func (r *recorder) snapshot() (connects int, disconnects []disconnectCall, data []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects, append([]disconnectCall(nil), r.disconnects...), append([]string(nil), r.data...)
}

// pinned binds d and keeps the binding reachable until the test ends.
// Transports only hold bindings weakly, so an unreferenced one may be
// collected halfway through a test.
func pinned(t *testing.T, d Delegate) *Binding {
	t.Helper()
	b := Bind(d)
	t.Cleanup(func() { runtime.KeepAlive(b) })
	return b
}
