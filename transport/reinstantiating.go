package transport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/risa-org/relink/disconnect"
)

// Reinstantiating throws the socket away on every Connect and builds a
// fresh one. Each socket belongs to a generation; callbacks carry the
// generation they were registered for and are dropped once a newer
// Connect has started. A socket from an earlier connection can therefore
// never reach the current delegate, even if it still has events queued.
//
// Connect while connecting or connected is a transparent restart: the
// current socket is unregistered and closed, then a new generation begins.
type Reinstantiating struct {
	ep       Endpoint
	factory  SocketFactory
	delegate delegateRef
	opts     options

	latest atomic.Uint64 // id of the newest generation

	mu      sync.Mutex
	current *generation // nil when idle or after Disconnect
}

// generation is one socket and the lifecycle flags its callbacks share.
type generation struct {
	id   uint64
	sock Socket
	log  zerolog.Logger

	connected atomic.Bool // OnConnect delivered
	closing   atomic.Bool // Disconnect requested
	finished  atomic.Bool // OnDisconnect delivered
}

// NewReinstantiating creates an idle transport. No socket exists until
// the first Connect.
func NewReinstantiating(ep Endpoint, factory SocketFactory, opts ...Option) *Reinstantiating {
	return &Reinstantiating{
		ep:      ep,
		factory: factory,
		opts:    buildOptions(nameReinstantiating, opts),
	}
}

func (r *Reinstantiating) Connect() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev := r.current; prev != nil {
		// unregister first so the old socket cannot deliver its own close
		prev.sock.SetHandlers(SocketHandlers{})
		prev.sock.Disconnect()
		prev.log.Debug().Msg("superseded")
	}

	sock := r.factory(r.ep)
	g := &generation{
		id:   r.latest.Add(1),
		sock: sock,
	}
	g.log = r.opts.log.With().Uint64("generation", g.id).Str("socket", sock.ID()).Logger()

	r.current = g
	r.opts.metrics.setGeneration(nameReinstantiating, g.id)
	r.register(g)

	g.log.Debug().Msg("connect")
	sock.Connect()
}

// Disconnect closes the current socket and forgets it. Its callbacks stay
// registered so the close event can still deliver the final OnDisconnect;
// the callback unregisters itself afterwards.
func (r *Reinstantiating) Disconnect() {
	r.mu.Lock()
	g := r.current
	r.current = nil
	r.mu.Unlock()

	if g == nil {
		return
	}
	g.closing.Store(true)
	g.log.Debug().Msg("disconnect")
	g.sock.Disconnect()
}

func (r *Reinstantiating) Write(data []byte) {
	r.mu.Lock()
	g := r.current
	r.mu.Unlock()

	if g == nil {
		r.opts.metrics.writeDropped(nameReinstantiating)
		r.opts.log.Debug().Int("bytes", len(data)).Msg("write dropped, no socket")
		return
	}

	if err := g.sock.Write(data); err != nil {
		r.opts.metrics.writeDropped(nameReinstantiating)
		if errors.Is(err, ErrNotConnected) {
			g.log.Debug().Int("bytes", len(data)).Msg("write dropped, not connected")
			return
		}
		g.log.Warn().Err(err).Int("bytes", len(data)).Msg("write failed")
	}
}

// SetDelegate re-registers callbacks on the current socket, if any.
// It does not touch the socket's lifecycle.
func (r *Reinstantiating) SetDelegate(b *Binding) {
	r.delegate.store(b)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		r.register(r.current)
	}
}

// live reports whether g is still the newest generation.
func (r *Reinstantiating) live(g *generation) bool {
	return r.latest.Load() == g.id
}

func (r *Reinstantiating) dropStale(g *generation, event string) {
	r.opts.metrics.stale(event)
	g.log.Debug().Str("event", event).Msg("stale event dropped")
}

func (r *Reinstantiating) register(g *generation) {
	g.sock.SetHandlers(SocketHandlers{
		OnConnect: func() {
			if !r.live(g) || g.closing.Load() || g.finished.Load() {
				r.dropStale(g, "connect")
				return
			}
			if !g.connected.CompareAndSwap(false, true) {
				return
			}
			r.opts.metrics.connected(nameReinstantiating)
			g.log.Info().Msg("connected")
			if d := r.delegate.load(); d != nil {
				d.OnConnect()
			}
		},
		OnDisconnect: func(err error) {
			if !r.live(g) {
				r.dropStale(g, "disconnect")
				return
			}
			// at most one per generation
			if !g.finished.CompareAndSwap(false, true) {
				r.dropStale(g, "disconnect")
				return
			}

			info := disconnect.FromError(err)
			kind := disconnect.Classify(err)
			r.opts.metrics.disconnected(nameReinstantiating, kind)
			logDisconnect(g.log, kind, err, info)
			if d := r.delegate.load(); d != nil {
				d.OnDisconnect(err, info)
			}

			// the socket is done; break the socket -> closure -> transport link
			g.sock.SetHandlers(SocketHandlers{})
		},
		OnData: func(data []byte) {
			if !r.live(g) || g.closing.Load() || g.finished.Load() || !g.connected.Load() {
				r.dropStale(g, "data")
				return
			}
			if d := r.delegate.load(); d != nil {
				d.OnReceiveData(data)
			}
		},
	})
}
