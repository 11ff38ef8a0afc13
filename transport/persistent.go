package transport

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/risa-org/relink/disconnect"
)

// Persistent reuses a single socket for its whole lifetime.
// Connect and Disconnect go straight to that socket; SetDelegate swaps
// the socket's callbacks in place.
//
// This is the baseline. It does not guard against a socket that keeps
// firing queued callbacks after the client considers it gone. Use
// Reinstantiating when that matters. Persistent fits backends where
// building a socket per attempt is expensive.
type Persistent struct {
	sock     Socket
	delegate delegateRef
	opts     options
}

// NewPersistent builds the one socket this transport will ever use.
func NewPersistent(ep Endpoint, factory SocketFactory, opts ...Option) *Persistent {
	p := &Persistent{
		sock: factory(ep),
		opts: buildOptions(namePersistent, opts),
	}
	p.opts.log = p.opts.log.With().Str("socket", p.sock.ID()).Logger()
	p.register()
	return p
}

// Connect starts the socket. While the socket is already connecting or
// open this is a no-op: the backend only dials from idle.
func (p *Persistent) Connect() {
	p.opts.log.Debug().Msg("connect")
	p.sock.Connect()
}

func (p *Persistent) Disconnect() {
	p.opts.log.Debug().Msg("disconnect")
	p.sock.Disconnect()
}

func (p *Persistent) Write(data []byte) {
	if err := p.sock.Write(data); err != nil {
		p.opts.metrics.writeDropped(namePersistent)
		if errors.Is(err, ErrNotConnected) {
			p.opts.log.Debug().Int("bytes", len(data)).Msg("write dropped, not connected")
			return
		}
		p.opts.log.Warn().Err(err).Int("bytes", len(data)).Msg("write failed")
	}
}

func (p *Persistent) SetDelegate(b *Binding) {
	p.delegate.store(b)
	p.register()
}

// register replaces the socket's callbacks. Each closure resolves the
// delegate at call time, so a replaced delegate is never reached again.
func (p *Persistent) register() {
	p.sock.SetHandlers(SocketHandlers{
		OnConnect: func() {
			p.opts.metrics.connected(namePersistent)
			p.opts.log.Info().Msg("connected")
			if d := p.delegate.load(); d != nil {
				d.OnConnect()
			}
		},
		OnDisconnect: func(err error) {
			info := disconnect.FromError(err)
			kind := disconnect.Classify(err)
			p.opts.metrics.disconnected(namePersistent, kind)
			logDisconnect(p.opts.log, kind, err, info)
			if d := p.delegate.load(); d != nil {
				d.OnDisconnect(err, info)
			}
		},
		OnData: func(data []byte) {
			if d := p.delegate.load(); d != nil {
				d.OnReceiveData(data)
			}
		},
	})
}

func logDisconnect(log zerolog.Logger, kind disconnect.Kind, err error, info *disconnect.Info) {
	ev := log.Info().Str("kind", kind.String())
	if err != nil {
		ev = ev.Err(err)
	}
	if info != nil {
		ev = ev.Int("code", info.Code).Str("reason", info.Reason).Bool("reconnect", info.Reconnect)
	}
	ev.Msg("disconnected")
}
