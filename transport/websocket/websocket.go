package websocket

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"nhooyr.io/websocket"

	"github.com/risa-org/relink/disconnect"
	"github.com/risa-org/relink/transport"
)

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
)

// Socket implements transport.Socket over nhooyr.io/websocket.
// Frames are sent and received as binary messages. A Socket can be
// connected again after it closed; Persistent relies on that.
type Socket struct {
	id string
	ep transport.Endpoint

	mu       sync.Mutex
	handlers transport.SocketHandlers
	state    state
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closing  bool // Disconnect was called for the current attempt
}

// New creates an idle socket for ep.
func New(ep transport.Endpoint) *Socket {
	return &Socket{
		id: uuid.NewString(),
		ep: ep,
	}
}

// Factory is a transport.SocketFactory producing nhooyr sockets.
func Factory(ep transport.Endpoint) transport.Socket {
	return New(ep)
}

func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) SetHandlers(h transport.SocketHandlers) {
	s.mu.Lock()
	s.handlers = h
	s.mu.Unlock()
}

func (s *Socket) Connect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != stateIdle {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.state = stateConnecting
	s.cancel = cancel
	s.closing = false
	go s.run(ctx)
}

// Disconnect starts the closing handshake, or aborts a dial in flight.
// The read loop reports the outcome through OnDisconnect.
func (s *Socket) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == stateIdle || s.closing {
		return
	}
	s.closing = true

	if s.state == stateConnecting {
		s.cancel()
		return
	}

	conn, cancel := s.conn, s.cancel
	// Close blocks until the peer answers or its own timeout fires
	go func() {
		conn.Close(websocket.StatusNormalClosure, "")
		cancel()
	}()
}

func (s *Socket) Write(data []byte) error {
	s.mu.Lock()
	conn := s.conn
	open := s.state == stateOpen && !s.closing
	s.mu.Unlock()

	if !open {
		return transport.ErrNotConnected
	}

	ctx := context.Background()
	if s.ep.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.ep.WriteTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageBinary, data)
}

func (s *Socket) run(ctx context.Context) {
	conn, err := s.dial(ctx)
	if err != nil {
		s.finish(err)
		return
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		s.finish(nil)
		return
	}
	s.conn = conn
	s.state = stateOpen
	s.mu.Unlock()

	if h := s.current(); h.OnConnect != nil {
		h.OnConnect()
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			s.finish(err)
			return
		}
		if h := s.current(); h.OnData != nil {
			h.OnData(data)
		}
	}
}

func (s *Socket) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx := ctx
	if s.ep.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.ep.HandshakeTimeout)
		defer cancel()
	}

	opts := &websocket.DialOptions{
		HTTPHeader:   s.ep.Header,
		Subprotocols: s.ep.Subprotocols,
	}
	if s.ep.TLSSkipVerify {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
			},
		}
	}

	conn, _, err := websocket.Dial(dialCtx, s.ep.URL, opts)
	if err != nil {
		return nil, err
	}
	if s.ep.ReadLimit > 0 {
		conn.SetReadLimit(s.ep.ReadLimit)
	}
	return conn, nil
}

// finish resets the socket to idle and emits exactly one OnDisconnect
// for the attempt that just ended.
func (s *Socket) finish(err error) {
	s.mu.Lock()
	voluntary := s.closing
	cancel := s.cancel
	s.state = stateIdle
	s.conn = nil
	s.cancel = nil
	s.closing = false
	h := s.handlers
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if h.OnDisconnect != nil {
		h.OnDisconnect(normalize(err, voluntary))
	}
}

func (s *Socket) current() transport.SocketHandlers {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handlers
}

// normalize turns nhooyr errors into what the transport layer expects.
// A close we asked for is clean; a close frame from the peer becomes a
// disconnect.CloseError so its reason text can be decoded; anything else
// is passed through untouched.
func normalize(err error, voluntary bool) error {
	if voluntary {
		return nil
	}
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		return &disconnect.CloseError{Code: int(ce.Code), Reason: ce.Reason}
	}
	return err
}
