// Package gorilla provides a transport.Socket backed by gorilla/websocket.
package gorilla

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/risa-org/relink/disconnect"
	"github.com/risa-org/relink/transport"
)

// closeGrace bounds how long we wait for the peer to answer our close frame.
const closeGrace = 5 * time.Second

type state int

const (
	stateIdle state = iota
	stateConnecting
	stateOpen
)

// Socket implements transport.Socket over gorilla/websocket.
type Socket struct {
	id string
	ep transport.Endpoint

	mu       sync.Mutex
	handlers transport.SocketHandlers
	state    state
	conn     *websocket.Conn
	cancel   context.CancelFunc
	closing  bool

	writeMu sync.Mutex // gorilla allows one concurrent writer
}

// New creates an idle socket for ep.
func New(ep transport.Endpoint) *Socket {
	return &Socket{
		id: uuid.NewString(),
		ep: ep,
	}
}

// Factory is a transport.SocketFactory producing gorilla sockets.
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

	conn := s.conn
	go func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		s.writeMu.Lock()
		err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		s.writeMu.Unlock()
		if err != nil {
			conn.Close()
			return
		}
		// the read loop exits when the peer echoes the close, or at the deadline
		conn.SetReadDeadline(time.Now().Add(closeGrace))
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

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.ep.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(s.ep.WriteTimeout))
	}
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

func (s *Socket) run(ctx context.Context) {
	dialer := websocket.Dialer{
		HandshakeTimeout: s.ep.HandshakeTimeout,
		Subprotocols:     s.ep.Subprotocols,
	}
	if s.ep.TLSSkipVerify {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	// gorilla stops watching ctx once the TCP connection exists, so an
	// aborted dial would sit in the upgrade until the peer answers.
	// Expire the raw connection's deadline when ctx ends instead.
	var stop func() bool
	dialer.NetDialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		c, err := (&net.Dialer{}).DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		stop = context.AfterFunc(ctx, func() {
			c.SetDeadline(time.Unix(1, 0))
		})
		return c, nil
	}

	conn, _, err := dialer.DialContext(ctx, s.ep.URL, s.ep.Header)
	if stop != nil {
		stop()
	}
	if err != nil {
		s.finish(err)
		return
	}
	if s.ep.ReadLimit > 0 {
		conn.SetReadLimit(s.ep.ReadLimit)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		s.finish(nil)
		return
	}
	s.conn = conn
	s.state = stateOpen
	s.mu.Unlock()

	if h := s.current(); h.OnConnect != nil {
		h.OnConnect()
	}

	defer conn.Close()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.finish(err)
			return
		}
		if h := s.current(); h.OnData != nil {
			h.OnData(data)
		}
	}
}

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

// normalize maps gorilla errors onto the transport layer's expectations.
// Gorilla reports a dropped TCP stream as a CloseError with status 1006;
// that status is never sent on the wire, so it stays a network error.
func normalize(err error, voluntary bool) error {
	if voluntary {
		return nil
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
		return &disconnect.CloseError{Code: ce.Code, Reason: ce.Text}
	}
	return err
}
