// Package session tracks the logical connection state of a client on top
// of a transport.Transport. The transport never exposes its state; the
// session infers it from the notifications the transport delivers.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/risa-org/relink/disconnect"
	"github.com/risa-org/relink/transport"
)

// State is the client's view of its connection.
type State int

const (
	StateDisconnected  State = iota // 0 - no connection, initial and terminal of each cycle
	StateConnecting                 // 1 - Connect called, waiting for the handshake
	StateConnected                  // 2 - handshake done, frames flowing
	StateDisconnecting              // 3 - Disconnect called, waiting for the close event
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// EventType says which notification an Event carries.
type EventType int

const (
	EventConnected EventType = iota
	EventDisconnected
	EventData
)

// Event is one transport notification, as seen by the session.
type Event struct {
	Type EventType
	Err  error            // EventDisconnected only
	Info *disconnect.Info // EventDisconnected only, nil when unstructured
	Data []byte           // EventData only
	At   time.Time
}

// DefaultEventBuffer is how many events Events() holds before new ones
// are dropped.
const DefaultEventBuffer = 256

// Session owns a transport and drives it through one connection cycle
// after another. It registers itself as the transport's delegate.
type Session struct {
	ID string // random, stable for the life of the session

	tr      transport.Transport
	binding *transport.Binding
	events  chan Event
	log     zerolog.Logger

	mu             sync.Mutex
	closed         bool
	state          State
	lastErr        error
	lastInfo       *disconnect.Info
	connects       int
	lastActiveAt   time.Time
	reconnectCount int
}

// New wraps tr and installs the session as its delegate.
func New(tr transport.Transport, log zerolog.Logger) *Session {
	now := time.Now()
	s := &Session{
		ID:           uuid.NewString(),
		tr:           tr,
		events:       make(chan Event, DefaultEventBuffer),
		state:        StateDisconnected,
		lastActiveAt: now,
	}
	s.log = log.With().Str("session", s.ID).Logger()
	s.binding = transport.Bind(s)
	tr.SetDelegate(s.binding)
	return s
}

// Connect starts a connection attempt. Returns false if the session is
// not disconnected or was closed; Disconnect first to restart.
func (s *Session) Connect() bool {
	if !s.transition(StateConnecting) {
		return false
	}
	s.tr.Connect()
	return true
}

// Disconnect asks the transport to close. Returns false when there is
// nothing to close or the session was closed.
func (s *Session) Disconnect() bool {
	if !s.transition(StateDisconnecting) {
		return false
	}
	s.tr.Disconnect()
	return true
}

// Write sends a frame if the session is connected. Returns false if the
// frame was not handed to the transport.
func (s *Session) Write(data []byte) bool {
	s.mu.Lock()
	ok := !s.closed && s.state == StateConnected
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.tr.Write(data)
	return true
}

// Close detaches the session from its transport and disconnects.
// No events are delivered afterwards, and Connect, Disconnect and Write
// all report false.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateDisconnected
	s.mu.Unlock()

	s.binding.Release()
	s.tr.Disconnect()
}

// Events returns the channel notifications are published on.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastDisconnect returns the structured info and raw error of the most
// recent disconnect. Both are nil before the first one.
func (s *Session) LastDisconnect() (*disconnect.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInfo, s.lastErr
}

// ReconnectCount is how many handshakes completed after the first.
func (s *Session) ReconnectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnectCount
}

// LastActiveAt is the time of the last state change.
func (s *Session) LastActiveAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActiveAt
}

func (s *Session) OnConnect() {
	if !s.transition(StateConnected) {
		s.log.Debug().Msg("connect ignored")
		return
	}

	s.mu.Lock()
	s.connects++
	if s.connects > 1 {
		s.reconnectCount++
	}
	s.mu.Unlock()

	s.publish(Event{Type: EventConnected})
}

func (s *Session) OnDisconnect(err error, info *disconnect.Info) {
	if !s.transition(StateDisconnected) {
		s.log.Debug().Msg("disconnect ignored")
		return
	}

	s.mu.Lock()
	s.lastErr = err
	s.lastInfo = info
	s.mu.Unlock()

	s.publish(Event{Type: EventDisconnected, Err: err, Info: info})
}

func (s *Session) OnReceiveData(data []byte) {
	if s.State() != StateConnected {
		return
	}
	s.publish(Event{Type: EventData, Data: data})
}

func (s *Session) publish(ev Event) {
	ev.At = time.Now()
	select {
	case s.events <- ev:
	default:
		s.log.Warn().Int("type", int(ev.Type)).Msg("event buffer full, dropping event")
	}
}

// transition moves the session to next if the table allows it.
func (s *Session) transition(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || !isValidTransition(s.state, next) {
		return false
	}
	s.log.Debug().Stringer("from", s.state).Stringer("to", next).Msg("state")
	s.state = next
	s.lastActiveAt = time.Now()
	return true
}

// isValidTransition defines which state changes are legal.
// A connection attempt may fail before it connects, and a close may be
// reported while we were still connecting or already disconnecting.
func isValidTransition(from, to State) bool {
	allowed := map[State][]State{
		StateDisconnected:  {StateConnecting},
		StateConnecting:    {StateConnected, StateDisconnecting, StateDisconnected},
		StateConnected:     {StateDisconnecting, StateDisconnected},
		StateDisconnecting: {StateDisconnected},
	}

	for _, valid := range allowed[from] {
		if to == valid {
			return true
		}
	}
	return false
}
