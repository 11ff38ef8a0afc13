package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/risa-org/relink/disconnect"
)

// ErrNotConnected is returned by a Socket when you try to write while it
// has no open connection. Transports swallow it: writes are fire and forget.
var ErrNotConnected = errors.New("socket not connected")

// Delegate receives the three notifications a transport emits.
// Calls arrive on the socket's own goroutine, never the caller's.
// The client moves them onto its own execution context.
type Delegate interface {
	// OnConnect fires once the handshake completed.
	OnConnect()

	// OnDisconnect fires when the connection ended, voluntarily or not.
	// err is nil for a clean voluntary close. info is non-nil only when the
	// close event carried a decodable structured payload.
	OnDisconnect(err error, info *disconnect.Info)

	// OnReceiveData delivers one inbound application frame.
	OnReceiveData(data []byte)
}

// Transport is the contract the client drives.
// The client never imports a concrete socket library. It only talks to
// this interface.
//
// Connect, Disconnect, Write and SetDelegate are expected to be called from
// a single control goroutine owned by the client.
type Transport interface {
	// Connect begins an asynchronous connection attempt. The outcome is
	// reported later through OnConnect or OnDisconnect.
	Connect()

	// Disconnect requests termination of the current connection.
	// A no-op when nothing is connected. It never notifies by itself;
	// OnDisconnect follows from the underlying close event.
	Disconnect()

	// Write sends one binary frame. Frames written while not connected
	// are dropped.
	Write(data []byte)

	// SetDelegate installs a non-owning observer. The previous delegate
	// receives nothing further once this returns. nil detaches.
	SetDelegate(b *Binding)
}

// Endpoint is the connection target a transport is built for.
// It is fixed at construction time.
type Endpoint struct {
	URL              string
	Header           http.Header
	Subprotocols     []string
	TLSSkipVerify    bool          // skip TLS certificate verification
	HandshakeTimeout time.Duration // zero means no dial deadline
	WriteTimeout     time.Duration // zero means no per-frame deadline
	ReadLimit        int64         // max inbound frame size, zero keeps the backend default
}

// SocketHandlers are the callbacks a Socket invokes.
// A zero value unregisters everything: the socket then drops its events.
type SocketHandlers struct {
	OnConnect    func()
	OnDisconnect func(err error)
	OnData       func(data []byte)
}

// Socket is the underlying connection object a transport wraps.
// Backends live in subpackages (websocket, gorilla).
type Socket interface {
	// ID identifies this socket instance in logs.
	ID() string

	// Connect starts dialing in the background. Ignored unless idle.
	Connect()

	// Disconnect closes the connection, or aborts a dial in flight.
	// OnDisconnect fires once the close completes. Ignored when idle.
	Disconnect()

	// Write sends one binary frame.
	// Returns ErrNotConnected if the socket is not open.
	Write(data []byte) error

	// SetHandlers replaces all callbacks at once.
	SetHandlers(h SocketHandlers)
}

// SocketFactory builds a new, idle socket for an endpoint.
type SocketFactory func(ep Endpoint) Socket
