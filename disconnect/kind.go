package disconnect

import "errors"

// Kind tells the layer above why a connection ended.
// It feeds log fields and metric labels, so you can see at a glance
// whether a connection dropped on the network, was closed by the server
// with instructions, or was shut down by us.
type Kind int

const (
	KindClean      Kind = iota // voluntary disconnect, no error
	KindStructured             // close frame carrying a decodable Info payload
	KindClose                  // close frame without a usable payload
	KindNetwork                // transport failure: reset, timeout, TLS, DNS
)

func (k Kind) String() string {
	switch k {
	case KindClean:
		return "clean"
	case KindStructured:
		return "structured"
	case KindClose:
		return "close"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Classify maps the raw error of a disconnect event to its Kind.
func Classify(err error) Kind {
	if err == nil {
		return KindClean
	}
	var carrier reasonCarrier
	if !errors.As(err, &carrier) {
		return KindNetwork
	}
	if _, ok := Decode(carrier.CloseReason()); ok {
		return KindStructured
	}
	return KindClose
}
