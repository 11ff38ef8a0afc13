package disconnect

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Info is the structured metadata a server can embed in the reason text
// of a close frame. Wire shape:
//
//	{"code": <integer>, "reason": "<string>", "reconnect": <bool>}
type Info struct {
	Code      int    `json:"code"`
	Reason    string `json:"reason"`
	Reconnect bool   `json:"reconnect"`
}

// Decode parses the reason text of a close event.
// It never fails loudly: anything that is not a complete payload
// (bad JSON, missing field, wrong type) reports false. Keys are matched
// exactly, so "Code" or "CODE" does not count as "code".
func Decode(text string) (Info, bool) {
	if text == "" {
		return Info{}, false
	}

	dec := json.NewDecoder(strings.NewReader(text))

	var fields map[string]json.RawMessage
	if err := dec.Decode(&fields); err != nil || fields == nil {
		return Info{}, false
	}
	// only whitespace may follow the object
	if _, err := dec.Token(); err != io.EOF {
		return Info{}, false
	}

	var (
		code      *int
		reason    *string
		reconnect *bool
	)
	if !field(fields, "code", &code) || !field(fields, "reason", &reason) || !field(fields, "reconnect", &reconnect) {
		return Info{}, false
	}

	return Info{
		Code:      *code,
		Reason:    *reason,
		Reconnect: *reconnect,
	}, true
}

// field decodes fields[key] into dst. A missing key, a null value or a
// value of the wrong type reports false.
func field[T any](fields map[string]json.RawMessage, key string, dst **T) bool {
	raw, ok := fields[key]
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return *dst != nil
}

// Encode renders the info in its wire shape.
func (i Info) Encode() string {
	b, _ := json.Marshal(i)
	return string(b)
}

func (i Info) String() string {
	return fmt.Sprintf("code=%d reason=%q reconnect=%t", i.Code, i.Reason, i.Reconnect)
}

// reasonCarrier is implemented by errors that carry the text of a
// protocol-level close frame. Any error type can opt in, which keeps
// structured closes independent of the generic error path.
type reasonCarrier interface {
	CloseReason() string
}

// FromError extracts structured disconnect info from a close event error.
// Returns nil for generic network failures (resets, timeouts, DNS) and for
// close frames whose text is not a valid payload.
func FromError(err error) *Info {
	if err == nil {
		return nil
	}

	var carrier reasonCarrier
	if !errors.As(err, &carrier) {
		return nil
	}

	info, ok := Decode(carrier.CloseReason())
	if !ok {
		return nil
	}
	return &info
}

// CloseError is the normalized close event that socket backends surface
// when the peer sent a close frame. Backends translate their library's own
// close error into this type so the codec never depends on a specific
// WebSocket implementation.
type CloseError struct {
	Code   int    // WebSocket close status code
	Reason string // raw close frame reason text
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket closed: status = %d and reason = %q", e.Code, e.Reason)
}

// CloseReason returns the raw reason text from the close frame.
func (e *CloseError) CloseReason() string {
	return e.Reason
}
