package relay

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Message types on the wire.
const (
	TypeInit     = "init"
	TypeJoin     = "join"
	TypePresence = "presence"
	TypeUpdate   = "update"
	TypeCursor   = "cursor"
	TypeLeave    = "leave"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Message is one protocol variant. The set is closed: only the types in this
// file implement it.
type Message interface {
	Type() string
	message()
}

// Init is sent once to a new connection.
type Init struct {
	ID   string `json:"id"`
	HTML string `json:"html"`
}

// Join registers a display name. Name is nil when absent or null.
type Join struct {
	Name *string `json:"name,omitempty"`
}

// Presence announces a joined participant to the others.
type Presence struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Update carries a complete document snapshot in either direction.
type Update struct {
	HTML string `json:"html"`
}

// Cursor is a participant's caret report.
type Cursor struct {
	Offset int `json:"offset"`
}

// CursorMoved is the server's fan-out of a Cursor report.
type CursorMoved struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Offset int    `json:"offset"`
}

// Leave announces a closed connection.
type Leave struct {
	ID string `json:"id"`
}

// Type returns the wire tag of the variant.
func (Init) Type() string        { return TypeInit }
func (Join) Type() string        { return TypeJoin }
func (Presence) Type() string    { return TypePresence }
func (Update) Type() string      { return TypeUpdate }
func (Cursor) Type() string      { return TypeCursor }
func (CursorMoved) Type() string { return TypeCursor }
func (Leave) Type() string       { return TypeLeave }

func (Init) message()        {}
func (Join) message()        {}
func (Presence) message()    {}
func (Update) message()      {}
func (Cursor) message()      {}
func (CursorMoved) message() {}
func (Leave) message()       {}

// MarshalJSON encodes the variant with its "type" tag.
func (m Init) MarshalJSON() ([]byte, error) {
	type body Init
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

func (m Join) MarshalJSON() ([]byte, error) {
	type body Join
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

func (m Presence) MarshalJSON() ([]byte, error) {
	type body Presence
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

func (m Update) MarshalJSON() ([]byte, error) {
	type body Update
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

func (m Cursor) MarshalJSON() ([]byte, error) {
	type body Cursor
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

func (m CursorMoved) MarshalJSON() ([]byte, error) {
	type body CursorMoved
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

func (m Leave) MarshalJSON() ([]byte, error) {
	type body Leave
	return json.Marshal(struct {
		Type string `json:"type"`
		body
	}{m.Type(), body(m)})
}

// Encode serializes m with its type tag.
func Encode(m Message) ([]byte, error) {
	buf, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", m.Type())
	}
	return buf, nil
}
