package relay

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
)

type envelope struct {
	Type string `json:"type"`
}

// Pointer fields tell an absent field apart from a zero value. A field of
// the wrong JSON type fails json.Unmarshal and is reported as ErrMalformed.
// Fields a variant does not use are ignored. Offsets decode as any JSON
// number and must be integral, so 3.0 and 1e2 are accepted.
type (
	joinWire struct {
		Name *string `json:"name"`
	}
	updateWire struct {
		HTML *string `json:"html"`
	}
	cursorWire struct {
		Offset *float64 `json:"offset"`
	}
	initWire struct {
		ID   *string `json:"id"`
		HTML *string `json:"html"`
	}
	presenceWire struct {
		ID   *string `json:"id"`
		Name *string `json:"name"`
	}
	cursorMovedWire struct {
		ID     *string `json:"id"`
		Name   *string `json:"name"`
		Offset *float64 `json:"offset"`
	}
	leaveWire struct {
		ID *string `json:"id"`
	}
)

func typeOf(raw []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", errors.Wrap(ErrMalformed, err.Error())
	}
	return env.Type, nil
}

func body(typ string, raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return errors.Wrapf(ErrMalformed, "%s: %v", typ, err)
	}
	return nil
}

func missing(typ, field string) error {
	return errors.Wrapf(ErrMalformed, "%s: missing %s", typ, field)
}

// maxOffset is the largest integer a float64 holds exactly.
const maxOffset = 1 << 53

func offset(typ string, f *float64) (int, error) {
	if f == nil {
		return 0, missing(typ, "offset")
	}
	if *f != math.Trunc(*f) || math.Abs(*f) > maxOffset {
		return 0, errors.Wrapf(ErrMalformed, "%s: offset %v is not an integer", typ, *f)
	}
	return int(*f), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Decode parses a participant-to-server message: Join, Update or Cursor.
func Decode(raw []byte) (Message, error) {
	typ, err := typeOf(raw)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeJoin:
		var w joinWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		return Join{Name: w.Name}, nil
	case TypeUpdate:
		var w updateWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		if w.HTML == nil {
			return nil, missing(typ, "html")
		}
		return Update{HTML: *w.HTML}, nil
	case TypeCursor:
		var w cursorWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		off, err := offset(typ, w.Offset)
		if err != nil {
			return nil, err
		}
		return Cursor{Offset: off}, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "%q", typ)
}

// DecodeServer parses a server-to-participant message.
func DecodeServer(raw []byte) (Message, error) {
	typ, err := typeOf(raw)
	if err != nil {
		return nil, err
	}
	switch typ {
	case TypeInit:
		var w initWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		if w.ID == nil {
			return nil, missing(typ, "id")
		}
		return Init{ID: *w.ID, HTML: deref(w.HTML)}, nil
	case TypePresence:
		var w presenceWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		if w.ID == nil {
			return nil, missing(typ, "id")
		}
		return Presence{ID: *w.ID, Name: deref(w.Name)}, nil
	case TypeUpdate:
		var w updateWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		if w.HTML == nil {
			return nil, missing(typ, "html")
		}
		return Update{HTML: *w.HTML}, nil
	case TypeCursor:
		var w cursorMovedWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		if w.ID == nil {
			return nil, missing(typ, "id")
		}
		off, err := offset(typ, w.Offset)
		if err != nil {
			return nil, err
		}
		return CursorMoved{ID: *w.ID, Name: deref(w.Name), Offset: off}, nil
	case TypeLeave:
		var w leaveWire
		if err := body(typ, raw, &w); err != nil {
			return nil, err
		}
		if w.ID == nil {
			return nil, missing(typ, "id")
		}
		return Leave{ID: *w.ID}, nil
	}
	return nil, errors.Wrapf(ErrUnknownType, "%q", typ)
}
