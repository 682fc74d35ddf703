package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// MaxNameLength is the number of characters kept from a join name.
const MaxNameLength = 40

// DefaultName is stored for participants who join without a usable name.
const DefaultName = "Anonymous"

// ErrUnknownParticipant is returned for an id that never joined or has left.
var ErrUnknownParticipant = errors.New("unknown participant")

// Participant is one live connection in the session.
type Participant struct {
	ID        string
	Name      string
	Named     bool
	Offset    int
	HasCursor bool
}

// CursorEvent is produced by RecordCursor for fan-out.
type CursorEvent struct {
	ID     string
	Name   string
	Offset int
}

// LeaveEvent is produced by Leave for fan-out.
type LeaveEvent struct {
	ID string
}

// Store holds the shared document and the participant set. The document is
// always a complete snapshot; updates replace it wholesale.
type Store struct {
	mu           sync.Mutex // protects the fields below
	doc          string
	participants map[string]*Participant
}

// NewStore returns a store with an empty document and no participants.
func NewStore() *Store {
	return &Store{participants: make(map[string]*Participant)}
}

// Join registers a participant and returns the current document snapshot.
func (s *Store) Join(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[id] = &Participant{ID: id, Name: DefaultName}
	return s.doc
}

// SetName canonicalizes and stores the display name. The last call wins.
func (s *Store) SetName(id string, raw *string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return "", errors.Wrapf(ErrUnknownParticipant, "set name %s", id)
	}
	p.Name = CanonicalName(raw)
	p.Named = true
	return p.Name, nil
}

// ApplyUpdate replaces the document. No markup validation is done.
func (s *Store) ApplyUpdate(id, html string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[id]; !ok {
		return "", errors.Wrapf(ErrUnknownParticipant, "update from %s", id)
	}
	s.doc = html
	return s.doc, nil
}

// RecordCursor stores the reported offset and returns the event to fan out.
// The name is DefaultName until the participant sends a join.
func (s *Store) RecordCursor(id string, offset int) (CursorEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[id]
	if !ok {
		return CursorEvent{}, errors.Wrapf(ErrUnknownParticipant, "cursor from %s", id)
	}
	p.Offset = offset
	p.HasCursor = true
	return CursorEvent{ID: p.ID, Name: p.Name, Offset: offset}, nil
}

// Leave removes the participant. ok is false if it was not registered.
func (s *Store) Leave(id string) (ev LeaveEvent, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok = s.participants[id]; !ok {
		return LeaveEvent{}, false
	}
	delete(s.participants, id)
	return LeaveEvent{ID: id}, true
}

// Snapshot returns the current document.
func (s *Store) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Participants returns copies of the active participants ordered by id.
func (s *Store) Participants() []Participant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of active participants.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.participants)
}

// CanonicalName truncates to MaxNameLength characters and substitutes
// DefaultName for a nil or blank name.
func CanonicalName(raw *string) string {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return DefaultName
	}
	r := []rune(*raw)
	if len(r) > MaxNameLength {
		r = r[:MaxNameLength]
	}
	return string(r)
}
