// Package reconcile keeps a participant's local copy of the shared document
// in step with the server. Incoming snapshots replace the local tree only
// when they differ from it; local edits are sent only when they differ from
// the last state this participant sent or received. Remote cursors are drawn
// as marker elements that never count toward character offsets.
package reconcile

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"collabtext/internal/relay"
)

// RemoteCursor is the latest cursor report of another participant.
type RemoteCursor struct {
	Name   string
	Offset int
}

// Reconciler is not safe for concurrent use; drive it from one goroutine.
type Reconciler struct {
	root    *html.Node
	selfID  string
	lastAck string
	cursors map[string]RemoteCursor
	caret   int
}

// New returns a reconciler with an empty document and no identity.
func New() *Reconciler {
	return &Reconciler{
		root:    &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"},
		cursors: make(map[string]RemoteCursor),
	}
}

// ID is the identifier assigned by the server, empty before Init.
func (r *Reconciler) ID() string { return r.selfID }

// Root is the editor container. Callers may edit it inside Edit.
func (r *Reconciler) Root() *html.Node { return r.root }

// Init applies the server's init message.
func (r *Reconciler) Init(id, snapshot string) error {
	r.selfID = id
	delete(r.cursors, id)
	if snapshot != "" {
		if err := r.replace(snapshot); err != nil {
			return err
		}
	}
	r.lastAck = r.CleanHTML()
	r.caret = clamp(r.caret, 0, r.Len())
	r.RenderCursors()
	return nil
}

// ApplyRemote merges an authoritative snapshot. The local tree is replaced
// only when snapshot differs from the clean local state; changed reports
// whether that happened. The caret keeps its offset, clamped to the new
// document length.
func (r *Reconciler) ApplyRemote(snapshot string) (changed bool, err error) {
	if snapshot == r.CleanHTML() {
		return false, nil
	}
	if err := r.replace(snapshot); err != nil {
		return false, err
	}
	r.lastAck = r.CleanHTML()
	r.caret = clamp(r.caret, 0, r.Len())
	r.RenderCursors()
	return true, nil
}

// Edit runs fn against the local tree and returns the snapshot to send, if
// the clean result differs from the last acknowledged state.
func (r *Reconciler) Edit(fn func(root *html.Node)) (string, bool) {
	fn(r.root)
	out, ok := r.outgoing()
	r.RenderCursors()
	return out, ok
}

// SetContent replaces the local tree as a local edit.
func (r *Reconciler) SetContent(snapshot string) (string, bool, error) {
	if err := r.replace(snapshot); err != nil {
		return "", false, err
	}
	out, ok := r.outgoing()
	r.RenderCursors()
	return out, ok, nil
}

func (r *Reconciler) outgoing() (string, bool) {
	clean := r.CleanHTML()
	if clean == r.lastAck {
		return "", false
	}
	r.lastAck = clean
	return clean, true
}

// LastAcknowledged is the last snapshot sent or received.
func (r *Reconciler) LastAcknowledged() string { return r.lastAck }

// SetCursor records another participant's cursor and redraws the overlay.
// Reports about this participant are ignored.
func (r *Reconciler) SetCursor(id, name string, offset int) {
	if id == r.selfID {
		return
	}
	r.cursors[id] = RemoteCursor{Name: name, Offset: offset}
	r.RenderCursors()
}

// RemoveCursor forgets a departed participant and redraws the overlay.
func (r *Reconciler) RemoveCursor(id string) {
	if _, ok := r.cursors[id]; !ok {
		return
	}
	delete(r.cursors, id)
	r.RenderCursors()
}

// Cursors returns a copy of the known remote cursors.
func (r *Reconciler) Cursors() map[string]RemoteCursor {
	out := make(map[string]RemoteCursor, len(r.cursors))
	for id, c := range r.cursors {
		out[id] = c
	}
	return out
}

// RenderCursors removes every marker and inserts one per remote cursor.
func (r *Reconciler) RenderCursors() {
	removeMarkers(r.root)
	ids := make([]string, 0, len(r.cursors))
	for id := range r.cursors {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		c := r.cursors[id]
		insertAt(positionAt(r.root, c.Offset), newMarker(id, c.Name))
	}
}

// Marker returns the overlay marker for participant id, if drawn.
func (r *Reconciler) Marker(id string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if isMarker(c) {
				if v, _ := attr(c, PeerAttr); v == id {
					found = c
				}
				continue
			}
			walk(c)
		}
	}
	walk(r.root)
	return found
}

// SetCaret moves the local caret to a flattened offset.
func (r *Reconciler) SetCaret(offset int) {
	r.caret = clamp(offset, 0, r.Len())
}

// Caret is the local caret as a flattened offset.
func (r *Reconciler) Caret() int { return r.caret }

// Len is the length of the flattened text projection.
func (r *Reconciler) Len() int { return flatLen(r.root) }

// Text is the flattened text projection.
func (r *Reconciler) Text() string { return flatText(r.root) }

// PositionAt maps a flattened offset to a position in the local tree.
func (r *Reconciler) PositionAt(offset int) Position { return positionAt(r.root, offset) }

// OffsetOf is the flattened text length preceding index runes into node,
// or preceding node itself when it is not a text node.
func (r *Reconciler) OffsetOf(node *html.Node, index int) int {
	return offsetOf(r.root, node, index)
}

// CleanHTML serializes the local tree without overlay markers.
func (r *Reconciler) CleanHTML() string { return renderChildren(r.root, true) }

// HTML serializes the local tree as rendered, markers included.
func (r *Reconciler) HTML() string { return renderChildren(r.root, false) }

// Handle applies one server message. changed reports whether the document
// content was replaced.
func (r *Reconciler) Handle(msg relay.Message) (changed bool, err error) {
	switch m := msg.(type) {
	case relay.Init:
		return m.HTML != "", r.Init(m.ID, m.HTML)
	case relay.Update:
		return r.ApplyRemote(m.HTML)
	case relay.CursorMoved:
		r.SetCursor(m.ID, m.Name, m.Offset)
	case relay.Leave:
		r.RemoveCursor(m.ID)
	}
	return false, nil
}

func (r *Reconciler) replace(snapshot string) error {
	nodes, err := html.ParseFragment(strings.NewReader(snapshot), r.context())
	if err != nil {
		return errors.Wrap(err, "parse snapshot")
	}
	for c := r.root.FirstChild; c != nil; {
		next := c.NextSibling
		r.root.RemoveChild(c)
		c = next
	}
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
		r.root.AppendChild(n)
	}
	return nil
}

func (r *Reconciler) context() *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: atom.Div, Data: "div"}
}
