package reconcile

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"collabtext/internal/relay"
)

const doc = "<p>ab<b>cd</b></p><p>éf</p>"

func newWith(t *testing.T, snapshot string) *Reconciler {
	t.Helper()
	r := New()
	if err := r.Init("me", snapshot); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestInit(t *testing.T) {
	r := newWith(t, doc)
	if r.ID() != "me" {
		t.Fatalf("ID() = %q", r.ID())
	}
	if r.CleanHTML() != doc || r.LastAcknowledged() != doc {
		t.Fatalf("clean = %q, ack = %q", r.CleanHTML(), r.LastAcknowledged())
	}
	if r.Text() != "abcdéf" || r.Len() != 6 {
		t.Fatalf("text = %q len = %d", r.Text(), r.Len())
	}

	empty := newWith(t, "")
	if empty.CleanHTML() != "" || empty.Len() != 0 {
		t.Fatalf("empty init rendered %q", empty.CleanHTML())
	}
}

func TestApplyRemoteSuppressesIdentical(t *testing.T) {
	r := newWith(t, doc)
	r.SetCursor("peer", "Bo", 2)
	changed, err := r.ApplyRemote(doc)
	if err != nil {
		t.Fatal(err)
	}
	if changed {
		t.Fatal("identical snapshot replaced the view")
	}
	if r.Marker("peer") == nil {
		t.Fatal("overlay lost on a suppressed update")
	}

	changed, err = r.ApplyRemote("<p>new</p>")
	if err != nil || !changed {
		t.Fatalf("changed = %v, err = %v", changed, err)
	}
	if r.CleanHTML() != "<p>new</p>" || r.LastAcknowledged() != "<p>new</p>" {
		t.Fatalf("clean = %q", r.CleanHTML())
	}
	if m := r.Marker("peer"); m == nil || r.OffsetOf(m, 0) != 2 {
		t.Fatal("overlay not rebuilt after replacement")
	}
}

func TestLocalEditSuppression(t *testing.T) {
	r := newWith(t, "<p>hi</p>")
	if _, ok, _ := r.SetContent("<p>hi</p>"); ok {
		t.Fatal("unchanged content would be sent")
	}
	out, ok, err := r.SetContent("<p>hi there</p>")
	if err != nil || !ok || out != "<p>hi there</p>" {
		t.Fatalf("SetContent = %q, %v, %v", out, ok, err)
	}
	if _, ok, _ := r.SetContent("<p>hi there</p>"); ok {
		t.Fatal("repeated content would be sent twice")
	}

	// A received snapshot becomes the acknowledged state, so echoing it
	// back is suppressed.
	if _, err := r.ApplyRemote("<p>remote</p>"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := r.SetContent("<p>remote</p>"); ok {
		t.Fatal("received snapshot would be echoed")
	}
}

func TestEditIgnoresOverlay(t *testing.T) {
	r := newWith(t, "<p>abc</p>")
	r.SetCursor("peer", "Bo", 1)
	if _, ok := r.Edit(func(*html.Node) {}); ok {
		t.Fatal("overlay markers counted as a local edit")
	}
	out, ok := r.Edit(func(root *html.Node) {
		p := &html.Node{Type: html.ElementNode, DataAtom: atom.P, Data: "p"}
		p.AppendChild(&html.Node{Type: html.TextNode, Data: "more"})
		root.AppendChild(p)
	})
	if !ok || out != "<p>abc</p><p>more</p>" {
		t.Fatalf("Edit = %q, %v", out, ok)
	}
	if strings.Contains(out, MarkerClass) {
		t.Fatal("marker leaked into outgoing snapshot")
	}
}

func TestOffsetRoundTrip(t *testing.T) {
	r := newWith(t, doc)
	l := r.Len()
	for o := -2; o <= l+3; o++ {
		r.SetCursor("peer", "Bo", o)
		m := r.Marker("peer")
		if m == nil {
			t.Fatalf("offset %d: no marker", o)
		}
		if got, want := r.OffsetOf(m, 0), clamp(o, 0, l); got != want {
			t.Fatalf("offset %d: marker preceded by %d characters, want %d\n%s", o, got, want, r.HTML())
		}
		if o > l && m.Parent != r.Root() {
			t.Fatalf("offset %d: marker not at end of content", o)
		}
		if r.CleanHTML() != doc {
			t.Fatalf("offset %d: overlay changed clean html: %s", o, r.CleanHTML())
		}
	}
}

func TestManyCursorsDoNotDrift(t *testing.T) {
	r := newWith(t, doc)
	offsets := map[string]int{"a": 0, "b": 1, "c": 1, "d": 3, "e": 5, "f": 6, "g": 40}
	for id, o := range offsets {
		r.SetCursor(id, strings.ToUpper(id), o)
	}
	for id, o := range offsets {
		m := r.Marker(id)
		if m == nil {
			t.Fatalf("%s: no marker", id)
		}
		if got := r.OffsetOf(m, 0); got != clamp(o, 0, r.Len()) {
			t.Fatalf("%s: offset %d, want %d\n%s", id, got, o, r.HTML())
		}
	}
	if r.Text() != "abcdéf" {
		t.Fatalf("labels leaked into text projection: %q", r.Text())
	}
}

func TestMarkerMarkup(t *testing.T) {
	r := newWith(t, "<p>abcd</p>")
	r.SetCursor("peer", "", 2)
	want := `<p>ab<span class="remote-cursor" data-peer="peer"><span class="label">Guest</span></span>cd</p>`
	if r.HTML() != want {
		t.Fatalf("HTML() = %s", r.HTML())
	}

	r.RemoveCursor("peer")
	if r.HTML() != "<p>abcd</p>" {
		t.Fatalf("HTML() after removal = %s", r.HTML())
	}
	p := r.Root().FirstChild
	if p.FirstChild == nil || p.FirstChild != p.LastChild || p.FirstChild.Data != "abcd" {
		t.Fatal("split text nodes were not merged")
	}
}

func TestOwnCursorIgnored(t *testing.T) {
	r := newWith(t, "<p>abcd</p>")
	r.SetCursor("me", "Me", 1)
	if len(r.Cursors()) != 0 || r.Marker("me") != nil {
		t.Fatal("own cursor drawn")
	}
}

func TestPositionAt(t *testing.T) {
	r := newWith(t, doc)
	tests := []struct {
		offset int
		text   string
		index  int
		end    bool
	}{
		{0, "ab", 0, false},
		{2, "ab", 2, false},
		{3, "cd", 1, false},
		{4, "cd", 2, false},
		{5, "éf", 1, false},
		{6, "éf", 2, false},
		{7, "", 0, true},
	}
	for _, tt := range tests {
		pos := r.PositionAt(tt.offset)
		if pos.End != tt.end {
			t.Fatalf("offset %d: End = %v", tt.offset, pos.End)
		}
		if tt.end {
			continue
		}
		if pos.Node.Data != tt.text || pos.Index != tt.index {
			t.Fatalf("offset %d: got (%q, %d)", tt.offset, pos.Node.Data, pos.Index)
		}
		if got := r.OffsetOf(pos.Node, pos.Index); got != tt.offset {
			t.Fatalf("offset %d: OffsetOf = %d", tt.offset, got)
		}
	}
}

func TestCaretPreservedAcrossRemoteUpdate(t *testing.T) {
	r := newWith(t, doc)
	r.SetCaret(5)
	if _, err := r.ApplyRemote("<p>abcdefgh</p>"); err != nil {
		t.Fatal(err)
	}
	if r.Caret() != 5 {
		t.Fatalf("caret = %d, want 5", r.Caret())
	}
	if _, err := r.ApplyRemote("<p>ab</p>"); err != nil {
		t.Fatal(err)
	}
	if r.Caret() != 2 {
		t.Fatalf("caret = %d, want clamp to 2", r.Caret())
	}
	r.SetCaret(-4)
	if r.Caret() != 0 {
		t.Fatalf("caret = %d", r.Caret())
	}
}

func TestMalformedSnapshotAccepted(t *testing.T) {
	r := newWith(t, "")
	changed, err := r.ApplyRemote("<p>unclosed<b>bold")
	if err != nil || !changed {
		t.Fatalf("changed = %v, err = %v", changed, err)
	}
	if r.Text() != "unclosedbold" {
		t.Fatalf("text = %q", r.Text())
	}
}

func TestHandle(t *testing.T) {
	r := New()
	steps := []struct {
		msg     relay.Message
		changed bool
	}{
		{relay.Init{ID: "me", HTML: "<p>abc</p>"}, true},
		{relay.Presence{ID: "p2", Name: "Bo"}, false},
		{relay.CursorMoved{ID: "p2", Name: "Bo", Offset: 1}, false},
		{relay.Update{HTML: "<p>abc</p>"}, false},
		{relay.Update{HTML: "<p>xyz</p>"}, true},
		{relay.Leave{ID: "p2"}, false},
	}
	for i, s := range steps {
		changed, err := r.Handle(s.msg)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if changed != s.changed {
			t.Fatalf("step %d (%T): changed = %v", i, s.msg, changed)
		}
	}
	if r.ID() != "me" || r.CleanHTML() != "<p>xyz</p>" || len(r.Cursors()) != 0 || r.Marker("p2") != nil {
		t.Fatalf("state after handle: id=%q html=%s cursors=%v", r.ID(), r.HTML(), r.Cursors())
	}
}
