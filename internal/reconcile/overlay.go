package reconcile

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	MarkerClass  = "remote-cursor"
	LabelClass   = "label"
	PeerAttr     = "data-peer"
	DefaultLabel = "Guest"
)

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func isMarker(n *html.Node) bool {
	if n.Type != html.ElementNode || n.DataAtom != atom.Span {
		return false
	}
	class, _ := attr(n, "class")
	for _, c := range strings.Fields(class) {
		if c == MarkerClass {
			return true
		}
	}
	return false
}

func newMarker(id, name string) *html.Node {
	if name == "" {
		name = DefaultLabel
	}
	marker := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr: []html.Attribute{
			{Key: "class", Val: MarkerClass},
			{Key: PeerAttr, Val: id},
		},
	}
	label := &html.Node{
		Type:     html.ElementNode,
		DataAtom: atom.Span,
		Data:     "span",
		Attr:     []html.Attribute{{Key: "class", Val: LabelClass}},
	}
	label.AppendChild(&html.Node{Type: html.TextNode, Data: name})
	marker.AppendChild(label)
	return marker
}

// removeMarkers deletes every overlay marker under n and merges the text
// nodes that insertion had split.
func removeMarkers(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if isMarker(c) {
			n.RemoveChild(c)
		} else {
			removeMarkers(c)
		}
		c = next
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		for c.Type == html.TextNode && c.NextSibling != nil && c.NextSibling.Type == html.TextNode {
			next := c.NextSibling
			c.Data += next.Data
			n.RemoveChild(next)
		}
	}
}

// insertAt places marker at pos, splitting the text node when pos falls
// inside it.
func insertAt(pos Position, marker *html.Node) {
	if pos.End {
		pos.Node.AppendChild(marker)
		return
	}
	t, parent := pos.Node, pos.Node.Parent
	b := byteIndex(t.Data, pos.Index)
	switch {
	case b == 0:
		parent.InsertBefore(marker, t)
	case b >= len(t.Data):
		parent.InsertBefore(marker, t.NextSibling)
	default:
		rest := &html.Node{Type: html.TextNode, Data: t.Data[b:]}
		t.Data = t.Data[:b]
		parent.InsertBefore(rest, t.NextSibling)
		parent.InsertBefore(marker, rest)
	}
}

// cloneClean deep-copies n without overlay markers.
func cloneClean(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for ch := n.FirstChild; ch != nil; ch = ch.NextSibling {
		if isMarker(ch) {
			continue
		}
		c.AppendChild(cloneClean(ch))
	}
	return c
}

// renderChildren serializes the children of n. Render only fails on
// ErrorNode, which parsed trees never contain.
func renderChildren(n *html.Node, clean bool) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if clean {
			if isMarker(c) {
				continue
			}
			_ = html.Render(&buf, cloneClean(c))
			continue
		}
		_ = html.Render(&buf, c)
	}
	return buf.String()
}
