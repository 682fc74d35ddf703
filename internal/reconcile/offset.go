package reconcile

import (
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Position is a point in the tree: Index runes into the text node Node, or
// the end of the container when End is set.
type Position struct {
	Node  *html.Node
	Index int
	End   bool
}

// walkText calls fn for every text node under n in document order, skipping
// overlay markers. It stops early when fn returns false.
func walkText(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case isMarker(c):
		case c.Type == html.TextNode:
			if !fn(c) {
				return false
			}
		default:
			if !walkText(c, fn) {
				return false
			}
		}
	}
	return true
}

func textLen(n *html.Node) int {
	return utf8.RuneCountInString(n.Data)
}

// flatLen is the length of the flattened text projection under n.
func flatLen(n *html.Node) int {
	total := 0
	walkText(n, func(t *html.Node) bool {
		total += textLen(t)
		return true
	})
	return total
}

func flatText(n *html.Node) string {
	var b []byte
	walkText(n, func(t *html.Node) bool {
		b = append(b, t.Data...)
		return true
	})
	return string(b)
}

// positionAt maps a flattened offset to a tree position. Offsets past the
// end land at the end of root; negative offsets are treated as zero.
func positionAt(root *html.Node, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	remaining := offset
	var pos Position
	found := !walkText(root, func(t *html.Node) bool {
		if l := textLen(t); remaining > l {
			remaining -= l
			return true
		}
		pos = Position{Node: t, Index: remaining}
		return false
	})
	if !found {
		return Position{Node: root, End: true}
	}
	return pos
}

// offsetOf counts the flattened text preceding target. For a text node the
// first index runes of target are included.
func offsetOf(root, target *html.Node, index int) int {
	n := 0
	var walk func(*html.Node) bool
	walk = func(p *html.Node) bool {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c == target {
				if c.Type == html.TextNode {
					n += clamp(index, 0, textLen(c))
				}
				return false
			}
			switch {
			case isMarker(c):
			case c.Type == html.TextNode:
				n += textLen(c)
			default:
				if !walk(c) {
					return false
				}
			}
		}
		return true
	}
	walk(root)
	return n
}

// byteIndex converts a rune index into s to a byte index.
func byteIndex(s string, runes int) int {
	if runes <= 0 {
		return 0
	}
	i := 0
	for b := range s {
		if i == runes {
			return b
		}
		i++
	}
	return len(s)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
