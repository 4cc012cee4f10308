package receipt

import (
	"strings"

	"golang.org/x/net/html"
)

// Confirmation returns the trimmed text of the first element of markup
// matching selector, or "" when nothing matches.
//
// Supported selectors are the simple forms the order site needs:
//   - tag: "p"
//   - .class: ".badge-success"
//   - #id: "#receipt-number"
//   - tag.class, tag#id, tag[attr], tag[attr=val]
//   - descendant combinations separated by spaces: "#receipt p.badge"
func Confirmation(markup, selector string) string {
	if strings.TrimSpace(selector) == "" {
		return ""
	}
	doc, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return ""
	}
	nodes := querySelectorAll(doc, selector)
	if len(nodes) == 0 {
		return ""
	}
	return strings.Join(strings.Fields(nodeText(nodes[0])), " ")
}

func querySelectorAll(doc *html.Node, selector string) []*html.Node {
	parts := strings.Fields(selector)
	if len(parts) == 0 {
		return nil
	}
	matches := matchSimple(doc, parts[0], false)
	for _, p := range parts[1:] {
		var next []*html.Node
		for _, parent := range matches {
			next = append(next, matchSimple(parent, p, true)...)
		}
		matches = next
	}
	return matches
}

// matchSimple walks root in document order. With descendantsOnly, root
// itself is not a candidate.
func matchSimple(root *html.Node, sel string, descendantsOnly bool) []*html.Node {
	s := parseSelector(sel)
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if s.matches(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if descendantsOnly {
		for c := root.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		return out
	}
	walk(root)
	return out
}

type simpleSelector struct {
	tag, id, class   string
	attrKey, attrVal string
}

func parseSelector(sel string) simpleSelector {
	var s simpleSelector
	if i := strings.IndexByte(sel, '['); i >= 0 {
		attr := strings.TrimRight(sel[i+1:], "]")
		sel = sel[:i]
		if eq := strings.IndexByte(attr, '='); eq >= 0 {
			s.attrKey = attr[:eq]
			s.attrVal = strings.Trim(attr[eq+1:], `"'`)
		} else {
			s.attrKey = attr
		}
	}
	if i := strings.IndexByte(sel, '#'); i >= 0 {
		s.id = sel[i+1:]
		sel = sel[:i]
	}
	if i := strings.IndexByte(sel, '.'); i >= 0 {
		s.class = sel[i+1:]
		sel = sel[:i]
	}
	s.tag = sel
	return s
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attr(n, "id") != s.id {
		return false
	}
	if s.class != "" {
		found := false
		for _, c := range strings.Fields(attr(n, "class")) {
			if c == s.class {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if s.attrKey != "" {
		v, ok := lookupAttr(n, s.attrKey)
		if !ok || (s.attrVal != "" && v != s.attrVal) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
