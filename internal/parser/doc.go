package parser

import (
	"encoding/json"
	"strings"
)

type mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// node is the subset of a ProseMirror node the parser reads.
type node struct {
	Type    string  `json:"type"`
	Text    string  `json:"text,omitempty"`
	Marks   []mark  `json:"marks,omitempty"`
	Content []*node `json:"content,omitempty"`
}

// blockTypes end a line when flattened to text.
var blockTypes = map[string]struct{}{
	"paragraph":      {},
	"heading":        {},
	"codeBlock":      {},
	"blockquote":     {},
	"listItem":       {},
	"taskItem":       {},
	"tableRow":       {},
	"mermaid":        {},
	"horizontalRule": {},
}

func parseDoc(content string) (*node, bool) {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "{") {
		return nil, false
	}
	var n node
	if err := json.Unmarshal([]byte(s), &n); err != nil {
		return nil, false
	}
	if n.Type != "doc" {
		return nil, false
	}
	return &n, true
}

func (n *node) walk(fn func(*node)) {
	fn(n)
	for _, c := range n.Content {
		if c != nil {
			c.walk(fn)
		}
	}
}

func (n *node) text(b *strings.Builder) {
	if n.Type == "hardBreak" {
		b.WriteByte('\n')
		return
	}
	b.WriteString(n.Text)
	for _, c := range n.Content {
		if c != nil {
			c.text(b)
		}
	}
	if _, ok := blockTypes[n.Type]; ok {
		b.WriteByte('\n')
	}
}
