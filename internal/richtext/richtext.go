// Package richtext holds the typed ProseMirror-style tree used for lesson content
// and rich comment bodies, plus the plain-text flattening that defines anchor offsets.
package richtext

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Node is one node of a rich-text tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting attached to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

var ErrInvalidDocument = errors.New("invalid rich-text document")

var blockTypes = map[string]struct{}{
	"paragraph":      {},
	"heading":        {},
	"blockquote":     {},
	"codeBlock":      {},
	"listItem":       {},
	"bulletList":     {},
	"orderedList":    {},
	"table":          {},
	"tableRow":       {},
	"tableCell":      {},
	"tableHeader":    {},
	"horizontalRule": {},
	"taskList":       {},
	"taskItem":       {},
	"details":        {},
	"detailsSummary": {},
	"detailsContent": {},
}

// isBlock reports whether node is separated from its block siblings by a
// newline. Unknown container nodes count as blocks.
func isBlock(node Node) bool {
	if _, ok := blockTypes[node.Type]; ok {
		return true
	}
	switch node.Type {
	case "text", "hardBreak":
		return false
	}
	return len(node.Content) > 0
}

// Parse decodes a serialized tree. Empty input yields an empty document.
func Parse(raw []byte) (Node, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return Doc(), nil
	}
	var node Node
	if err := json.Unmarshal(raw, &node); err != nil {
		return Node{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if node.Type == "" {
		return Node{}, fmt.Errorf("%w: missing root type", ErrInvalidDocument)
	}
	return node, nil
}

// Marshal serializes a tree for storage or transport.
func Marshal(node Node) ([]byte, error) {
	return json.Marshal(node)
}

// Doc builds a document from top-level blocks.
func Doc(blocks ...Node) Node {
	return Node{Type: "doc", Content: blocks}
}

// Paragraph builds a paragraph holding a single unmarked text run.
func Paragraph(text string) Node {
	if text == "" {
		return Node{Type: "paragraph"}
	}
	return Node{Type: "paragraph", Content: []Node{{Type: "text", Text: text}}}
}

// PlainText flattens the tree. Text runs concatenate, sibling blocks are joined
// by a single newline and hard breaks contribute a newline.
func PlainText(node Node) string {
	var b strings.Builder
	writePlain(&b, node)
	return b.String()
}

func writePlain(b *strings.Builder, node Node) {
	switch node.Type {
	case "text":
		b.WriteString(node.Text)
		return
	case "hardBreak":
		b.WriteByte('\n')
		return
	}
	wroteBlock := false
	for _, child := range node.Content {
		block := isBlock(child)
		if block && wroteBlock {
			b.WriteByte('\n')
		}
		writePlain(b, child)
		if block {
			wroteBlock = true
		}
	}
}

// IsEmpty reports whether the tree carries no visible text.
func IsEmpty(node Node) bool {
	return strings.TrimSpace(PlainText(node)) == ""
}
