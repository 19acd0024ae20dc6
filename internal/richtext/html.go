package richtext

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// ToHTML renders a tree as HTML.
func ToHTML(node Node) string {
	var b strings.Builder
	renderNode(&b, node)
	return b.String()
}

func renderNode(b *strings.Builder, node Node) {
	switch node.Type {
	case "doc":
		renderContent(b, node.Content)
	case "paragraph":
		wrap(b, "<p>", "</p>\n", node.Content)
	case "heading":
		level := 1
		if lvl, ok := node.Attrs["level"].(float64); ok && lvl >= 1 && lvl <= 6 {
			level = int(lvl)
		}
		wrap(b, fmt.Sprintf("<h%d>", level), fmt.Sprintf("</h%d>\n", level), node.Content)
	case "bulletList":
		wrap(b, "<ul>\n", "</ul>\n", node.Content)
	case "orderedList":
		wrap(b, "<ol>\n", "</ol>\n", node.Content)
	case "listItem":
		wrap(b, "<li>", "</li>\n", node.Content)
	case "blockquote":
		wrap(b, "<blockquote>\n", "</blockquote>\n", node.Content)
	case "codeBlock":
		b.WriteString("<pre><code>")
		b.WriteString(html.EscapeString(PlainText(node)))
		b.WriteString("</code></pre>\n")
	case "text":
		b.WriteString(renderTextWithMarks(node.Text, node.Marks))
	case "hardBreak":
		b.WriteString("<br>")
	case "table":
		wrap(b, "<table>\n", "</table>\n", node.Content)
	case "tableRow":
		wrap(b, "<tr>\n", "</tr>\n", node.Content)
	case "tableCell":
		wrap(b, "<td>", "</td>\n", node.Content)
	case "tableHeader":
		wrap(b, "<th>", "</th>\n", node.Content)
	case "horizontalRule":
		b.WriteString("<hr>\n")
	default:
		renderContent(b, node.Content)
	}
}

func wrap(b *strings.Builder, start, end string, content []Node) {
	b.WriteString(start)
	renderContent(b, content)
	b.WriteString(end)
}

func renderContent(b *strings.Builder, content []Node) {
	for _, child := range content {
		renderNode(b, child)
	}
}

// Marks apply from the outside in.
func renderTextWithMarks(text string, marks []Mark) string {
	if text == "" {
		return ""
	}
	out := html.EscapeString(text)
	for i := len(marks) - 1; i >= 0; i-- {
		switch marks[i].Type {
		case "bold":
			out = "<strong>" + out + "</strong>"
		case "italic":
			out = "<em>" + out + "</em>"
		case "code":
			out = "<code>" + out + "</code>"
		case "strike":
			out = "<s>" + out + "</s>"
		case "underline":
			out = "<u>" + out + "</u>"
		case "link":
			href, _ := marks[i].Attrs["href"].(string)
			if safe, ok := safeHref(href); ok {
				out = fmt.Sprintf(`<a href="%s">%s</a>`, html.EscapeString(safe), out)
			}
		}
	}
	return out
}

var linkSchemes = map[string]struct{}{
	"http":   {},
	"https":  {},
	"mailto": {},
}

// safeHref accepts absolute http, https and mailto links only.
func safeHref(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	if _, ok := linkSchemes[strings.ToLower(u.Scheme)]; !ok {
		return "", false
	}
	return u.String(), true
}
