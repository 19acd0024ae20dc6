package export

import (
	"bytes"
	"html/template"
	"strings"
	"time"
)

var documentTemplate = template.Must(template.New("document").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(documentLayout))

// TemplateData holds data for document template rendering
type TemplateData struct {
	Title       string
	ContentHTML template.HTML
	Author      string
	Version     int64
	UpdatedAt   time.Time
	Comments    []TemplateComment
}

// TemplateComment is one comment in the annotation list.
type TemplateComment struct {
	Quote      string
	Text       string
	Author     string
	Status     string
	Edited     bool
	Stale      bool
	Current    string
	Suggestion string
}

// RenderDocumentHTML renders the document template with provided data
func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const documentLayout = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .comment { background: #f5f5f5; padding: 1rem; margin: 1rem 0; border-left: 3px solid #333; }
    .comment.resolved { border-left-color: #2e7d32; }
    .comment.stale { border-left-color: #c62828; }
    .quote { font-style: italic; color: #444; }
    .flag { font-size: 0.8em; text-transform: uppercase; color: #c62828; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{.Author}} | version {{.Version}} | {{formatDate .UpdatedAt "Jan 2, 2006"}}</div>
  <div class="content">{{.ContentHTML}}</div>
  {{if .Comments}}
  <h2>Comments</h2>
  {{range .Comments}}
  <div class="comment {{lower .Status}}{{if .Stale}} stale{{end}}">
    <div class="quote">&ldquo;{{.Quote}}&rdquo;</div>
    <p>{{.Text}}</p>
    <div class="meta">{{.Author}} | {{.Status}}{{if .Edited}} | edited{{end}}</div>
    {{if .Stale}}<div class="flag">Anchor out of date{{if .Current}}: now reads &ldquo;{{.Current}}&rdquo;{{end}}{{if .Suggestion}} ({{.Suggestion}}){{end}}</div>{{end}}
  </div>
  {{end}}
  {{end}}
</body>
</html>`
