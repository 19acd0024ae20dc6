package export

import (
	"context"
	"fmt"
	"html/template"

	"lessonmark/api/internal/comments"
	"lessonmark/api/internal/logger"
	"lessonmark/api/internal/richtext"
	"lessonmark/api/internal/store"
)

// ContentReader loads the content being exported.
type ContentReader interface {
	GetContent(ctx context.Context, contentID string) (store.Content, error)
}

// CommentLister yields the content's comments with derived staleness.
// It also enforces read access and reports unknown content.
type CommentLister interface {
	ListForContent(ctx context.Context, contentID string, includeStale bool, caller comments.Caller) ([]comments.ListedComment, error)
}

const maxLoadAttempts = 2

// PDFRenderer turns a full HTML page into PDF bytes.
type PDFRenderer func(ctx context.Context, html string) ([]byte, error)

// Service provides annotated content export
type Service struct {
	contents ContentReader
	comments CommentLister
	pdf      PDFRenderer
	log      *logger.Logger
}

// NewService creates an export service. A nil pdf renderer disables PDF output.
func NewService(contents ContentReader, lister CommentLister, pdf PDFRenderer, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{contents: contents, comments: lister, pdf: pdf, log: log.With("component", "export")}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	if req.Format == FormatPDF && s.pdf == nil {
		return nil, ErrPDFDisabled
	}
	if req.Format != FormatPDF && req.Format != FormatHTML {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}

	content, listed, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}
	doc, err := richtext.Parse([]byte(content.Body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrContentUnavailable, err)
	}

	data := TemplateData{
		Title:       content.Title,
		ContentHTML: template.HTML(richtext.ToHTML(doc)),
		Author:      content.AuthorID,
		Version:     content.Version,
		UpdatedAt:   content.UpdatedAt,
		Comments:    templateComments(listed, req.IncludeResolved),
	}

	html, err := RenderDocumentHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch req.Format {
	case FormatPDF:
		pdf, err := s.pdf(ctx, html)
		if err != nil {
			return nil, err
		}
		s.log.Info("exported content", "content_id", req.ContentID, "format", req.Format, "bytes", len(pdf))
		return &Result{Data: pdf, Filename: sanitizeFilename(content.Title) + ".pdf", MimeType: "application/pdf"}, nil
	default:
		s.log.Info("exported content", "content_id", req.ContentID, "format", req.Format, "bytes", len(html))
		return &Result{Data: []byte(html), Filename: sanitizeFilename(content.Title) + ".html", MimeType: "text/html; charset=utf-8"}, nil
	}
}

// load reads the content around the comment listing so the rendered version is
// the one staleness was computed against. A save in between triggers one retry.
func (s *Service) load(ctx context.Context, req Request) (store.Content, []comments.ListedComment, error) {
	for attempt := 1; ; attempt++ {
		content, err := s.contents.GetContent(ctx, req.ContentID)
		if err != nil {
			return store.Content{}, nil, fmt.Errorf("get content: %w", err)
		}
		listed, err := s.comments.ListForContent(ctx, req.ContentID, true, req.Caller)
		if err != nil {
			return store.Content{}, nil, err
		}
		current, err := s.contents.GetContent(ctx, req.ContentID)
		if err != nil {
			return store.Content{}, nil, fmt.Errorf("get content: %w", err)
		}
		if current.Version == content.Version {
			return content, listed, nil
		}
		if attempt == maxLoadAttempts {
			return store.Content{}, nil, fmt.Errorf("%w: version %d became %d", ErrContentChanged, content.Version, current.Version)
		}
		s.log.Warn("content saved during export, retrying", "content_id", req.ContentID, "version", current.Version)
	}
}

func templateComments(listed []comments.ListedComment, includeResolved bool) []TemplateComment {
	out := make([]TemplateComment, 0, len(listed))
	for _, c := range listed {
		if c.IsResolved && !includeResolved {
			continue
		}
		item := TemplateComment{
			Quote:  c.Anchor.SelectedText,
			Text:   c.Comment.Comment,
			Author: c.AuthorID,
			Status: "Open",
			Edited: c.IsEdited,
			Stale:  c.IsStale,
		}
		if c.IsResolved {
			item.Status = "Resolved"
		}
		if c.IsStale {
			item.Current = c.CurrentText
			if c.Suggested != nil {
				item.Suggestion = fmt.Sprintf("found at %d-%d", c.Suggested.SelectionStart, c.Suggested.SelectionEnd)
			} else {
				item.Suggestion = "no longer in the text"
			}
		}
		out = append(out, item)
	}
	return out
}
