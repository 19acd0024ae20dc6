package search

// Result is a single comment hit returned to the caller.
type Result struct {
	ID           string `json:"id"`
	ContentID    string `json:"contentId"`
	Snippet      string `json:"snippet"`
	SelectedText string `json:"selectedText"`
	IsResolved   bool   `json:"isResolved"`
}

// Query describes a search request.
type Query struct {
	Text            string
	ContentID       string // empty = all contents
	IncludeResolved bool
	Limit           int
	Offset          int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// CommentRecord is the data we index for a comment.
type CommentRecord struct {
	ID           string `json:"id"`
	ContentID    string `json:"contentId"`
	AuthorID     string `json:"authorId"`
	Body         string `json:"body"`
	SelectedText string `json:"selectedText"`
	IsResolved   bool   `json:"isResolved"`
}
