// Package anchor locates comment selections inside the flattened text of a
// rich-text document and detects when a selection has drifted.
//
// Offsets count Unicode code points of richtext.PlainText output. Matching is
// exact: a selection is either byte-for-byte present at its offsets or it is stale.
package anchor

import (
	"errors"
	"unicode/utf8"
)

// TextAnchor describes where a comment attaches.
type TextAnchor struct {
	SelectionStart int    `json:"selectionStart"`
	SelectionEnd   int    `json:"selectionEnd"`
	SelectedText   string `json:"selectedText"`
	PositionPath   []int  `json:"positionPath,omitempty"`
}

// Snapshot is one consistent read of a document.
type Snapshot struct {
	ContentID string
	Text      string
	Version   int64
}

// Validation is the result of checking an anchor against a snapshot.
type Validation struct {
	Valid       bool   `json:"valid"`
	CurrentText string `json:"currentText"`
}

var (
	ErrNegativeOffset = errors.New("selection offsets must be non-negative")
	ErrInvertedRange  = errors.New("selectionStart must not exceed selectionEnd")
	ErrLengthMismatch = errors.New("selectedText length does not match the selection range")
)

// CheckShape verifies the anchor is internally consistent, independent of any document.
func CheckShape(a TextAnchor) error {
	if a.SelectionStart < 0 || a.SelectionEnd < 0 {
		return ErrNegativeOffset
	}
	if a.SelectionStart > a.SelectionEnd {
		return ErrInvertedRange
	}
	if utf8.RuneCountInString(a.SelectedText) != a.SelectionEnd-a.SelectionStart {
		return ErrLengthMismatch
	}
	return nil
}

// Validate re-extracts [SelectionStart, SelectionEnd) from the snapshot and
// compares it with SelectedText. Out-of-range offsets are clamped for
// CurrentText and never valid.
func Validate(a TextAnchor, snap Snapshot) Validation {
	runes := []rune(snap.Text)
	start, end := clamp(a.SelectionStart, len(runes)), clamp(a.SelectionEnd, len(runes))
	if start > end {
		start = end
	}
	current := string(runes[start:end])
	inRange := a.SelectionStart >= 0 && a.SelectionStart <= a.SelectionEnd && a.SelectionEnd <= len(runes)
	return Validation{
		Valid:       inRange && current == a.SelectedText,
		CurrentText: current,
	}
}

// Reanchor relocates the selection inside newText. The occurrence of
// SelectedText whose start is closest to the original SelectionStart wins;
// ties go to the earliest occurrence. It returns nil when SelectedText no
// longer occurs in newText.
//
// oldText is accepted so callers can pass the text the anchor was last valid
// against; when the anchor still validates there it is used to keep
// PositionPath on an unmoved selection.
func Reanchor(a TextAnchor, oldText, newText string) *TextAnchor {
	needle := []rune(a.SelectedText)
	hay := []rune(newText)

	if len(needle) == 0 {
		pos := clamp(a.SelectionStart, len(hay))
		return &TextAnchor{SelectionStart: pos, SelectionEnd: pos}
	}

	best, bestDelta := -1, 0
	for _, pos := range occurrences(hay, needle) {
		delta := abs(pos - a.SelectionStart)
		if best == -1 || delta < bestDelta {
			best, bestDelta = pos, delta
		}
	}
	if best == -1 {
		return nil
	}

	relocated := &TextAnchor{
		SelectionStart: best,
		SelectionEnd:   best + len(needle),
		SelectedText:   a.SelectedText,
	}
	if best == a.SelectionStart && oldText == newText {
		relocated.PositionPath = append([]int(nil), a.PositionPath...)
	}
	return relocated
}

// occurrences returns every start index of needle in hay, overlapping matches included, ascending.
func occurrences(hay, needle []rune) []int {
	var out []int
	for i := 0; i+len(needle) <= len(hay); i++ {
		if equalRunes(hay[i:i+len(needle)], needle) {
			out = append(out, i)
		}
	}
	return out
}

func equalRunes(a, b []rune) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func clamp(v, limit int) int {
	if v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
