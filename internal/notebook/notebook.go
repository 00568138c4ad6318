// Package notebook validates uploaded Jupyter notebooks and parses them into
// an immutable in-memory Document.
package notebook

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
)

var (
	errEmpty    = errors.New("empty value")
	errTrailing = errors.New("unexpected data after JSON value")
)

// MaxDocumentBytes is the hard upload cap (5 MiB).
const MaxDocumentBytes = 5 * 1024 * 1024

// Extension is the required filename suffix.
const Extension = ".ipynb"

// CellKind is the normalized cell type.
type CellKind string

const (
	KindCode      CellKind = "code"
	KindNarrative CellKind = "narrative"
)

// Cell is a single notebook cell. Source keeps the original line split.
type Cell struct {
	Kind     CellKind
	Type     string // original cell_type: code, markdown or raw
	Source   []string
	Metadata map[string]any
}

// Text joins the cell's source lines.
func (c Cell) Text() string {
	return strings.Join(c.Source, "")
}

// Document is a parsed notebook.
type Document struct {
	Cells    []Cell
	Metadata map[string]any
}

// CellCount returns the number of cells.
func (d *Document) CellCount() int {
	return len(d.Cells)
}

var cellKinds = map[string]CellKind{
	"code":     KindCode,
	"markdown": KindNarrative,
	"raw":      KindNarrative,
}

// Validate checks filename and size constraints and parses raw into a Document.
func Validate(raw []byte, filename string) (*Document, error) {
	if !strings.EqualFold(filepath.Ext(strings.TrimSpace(filename)), Extension) {
		return nil, apperr.New(apperr.InvalidFormat, "file %q must be a Jupyter notebook (%s)", filename, Extension)
	}
	if len(raw) > MaxDocumentBytes {
		return nil, apperr.New(apperr.TooLarge, "file is %d bytes; the limit is %d bytes (5 MiB)", len(raw), MaxDocumentBytes)
	}

	var top map[string]json.RawMessage
	if err := decode(raw, &top); err != nil {
		return nil, apperr.Wrap(apperr.InvalidFormat, err, "notebook is not a JSON object")
	}
	if top == nil {
		return nil, apperr.New(apperr.InvalidFormat, "notebook is not a JSON object")
	}

	cellsRaw, ok := top["cells"]
	if !ok {
		return nil, apperr.New(apperr.InvalidFormat, "invalid Jupyter notebook format: missing cells")
	}
	var cells []json.RawMessage
	if err := decode(cellsRaw, &cells); err != nil || cells == nil {
		return nil, apperr.New(apperr.InvalidFormat, "invalid Jupyter notebook format: cells is not an array")
	}
	if len(cells) == 0 {
		return nil, apperr.New(apperr.InvalidFormat, "notebook has no cells")
	}

	doc := &Document{Cells: make([]Cell, 0, len(cells))}
	if metaRaw, ok := top["metadata"]; ok {
		meta, err := decodeMetadata(metaRaw)
		if err != nil {
			return nil, apperr.Wrap(apperr.InvalidFormat, err, "notebook metadata is not an object")
		}
		doc.Metadata = meta
	}

	for i, c := range cells {
		cell, err := parseCell(i, c)
		if err != nil {
			return nil, err
		}
		doc.Cells = append(doc.Cells, cell)
	}
	return doc, nil
}

func parseCell(index int, raw json.RawMessage) (Cell, error) {
	var fields map[string]json.RawMessage
	if err := decode(raw, &fields); err != nil || fields == nil {
		return Cell{}, apperr.New(apperr.InvalidFormat, "cell %d is not an object", index)
	}

	var cellType string
	if err := decode(fields["cell_type"], &cellType); err != nil {
		return Cell{}, apperr.New(apperr.InvalidFormat, "cell %d has no cell_type", index)
	}
	kind, ok := cellKinds[cellType]
	if !ok {
		return Cell{}, apperr.New(apperr.InvalidFormat, "cell %d has unknown cell_type %q", index, cellType)
	}

	source, err := parseSource(fields["source"])
	if err != nil {
		return Cell{}, apperr.Wrap(apperr.InvalidFormat, err, "cell %d has an invalid source", index)
	}

	cell := Cell{Kind: kind, Type: cellType, Source: source}
	if metaRaw, ok := fields["metadata"]; ok {
		meta, err := decodeMetadata(metaRaw)
		if err != nil {
			return Cell{}, apperr.Wrap(apperr.InvalidFormat, err, "cell %d metadata is not an object", index)
		}
		cell.Metadata = meta
	}
	return cell, nil
}

// parseSource accepts the two nbformat encodings: a list of lines or one string.
func parseSource(raw json.RawMessage) ([]string, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return []string{}, nil
	}
	var lines []string
	if err := decode(raw, &lines); err == nil {
		return lines, nil
	}
	var text string
	if err := decode(raw, &text); err != nil {
		return nil, err
	}
	return SplitLines(text), nil
}

// SplitLines splits text after each newline, keeping the newline on the line
// it terminates, so that strings.Join(SplitLines(s), "") == s.
func SplitLines(text string) []string {
	if text == "" {
		return []string{}
	}
	lines := strings.SplitAfter(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func decodeMetadata(raw json.RawMessage) (map[string]any, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, nil
	}
	var meta map[string]any
	if err := decode(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// decode keeps numbers as json.Number so metadata re-serializes unchanged.
func decode(raw []byte, v any) error {
	if len(raw) == 0 {
		return errEmpty
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	// More reports false on a stray closing delimiter, so read one more token.
	if _, err := dec.Token(); err != io.EOF {
		return errTrailing
	}
	return nil
}
