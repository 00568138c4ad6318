package notebook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basamba1990/scimentor-ai/internal/apperr"
)

const threeCells = `{
  "cells": [
    {"cell_type": "markdown", "source": ["# Free fall\n", "We drop a ball."], "metadata": {}},
    {"cell_type": "code", "source": ["g = 9.81\n", "t = 2\n", "h = 0.5 * g * t**2"], "metadata": {"scrolled": true}},
    {"cell_type": "raw", "source": "line one\nline two\n"}
  ],
  "metadata": {"kernelspec": {"name": "python3"}},
  "nbformat": 4,
  "nbformat_minor": 5
}`

func TestValidateParsesCells(t *testing.T) {
	doc, err := Validate([]byte(threeCells), "free_fall.ipynb")
	require.NoError(t, err)
	require.Equal(t, 3, doc.CellCount())

	assert.Equal(t, KindNarrative, doc.Cells[0].Kind)
	assert.Equal(t, "markdown", doc.Cells[0].Type)
	assert.Equal(t, []string{"# Free fall\n", "We drop a ball."}, doc.Cells[0].Source)

	assert.Equal(t, KindCode, doc.Cells[1].Kind)
	assert.Equal(t, []string{"g = 9.81\n", "t = 2\n", "h = 0.5 * g * t**2"}, doc.Cells[1].Source)
	assert.Equal(t, true, doc.Cells[1].Metadata["scrolled"])

	assert.Equal(t, KindNarrative, doc.Cells[2].Kind)
	assert.Equal(t, []string{"line one\n", "line two\n"}, doc.Cells[2].Source)
	assert.Equal(t, "line one\nline two\n", doc.Cells[2].Text())

	require.NotNil(t, doc.Metadata)
	assert.Contains(t, doc.Metadata, "kernelspec")
}

func TestValidateExtensionIsCaseInsensitive(t *testing.T) {
	_, err := Validate([]byte(threeCells), "Lab.IPYNB")
	assert.NoError(t, err)
}

func TestValidateRejectsWrongExtension(t *testing.T) {
	for _, name := range []string{"report.txt", "notebook", "notebook.ipynb.json", ""} {
		_, err := Validate([]byte(threeCells), name)
		assert.ErrorIs(t, err, apperr.InvalidFormat, name)
	}
}

func TestValidateRejectsTooLarge(t *testing.T) {
	raw := bytes.Repeat([]byte(" "), MaxDocumentBytes+1)
	_, err := Validate(raw, "big.ipynb")
	assert.ErrorIs(t, err, apperr.TooLarge)
}

func TestValidateAcceptsExactlyMaxSize(t *testing.T) {
	padding := MaxDocumentBytes - len(threeCells)
	raw := append([]byte(threeCells), bytes.Repeat([]byte(" "), padding)...)
	require.Len(t, raw, MaxDocumentBytes)

	_, err := Validate(raw, "edge.ipynb")
	assert.NoError(t, err)
}

func TestValidateRejectsMalformedStructure(t *testing.T) {
	cases := map[string]string{
		"not json":           "not json at all",
		"array top level":    `[1, 2, 3]`,
		"null":               `null`,
		"missing cells":      `{"metadata": {}}`,
		"cells not array":    `{"cells": {"0": {}}}`,
		"cells null":         `{"cells": null}`,
		"empty cells":        `{"cells": []}`,
		"cell not object":    `{"cells": ["print(1)"]}`,
		"unknown cell type":  `{"cells": [{"cell_type": "widget", "source": []}]}`,
		"missing cell type":  `{"cells": [{"source": []}]}`,
		"numeric source":     `{"cells": [{"cell_type": "code", "source": 42}]}`,
		"metadata not obj":   `{"cells": [{"cell_type": "code", "source": [], "metadata": [1]}]}`,
		"trailing garbage":   `{"cells": [{"cell_type": "code", "source": []}]} {}`,
		"stray bracket":      `{"cells": [{"cell_type": "code", "source": []}]} ]`,
		"stray brace":        `{"cells": [{"cell_type": "code", "source": []}]}}`,
		"trailing comma":     `{"cells": [{"cell_type": "code", "source": []}]},`,
		"truncated document": `{"cells": [{"cell_type": "code"`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Validate([]byte(body), "n.ipynb")
			assert.ErrorIs(t, err, apperr.InvalidFormat)
		})
	}
}

func TestValidateAllowsTrailingWhitespace(t *testing.T) {
	_, err := Validate([]byte("{\"cells\": [{\"cell_type\": \"code\", \"source\": []}]}\n\t \n"), "n.ipynb")
	assert.NoError(t, err)
}

func TestValidateMissingSourceIsEmpty(t *testing.T) {
	doc, err := Validate([]byte(`{"cells": [{"cell_type": "code"}]}`), "n.ipynb")
	require.NoError(t, err)
	assert.Empty(t, doc.Cells[0].Source)
}

func TestValidateRoundTripsLines(t *testing.T) {
	lines := []string{"a\n", "", "  indented\n", "tab\tseparated\n", "unicode é ∂\n", "last"}
	var sb strings.Builder
	sb.WriteString(`{"cells":[{"cell_type":"code","source":[`)
	for i, l := range lines {
		if i > 0 {
			sb.WriteString(",")
		}
		sb.WriteString(quote(l))
	}
	sb.WriteString(`]}]}`)

	doc, err := Validate([]byte(sb.String()), "n.ipynb")
	require.NoError(t, err)
	assert.Equal(t, lines, doc.Cells[0].Source)
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{}, SplitLines(""))
	assert.Equal(t, []string{"one"}, SplitLines("one"))
	assert.Equal(t, []string{"one\n"}, SplitLines("one\n"))
	assert.Equal(t, []string{"one\n", "\n", "three"}, SplitLines("one\n\nthree"))
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`, "\t", `\t`)
	return `"` + r.Replace(s) + `"`
}
