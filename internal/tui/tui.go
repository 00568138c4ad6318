// Package tui provides a terminal browser for an owner's analysis history.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/basamba1990/scimentor-ai/internal/feedback"
	"github.com/basamba1990/scimentor-ai/internal/pipeline"
)

// History is the part of the orchestrator the browser needs.
type History interface {
	GetHistory(ctx context.Context, ownerID string, q pipeline.Query) (*pipeline.HistoryPage, error)
	RemoveAnalysis(ctx context.Context, recordID, ownerID string) error
}

type mode int

const (
	modeList mode = iota
	modeDetail
	modeConfirm
)

type pageLoadedMsg struct {
	offset int
	page   *pipeline.HistoryPage
	err    error
}

type deletedMsg struct {
	id  string
	err error
}

// Model is the bubbletea model for the history browser.
type Model struct {
	ctx      context.Context
	history  History
	owner    string
	pageSize int
	styles   *Styles
	keys     *KeyMap

	items    []pipeline.Record
	total    int
	offset   int
	selected int
	mode     mode
	loading  bool
	err      error
	status   string
	width    int
	height   int
}

// New creates a browser for owner's history.
func New(ctx context.Context, history History, owner string, pageSize int) *Model {
	if pageSize <= 0 {
		pageSize = 10
	}
	return &Model{
		ctx:      ctx,
		history:  history,
		owner:    owner,
		pageSize: pageSize,
		styles:   DefaultStyles(),
		keys:     DefaultKeyMap(),
	}
}

// Run starts the browser and blocks until the user quits.
func Run(ctx context.Context, history History, owner string, pageSize int) error {
	p := tea.NewProgram(New(ctx, history, owner, pageSize), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

// Init loads the first page.
func (m *Model) Init() tea.Cmd {
	return m.load(0)
}

func (m *Model) load(offset int) tea.Cmd {
	m.loading = true
	return func() tea.Msg {
		page, err := m.history.GetHistory(m.ctx, m.owner, pipeline.Query{PageSize: m.pageSize, Offset: offset})
		return pageLoadedMsg{offset: offset, page: page, err: err}
	}
}

func (m *Model) remove(id string) tea.Cmd {
	return func() tea.Msg {
		return deletedMsg{id: id, err: m.history.RemoveAnalysis(m.ctx, id, m.owner)}
	}
}

// Update handles messages.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case pageLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.items = msg.page.Items
		m.total = msg.page.TotalCount
		m.offset = msg.offset
		// A deletion can empty the last page; step back to the previous one.
		if len(m.items) == 0 && m.offset > 0 && m.total > 0 {
			return m, m.load(max(0, m.offset-m.pageSize))
		}
		if m.selected >= len(m.items) {
			m.selected = max(0, len(m.items)-1)
		}
		return m, nil

	case deletedMsg:
		m.mode = modeList
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.status = fmt.Sprintf("Deleted %s", msg.id)
		return m, m.load(m.offset)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) && m.mode != modeConfirm {
		return m, tea.Quit
	}

	switch m.mode {
	case modeConfirm:
		if key.Matches(msg, m.keys.Confirm) {
			if rec := m.current(); rec != nil {
				return m, m.remove(rec.ID)
			}
		}
		m.mode = modeList
		m.status = "Delete cancelled"
		return m, nil

	case modeDetail:
		switch {
		case key.Matches(msg, m.keys.Back):
			m.mode = modeList
		case key.Matches(msg, m.keys.Delete):
			m.mode = modeConfirm
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Up):
		if m.selected > 0 {
			m.selected--
		}
	case key.Matches(msg, m.keys.Down):
		if m.selected < len(m.items)-1 {
			m.selected++
		}
	case key.Matches(msg, m.keys.NextPage):
		if m.offset+m.pageSize < m.total {
			m.selected = 0
			return m, m.load(m.offset + m.pageSize)
		}
	case key.Matches(msg, m.keys.PrevPage):
		if m.offset > 0 {
			m.selected = 0
			return m, m.load(max(0, m.offset-m.pageSize))
		}
	case key.Matches(msg, m.keys.Open):
		if m.current() != nil {
			m.mode = modeDetail
		}
	case key.Matches(msg, m.keys.Delete):
		if m.current() != nil {
			m.status = ""
			m.mode = modeConfirm
		}
	case key.Matches(msg, m.keys.Reload):
		m.status = ""
		return m, m.load(m.offset)
	}
	return m, nil
}

func (m *Model) current() *pipeline.Record {
	if m.selected < 0 || m.selected >= len(m.items) {
		return nil
	}
	return &m.items[m.selected]
}

// View renders the browser.
func (m *Model) View() string {
	var b strings.Builder

	b.WriteString(m.styles.Title.Render(fmt.Sprintf("Analyses for %s (%d)", m.owner, m.total)))
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(m.styles.Error.Render("Error: " + m.err.Error()))
		b.WriteString("\n\n")
	case m.loading && len(m.items) == 0:
		b.WriteString(m.styles.Muted.Render("Loading..."))
		b.WriteString("\n\n")
	}

	switch m.mode {
	case modeDetail:
		b.WriteString(m.renderDetail())
		b.WriteString("\n")
		b.WriteString(m.styles.Help.Render(helpLine(m.keys.Back, m.keys.Delete, m.keys.Quit)))
		return b.String()
	case modeConfirm:
		if rec := m.current(); rec != nil {
			b.WriteString(m.styles.Error.Render(fmt.Sprintf("Delete %s? (y/N)", rec.DocumentPath)))
			b.WriteString("\n")
		}
		return b.String()
	}

	if len(m.items) == 0 && !m.loading && m.err == nil {
		b.WriteString(m.styles.Muted.Render("No analyses yet."))
		b.WriteString("\n\n")
	}
	for i := range m.items {
		b.WriteString(m.renderRow(i))
		b.WriteString("\n")
	}
	if m.total > 0 {
		b.WriteString("\n")
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf("[%d-%d of %d]",
			m.offset+1, m.offset+len(m.items), m.total)))
		b.WriteString("\n")
	}
	if m.status != "" {
		b.WriteString(m.styles.Success.Render(m.status))
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.styles.Help.Render(helpLine(
		m.keys.Up, m.keys.Down, m.keys.PrevPage, m.keys.NextPage,
		m.keys.Open, m.keys.Delete, m.keys.Reload, m.keys.Quit)))
	return b.String()
}

func (m *Model) renderRow(i int) string {
	rec := &m.items[i]
	line := fmt.Sprintf("%-3s %-40s %3d points  %s",
		rec.Feedback.FinalScore,
		truncate(rec.DocumentPath, 40),
		len(rec.Feedback.Points),
		rec.CreatedAt.Local().Format("2006-01-02 15:04"))
	if i == m.selected {
		return m.styles.Selected.Render("> " + line)
	}
	return "  " + line
}

func (m *Model) renderDetail() string {
	rec := m.current()
	if rec == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", rec.DocumentPath)
	fmt.Fprintf(&b, "Grade %s  ·  %s  ·  %d ms\n\n",
		m.styles.Grade.Render(string(rec.Feedback.FinalScore)),
		rec.CreatedAt.Local().Format("2006-01-02 15:04"),
		rec.ProcessingTimeMs)
	b.WriteString(rec.Feedback.GlobalEvaluation)
	b.WriteString("\n")

	points := append([]feedback.Point(nil), rec.Feedback.Points...)
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Severity.Rank() < points[j].Severity.Rank()
	})
	for _, p := range points {
		fmt.Fprintf(&b, "\n%s  %s  (cell %d)\n  %s\n  → %s\n",
			m.styles.Severity(p.Severity).Render(strings.ToUpper(string(p.Severity))),
			p.Criterion, p.CellIndex, p.Comment, p.Suggestion)
	}

	pane := m.styles.Pane
	if m.width > 4 {
		pane = pane.Width(m.width - 4)
	}
	return pane.Render(b.String())
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return "..." + string(r[len(r)-n+3:])
}
