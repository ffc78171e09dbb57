// Package tui provides the interactive Bubble Tea log viewer. It is a pure
// consumer of the query executor: every screenful of rows comes from a
// cursor-paginated query, never from the bugreport itself.
package tui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"milktea/internal/cli"
	"milktea/internal/model"
	"milktea/internal/pipeline"
	"milktea/internal/query"
	"milktea/internal/tui/components"
	"milktea/internal/tui/theme"
)

// maxBufferedRows caps the in-memory row window.
const maxBufferedRows = 10000

// pageSize is how many rows each query fetches.
const pageSize = 500

// ParsedMsg is sent when the ingest pipeline finishes.
type ParsedMsg struct {
	Exec    *query.Executor
	Summary model.ParseSummary
}

// ProgressMsg reports ingest progress.
type ProgressMsg model.ParseProgress

// PageMsg carries one query response into the buffer.
type PageMsg struct {
	Resp model.QueryResponse
	Mode pageMode
}

// ErrMsg carries a fatal error.
type ErrMsg struct{ Err error }

type pageMode int

const (
	pageReplace pageMode = iota
	pageAppend
	pagePrepend
)

// App is the root Bubble Tea model.
type App struct {
	path string
	opts pipeline.Options

	exec    *query.Executor
	summary model.ParseSummary
	loaded  bool

	// Filter state
	filters model.LogFilters

	// Row window
	rows        []model.LogRow
	headCursor  *model.QueryCursor
	tailCursor  *model.QueryCursor
	hasMorePrev bool
	hasMoreNext bool
	ratio       float64
	estimated   *int64

	// UI state
	width    int
	height   int
	selected int
	top      int
	status   string
	err      error
	fetching bool

	// Ingest progress
	spinner  spinner.Model
	progress model.ParseProgress
	loadSub  chan tea.Msg

	// Filter form (huh) and time jump input
	filterForm *huh.Form
	filterVals filterValues
	showFilter bool
	jumpInput  textinput.Model
	showJump   bool
}

type filterValues struct {
	levels  string
	tag     string
	pid     string
	text    string
	notText string
	regex   bool
}

// NewApp creates the viewer for one bugreport path.
func NewApp(path string, opts pipeline.Options) App {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(theme.Active.Accent)

	ji := textinput.New()
	ji.Placeholder = "YYYY-MM-DD HH:MM:SS"
	ji.CharLimit = 19

	return App{
		path:      path,
		opts:      opts,
		spinner:   sp,
		jumpInput: ji,
		loadSub:   make(chan tea.Msg, 32),
	}
}

// Init starts the ingest pass in the background.
func (a App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, a.startParse(), waitFor(a.loadSub))
}

func waitFor(ch chan tea.Msg) tea.Cmd {
	return func() tea.Msg { return <-ch }
}

func (a App) startParse() tea.Cmd {
	path, opts, sub := a.path, a.opts, a.loadSub
	return func() tea.Msg {
		opts.Progress = func(p model.ParseProgress) {
			select {
			case sub <- ProgressMsg(p):
			default:
			}
		}
		exec, res, err := pipeline.OpenExecutor(context.Background(), path, opts)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return ParsedMsg{Exec: exec, Summary: res.Summary}
	}
}

func (a App) fetchPage(cursor *model.QueryCursor, direction string, mode pageMode) tea.Cmd {
	exec, filters := a.exec, a.filters
	return func() tea.Msg {
		resp, err := exec.Query(filters, cursor, pageSize, direction)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return PageMsg{Resp: resp, Mode: mode}
	}
}

func (a App) fetchJump(target string) tea.Cmd {
	exec, filters := a.exec, a.filters
	return func() tea.Msg {
		resp, err := exec.JumpToTime(filters, target, pageSize)
		if err != nil {
			return ErrMsg{Err: err}
		}
		return PageMsg{Resp: resp, Mode: pageReplace}
	}
}

// Update handles messages.
func (a App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		return a, nil

	case spinner.TickMsg:
		if !a.loaded {
			var cmd tea.Cmd
			a.spinner, cmd = a.spinner.Update(msg)
			return a, cmd
		}
		return a, nil

	case ProgressMsg:
		a.progress = model.ParseProgress(msg)
		return a, waitFor(a.loadSub)

	case ParsedMsg:
		a.exec = msg.Exec
		a.summary = msg.Summary
		a.loaded = true
		a.fetching = true
		return a, a.fetchPage(nil, model.DirectionForward, pageReplace)

	case PageMsg:
		a.applyPage(msg)
		return a, nil

	case ErrMsg:
		a.err = msg.Err
		a.fetching = false
		return a, nil

	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	if a.showFilter && a.filterForm != nil {
		form, cmd := a.filterForm.Update(msg)
		if f, ok := form.(*huh.Form); ok {
			a.filterForm = f
		}
		if a.filterForm.State == huh.StateCompleted {
			return a.applyFilterForm()
		}
		return a, cmd
	}
	return a, nil
}

func (a *App) applyPage(msg PageMsg) {
	a.fetching = false
	a.err = nil
	resp := msg.Resp

	switch msg.Mode {
	case pageReplace:
		a.rows = resp.Rows
		a.headCursor = resp.PrevCursor
		a.tailCursor = resp.NextCursor
		a.hasMorePrev = resp.HasMorePrev
		a.hasMoreNext = resp.HasMoreNext
		a.selected = 0
		a.top = 0
	case pageAppend:
		a.rows = append(a.rows, resp.Rows...)
		if resp.NextCursor != nil {
			a.tailCursor = resp.NextCursor
		}
		a.hasMoreNext = resp.HasMoreNext
		if len(a.rows) > maxBufferedRows {
			drop := len(a.rows) - maxBufferedRows
			a.rows = a.rows[drop:]
			a.selected -= drop
			a.top -= drop
			a.hasMorePrev = true
			// No cursor for the new first row: backward paging stays off
			// until a jump or reload replaces the window.
			a.headCursor = nil
		}
	case pagePrepend:
		if len(resp.Rows) > 0 {
			a.selected += len(resp.Rows)
			a.top += len(resp.Rows)
			a.rows = append(resp.Rows, a.rows...)
			if resp.PrevCursor != nil {
				a.headCursor = resp.PrevCursor
			}
		}
		a.hasMorePrev = resp.HasMorePrev
	}
	a.ratio = resp.PositionRatio
	a.estimated = resp.EstimatedTotal
	a.clampSelection()
}

func (a App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.showJump {
		switch msg.String() {
		case "enter":
			a.showJump = false
			target := a.jumpInput.Value()
			a.jumpInput.Blur()
			if target != "" && a.exec != nil {
				a.fetching = true
				return a, a.fetchJump(target)
			}
			return a, nil
		case "esc":
			a.showJump = false
			a.jumpInput.Blur()
			return a, nil
		default:
			var cmd tea.Cmd
			a.jumpInput, cmd = a.jumpInput.Update(msg)
			return a, cmd
		}
	}

	if a.showFilter && a.filterForm != nil {
		if msg.String() == "esc" {
			a.showFilter = false
			return a, nil
		}
		form, cmd := a.filterForm.Update(msg)
		if f, ok := form.(*huh.Form); ok {
			a.filterForm = f
		}
		if a.filterForm.State == huh.StateCompleted {
			return a.applyFilterForm()
		}
		return a, cmd
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "j", "down":
		return a.moveSelection(1)
	case "k", "up":
		return a.moveSelection(-1)
	case "ctrl+d", "pgdown":
		return a.moveSelection(a.contentHeight() / 2)
	case "ctrl+u", "pgup":
		return a.moveSelection(-a.contentHeight() / 2)
	case "g", "home":
		if a.exec != nil {
			a.fetching = true
			return a, a.fetchPage(nil, model.DirectionForward, pageReplace)
		}
	case "G", "end":
		if a.exec != nil {
			a.fetching = true
			return a, a.fetchPage(nil, model.DirectionBackward, pageReplace)
		}
	case "f":
		a.openFilterForm()
		return a, a.filterForm.Init()
	case "t":
		a.showJump = true
		a.jumpInput.Focus()
		return a, textinput.Blink
	case "r":
		if a.exec != nil {
			a.fetching = true
			return a, a.fetchPage(nil, model.DirectionForward, pageReplace)
		}
	}
	return a, nil
}

func (a App) moveSelection(delta int) (tea.Model, tea.Cmd) {
	a.selected += delta
	a.clampSelection()

	// Near the buffer edges, fetch the adjacent page.
	if a.exec != nil && !a.fetching {
		if a.selected >= len(a.rows)-pageSize/4 && a.hasMoreNext && a.tailCursor != nil {
			a.fetching = true
			return a, a.fetchPage(a.tailCursor, model.DirectionForward, pageAppend)
		}
		if a.selected <= pageSize/4 && a.hasMorePrev && a.headCursor != nil {
			a.fetching = true
			return a, a.fetchPage(a.headCursor, model.DirectionBackward, pagePrepend)
		}
	}
	return a, nil
}

func (a *App) clampSelection() {
	if a.selected < 0 {
		a.selected = 0
	}
	if a.selected >= len(a.rows) {
		a.selected = len(a.rows) - 1
	}
	if a.selected < 0 {
		a.selected = 0
	}

	h := a.contentHeight()
	if a.selected < a.top {
		a.top = a.selected
	}
	if a.selected >= a.top+h {
		a.top = a.selected - h + 1
	}
	if a.top < 0 {
		a.top = 0
	}
}

func (a *App) openFilterForm() {
	v := &a.filterVals
	v.levels = strings.Join(a.filters.Levels, ",")
	v.tag = a.filters.Tag
	v.text = a.filters.Text
	v.notText = a.filters.NotText
	v.regex = a.filters.TextMode == model.TextModeRegex
	if a.filters.Pid != nil {
		v.pid = fmt.Sprintf("%d", *a.filters.Pid)
	} else {
		v.pid = ""
	}

	a.filterForm = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Levels").Description("e.g. E,F").Value(&v.levels),
			huh.NewInput().Title("Tag").Description(`OR with "|"`).Value(&v.tag),
			huh.NewInput().Title("PID").Value(&v.pid),
			huh.NewInput().Title("Text").Value(&v.text),
			huh.NewInput().Title("Exclude text").Value(&v.notText),
			huh.NewConfirm().Title("Regex text?").Value(&v.regex),
		),
	)
	a.showFilter = true
}

func (a App) applyFilterForm() (tea.Model, tea.Cmd) {
	a.showFilter = false
	v := a.filterVals

	f := model.LogFilters{Tag: strings.TrimSpace(v.tag), Text: v.text, NotText: v.notText}
	for _, l := range strings.Split(v.levels, ",") {
		if l = strings.ToUpper(strings.TrimSpace(l)); l != "" {
			f.Levels = append(f.Levels, l)
		}
	}
	var pid int32
	if _, err := fmt.Sscanf(strings.TrimSpace(v.pid), "%d", &pid); err == nil && v.pid != "" {
		f.Pid = &pid
	}
	if v.regex {
		f.TextMode = model.TextModeRegex
	}
	a.filters = f

	if a.exec != nil {
		a.fetching = true
		return a, a.fetchPage(nil, model.DirectionForward, pageReplace)
	}
	return a, nil
}

// View renders the app.
func (a App) View() string {
	if a.err != nil {
		return lipgloss.NewStyle().Foreground(theme.Active.Red).
			Render(fmt.Sprintf("\n  error: %v\n\n  [q]uit", a.err))
	}
	if !a.loaded {
		return a.viewLoading()
	}
	if a.showFilter && a.filterForm != nil {
		return a.filterForm.View()
	}

	var b strings.Builder
	b.WriteString(a.viewHeader())
	b.WriteString("\n")
	b.WriteString(a.viewRows())
	if a.showJump {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(theme.Active.Accent).Render("  Jump to: "))
		b.WriteString(a.jumpInput.View())
	}
	b.WriteString("\n")
	b.WriteString(components.RenderStatusBar(a.width, a.positionLabel(), a.ratio))
	return b.String()
}

func (a App) viewLoading() string {
	p := a.progress
	line := fmt.Sprintf("\n  %s Parsing %s", a.spinner.View(), a.path)
	if p.TotalBytes > 0 {
		line += fmt.Sprintf("\n    %s / %s (%3.0f%%), %s rows",
			cli.FormatBytes(p.BytesRead), cli.FormatBytes(p.TotalBytes),
			p.Percent, cli.FormatCount(p.RowsProcessed))
	}
	return line + "\n"
}

func (a App) viewHeader() string {
	t := theme.Active
	d := a.summary.Device
	device := strings.TrimSpace(d.Brand + " " + d.Model)
	if device == "" {
		device = a.path
	}
	label := fmt.Sprintf(" %s · Android %s · %s rows · %s ANRs · %s crashes",
		device, d.AndroidVersion,
		cli.FormatCount(a.summary.Events),
		cli.FormatCount(a.summary.ANRs),
		cli.FormatCount(a.summary.Crashes))
	return lipgloss.NewStyle().
		Foreground(t.TextPrimary).
		Background(t.Surface).
		Width(a.width).
		Render(label)
}

func (a App) viewRows() string {
	t := theme.Active
	h := a.contentHeight()
	if len(a.rows) == 0 {
		if a.fetching {
			return lipgloss.NewStyle().Foreground(t.TextMuted).Render("\n  loading...")
		}
		return lipgloss.NewStyle().Foreground(t.TextMuted).Render("\n  no rows match the filter")
	}

	end := a.top + h
	if end > len(a.rows) {
		end = len(a.rows)
	}

	var b strings.Builder
	for i := a.top; i < end; i++ {
		b.WriteString(a.renderRow(a.rows[i], i == a.selected))
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}

func (a App) renderRow(r model.LogRow, selected bool) string {
	t := theme.Active

	ts := lipgloss.NewStyle().Foreground(t.TextDim).Render(r.TsRaw)
	lvl := lipgloss.NewStyle().Foreground(theme.LevelColor(r.Level)).Bold(r.Level == "F").Render(r.Level)
	tag := lipgloss.NewStyle().Foreground(t.Accent).Render(r.Tag)

	msg := r.Msg
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i] + " …"
	}
	line := fmt.Sprintf(" %s %s %s %d/%d %s", ts, lvl, tag, r.Pid, r.Tid, msg)
	if a.width > 0 && lipgloss.Width(line) > a.width {
		line = lipgloss.NewStyle().MaxWidth(a.width).Render(line)
	}

	if selected {
		return lipgloss.NewStyle().Background(t.SurfaceHover).Width(a.width).Render(line)
	}
	return line
}

func (a App) positionLabel() string {
	if len(a.rows) == 0 {
		return ""
	}
	label := fmt.Sprintf("row %d/%d", a.selected+1, len(a.rows))
	if a.estimated != nil {
		label += fmt.Sprintf(" of ~%s", cli.FormatCount(*a.estimated))
	}
	return label
}

func (a App) contentHeight() int {
	h := a.height - 3 // header + status bar + spacing
	if a.showJump {
		h -= 2
	}
	if h < 1 {
		h = 1
	}
	return h
}
