package tui

import (
	"testing"

	"milktea/internal/model"
	"milktea/internal/pipeline"
)

func testRows(n, base int) []model.LogRow {
	rows := make([]model.LogRow, n)
	for i := range rows {
		rows[i] = model.LogRow{
			ByteOffset: int64((base + i) * 100),
			TsRaw:      "08-24 14:22:33.123",
			Level:      "I",
			Tag:        "T",
			Msg:        "m",
		}
	}
	return rows
}

func newTestApp() App {
	a := NewApp("report.txt", pipeline.Options{})
	a.width = 120
	a.height = 30
	a.loaded = true
	return a
}

func TestApplyPage_Replace(t *testing.T) {
	a := newTestApp()
	cur := &model.QueryCursor{Position: 9, Direction: model.DirectionForward}
	a.applyPage(PageMsg{Mode: pageReplace, Resp: model.QueryResponse{
		Rows:        testRows(10, 0),
		NextCursor:  cur,
		HasMoreNext: true,
	}})

	if len(a.rows) != 10 || a.selected != 0 {
		t.Fatalf("rows=%d selected=%d", len(a.rows), a.selected)
	}
	if a.tailCursor != cur || !a.hasMoreNext {
		t.Error("tail cursor state not applied")
	}
}

func TestApplyPage_AppendAndPrepend(t *testing.T) {
	a := newTestApp()
	a.applyPage(PageMsg{Mode: pageReplace, Resp: model.QueryResponse{Rows: testRows(10, 100)}})
	a.selected = 9

	a.applyPage(PageMsg{Mode: pageAppend, Resp: model.QueryResponse{Rows: testRows(5, 110)}})
	if len(a.rows) != 15 {
		t.Fatalf("rows after append = %d", len(a.rows))
	}

	a.applyPage(PageMsg{Mode: pagePrepend, Resp: model.QueryResponse{Rows: testRows(3, 0)}})
	if len(a.rows) != 18 {
		t.Fatalf("rows after prepend = %d", len(a.rows))
	}
	// Selection must still point at the same row after the prepend shift.
	if a.selected != 12 {
		t.Errorf("selected = %d, want 12", a.selected)
	}
	if a.rows[0].ByteOffset != 0 {
		t.Errorf("prepended rows not at the front")
	}
}

func TestApplyPage_AppendTrimsBuffer(t *testing.T) {
	a := newTestApp()
	a.applyPage(PageMsg{Mode: pageReplace, Resp: model.QueryResponse{Rows: testRows(maxBufferedRows, 0)}})
	a.selected = maxBufferedRows - 1

	a.applyPage(PageMsg{Mode: pageAppend, Resp: model.QueryResponse{Rows: testRows(100, maxBufferedRows)}})
	if len(a.rows) != maxBufferedRows {
		t.Fatalf("buffer = %d rows, want trimmed to %d", len(a.rows), maxBufferedRows)
	}
	if !a.hasMorePrev {
		t.Error("trimming the front must mark earlier rows as available")
	}
}

func TestClampSelection(t *testing.T) {
	a := newTestApp()
	a.applyPage(PageMsg{Mode: pageReplace, Resp: model.QueryResponse{Rows: testRows(5, 0)}})

	a.selected = 99
	a.clampSelection()
	if a.selected != 4 {
		t.Errorf("selected = %d, want 4", a.selected)
	}
	a.selected = -3
	a.clampSelection()
	if a.selected != 0 {
		t.Errorf("selected = %d, want 0", a.selected)
	}
}

func TestApplyFilterForm_BuildsFilters(t *testing.T) {
	a := newTestApp()
	a.filterVals = filterValues{levels: "e, f", tag: "ActivityManager", pid: "1234", regex: true, text: "ANR"}

	m, _ := a.applyFilterForm()
	got := m.(App).filters
	if len(got.Levels) != 2 || got.Levels[0] != "E" || got.Levels[1] != "F" {
		t.Errorf("levels = %v", got.Levels)
	}
	if got.Tag != "ActivityManager" || got.Text != "ANR" {
		t.Errorf("filters = %+v", got)
	}
	if got.Pid == nil || *got.Pid != 1234 {
		t.Errorf("pid = %v", got.Pid)
	}
	if got.TextMode != model.TextModeRegex {
		t.Errorf("textMode = %q", got.TextMode)
	}
}

func TestRenderRow_TruncatesContinuations(t *testing.T) {
	a := newTestApp()
	row := model.LogRow{TsRaw: "08-24 14:22:33.123", Level: "E", Tag: "T", Msg: "boom\n  at Foo.bar"}
	out := a.renderRow(row, false)
	if len(out) == 0 {
		t.Fatal("empty render")
	}
	for _, c := range out {
		if c == '\n' {
			t.Fatal("rendered row contains newline")
		}
	}
}
