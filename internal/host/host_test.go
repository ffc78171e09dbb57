package host

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"milktea/internal/model"
	"milktea/internal/pipeline"
)

func currentYear() int { return time.Now().Year() }

const sampleLog = "01-15 10:00:00.000  1 2 I MyTag: hello\n" +
	"01-15 10:00:00.001  1 2 E MyTag: boom\n" +
	"    at Foo.bar(Foo.java:1)\n"

// runHost feeds newline-delimited requests through a service and returns the
// decoded output objects.
func runHost(t *testing.T, requests []string) []map[string]json.RawMessage {
	t.Helper()

	svc := New(pipeline.Options{CacheRoot: t.TempDir()})
	var out bytes.Buffer
	in := strings.NewReader(strings.Join(requests, "\n") + "\n")

	if err := svc.Run(context.Background(), in, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	var objs []map[string]json.RawMessage
	dec := json.NewDecoder(&out)
	for dec.More() {
		var obj map[string]json.RawMessage
		if err := dec.Decode(&obj); err != nil {
			t.Fatalf("decode output: %v", err)
		}
		objs = append(objs, obj)
	}
	return objs
}

func writeSample(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bugreport-host.txt")
	if err := os.WriteFile(p, []byte(sampleLog), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

// responses filters out event objects.
func responses(objs []map[string]json.RawMessage) []map[string]json.RawMessage {
	var out []map[string]json.RawMessage
	for _, o := range objs {
		if _, isEvent := o["event"]; !isEvent {
			out = append(out, o)
		}
	}
	return out
}

func errorCode(t *testing.T, obj map[string]json.RawMessage) string {
	t.Helper()
	raw, ok := obj["error"]
	if !ok {
		return ""
	}
	var e ErrorInfo
	if err := json.Unmarshal(raw, &e); err != nil {
		t.Fatal(err)
	}
	return e.Code
}

func TestHost_ParseThenQuery(t *testing.T) {
	path := writeSample(t)
	objs := runHost(t, []string{
		fmt.Sprintf(`{"id":1,"cmd":"parse_bugreport_streaming","params":{"path":%q}}`, path),
		`{"id":2,"cmd":"get_logcat_stats","params":{"filters":{}}}`,
		`{"id":3,"cmd":"query_logcat_v2","params":{"filters":{"levels":["E"]},"limit":10,"direction":"forward"}}`,
	})

	resps := responses(objs)
	if len(resps) != 3 {
		t.Fatalf("got %d responses, want 3", len(resps))
	}

	var sum model.ParseSummary
	if err := json.Unmarshal(resps[0]["result"], &sum); err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if sum.Events != 2 {
		t.Errorf("events = %d, want 2", sum.Events)
	}

	var stats model.LogcatStats
	if err := json.Unmarshal(resps[1]["result"], &stats); err != nil {
		t.Fatal(err)
	}
	if stats.TotalRows != 2 {
		t.Errorf("totalRows = %d, want 2", stats.TotalRows)
	}

	var qr model.QueryResponse
	if err := json.Unmarshal(resps[2]["result"], &qr); err != nil {
		t.Fatal(err)
	}
	if len(qr.Rows) != 1 || qr.Rows[0].Level != "E" {
		t.Errorf("query rows = %+v", qr.Rows)
	}
	if !strings.Contains(qr.Rows[0].Msg, "Foo.bar") {
		t.Errorf("continuation missing: %q", qr.Rows[0].Msg)
	}
}

func TestHost_ProgressPrecedesResult(t *testing.T) {
	path := writeSample(t)
	objs := runHost(t, []string{
		fmt.Sprintf(`{"id":1,"cmd":"parse_bugreport_streaming","params":{"path":%q}}`, path),
	})

	sawResult := false
	for _, o := range objs {
		if name, ok := o["event"]; ok {
			if sawResult {
				t.Fatal("progress event after completion result")
			}
			if string(name) != `"parse://progress"` {
				t.Errorf("event name = %s", name)
			}
			continue
		}
		sawResult = true
	}
	if !sawResult {
		t.Fatal("no completion result")
	}
}

func TestHost_QueryBeforeParse(t *testing.T) {
	objs := runHost(t, []string{
		`{"id":1,"cmd":"query_logcat_v2","params":{"filters":{},"limit":10}}`,
	})
	resps := responses(objs)
	if len(resps) != 1 || errorCode(t, resps[0]) != "NoReport" {
		t.Fatalf("resps = %+v", resps)
	}
}

func TestHost_ParseNotFound(t *testing.T) {
	objs := runHost(t, []string{
		`{"id":1,"cmd":"parse_bugreport_streaming","params":{"path":"/nonexistent/report.txt"}}`,
	})
	resps := responses(objs)
	if code := errorCode(t, resps[0]); code != "BugreportNotFound" {
		t.Fatalf("code = %q, want BugreportNotFound", code)
	}
}

func TestHost_StaleCursorCode(t *testing.T) {
	path := writeSample(t)
	objs := runHost(t, []string{
		fmt.Sprintf(`{"id":1,"cmd":"parse_bugreport_streaming","params":{"path":%q}}`, path),
		`{"id":2,"cmd":"query_logcat_v2","params":{"filters":{"tag":"X"},"limit":1,"direction":"forward"}}`,
		`{"id":3,"cmd":"query_logcat_v2","params":{"filters":{"tag":"Y"},"cursor":{"position":0,"direction":"forward","filterHash":12345},"limit":1,"direction":"forward"}}`,
	})
	resps := responses(objs)
	if len(resps) != 3 {
		t.Fatalf("got %d responses", len(resps))
	}
	if code := errorCode(t, resps[2]); code != "CursorInvalid" {
		t.Fatalf("code = %q, want CursorInvalid", code)
	}
}

func TestHost_UnknownCommand(t *testing.T) {
	objs := runHost(t, []string{`{"id":1,"cmd":"frobnicate"}`})
	resps := responses(objs)
	if code := errorCode(t, resps[0]); code != "UnknownCommand" {
		t.Fatalf("code = %q", code)
	}
}

func TestHost_JumpToTime(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		fmt.Fprintf(&b, "01-15 10:%02d:00.000  1 2 I T: row %d\n", i, i)
	}
	p := filepath.Join(t.TempDir(), "bugreport-jump.txt")
	if err := os.WriteFile(p, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	// The report has no dumpstate date, so the anchor year is the current
	// one; address the jump in the same year.
	target := fmt.Sprintf("%d-01-15 10:30:00", currentYear())
	objs := runHost(t, []string{
		fmt.Sprintf(`{"id":1,"cmd":"parse_bugreport_streaming","params":{"path":%q}}`, p),
		fmt.Sprintf(`{"id":2,"cmd":"jump_to_time","params":{"filters":{},"targetTime":%q,"limit":5}}`, target),
	})
	resps := responses(objs)
	var qr model.QueryResponse
	if err := json.Unmarshal(resps[1]["result"], &qr); err != nil {
		t.Fatal(err)
	}
	if len(qr.Rows) != 5 || qr.Rows[0].Msg != "row 30" {
		t.Fatalf("rows = %+v", qr.Rows)
	}
	if !qr.HasMorePrev {
		t.Error("HasMorePrev = false")
	}
}
