// Package host implements the line-oriented JSON command surface consumed by
// the desktop shell: one request object per line on stdin, one response per
// line on stdout, with parse progress interleaved as event objects.
package host

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"milktea/internal/model"
	"milktea/internal/pipeline"
	"milktea/internal/query"
)

// Command names exposed to the shell.
const (
	CmdParse      = "parse_bugreport_streaming"
	CmdStats      = "get_logcat_stats"
	CmdQuery      = "query_logcat_v2"
	CmdJumpToTime = "jump_to_time"
)

// ProgressChannel is the event name carrying ParseProgress payloads.
const ProgressChannel = "parse://progress"

// progressBuffer bounds in-flight progress events; the oldest is dropped
// when the shell cannot keep up.
const progressBuffer = 16

// Request is one inbound command.
type Request struct {
	ID     int64           `json:"id"`
	Cmd    string          `json:"cmd"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response answers one request.
type Response struct {
	ID     int64      `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is a typed error on the wire.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is an out-of-band notification.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Service runs the command loop. Requests are served sequentially; the
// query executor for the most recent parse is retained between requests.
type Service struct {
	opts pipeline.Options

	writeMu sync.Mutex
	enc     *json.Encoder

	exec *query.Executor
	path string
}

// New creates a host service.
func New(opts pipeline.Options) *Service {
	return &Service{opts: opts}
}

// Run processes requests from in until EOF or context cancellation.
func (s *Service) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.enc = json.NewEncoder(out)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 256*1024), 4*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.write(Response{Error: &ErrorInfo{Code: "BadRequest", Message: err.Error()}})
			continue
		}
		s.write(s.dispatch(ctx, req))
	}
	if s.exec != nil {
		_ = s.exec.Close()
	}
	return scanner.Err()
}

func (s *Service) dispatch(ctx context.Context, req Request) Response {
	switch req.Cmd {
	case CmdParse:
		return s.handleParse(ctx, req)
	case CmdStats:
		return s.handleStats(req)
	case CmdQuery:
		return s.handleQuery(req)
	case CmdJumpToTime:
		return s.handleJump(req)
	default:
		return Response{ID: req.ID, Error: &ErrorInfo{
			Code:    "UnknownCommand",
			Message: fmt.Sprintf("unknown command %q", req.Cmd),
		}}
	}
}

func (s *Service) handleParse(ctx context.Context, req Request) Response {
	var params struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Path == "" {
		return Response{ID: req.ID, Error: &ErrorInfo{Code: "BadRequest", Message: "missing path"}}
	}

	// Progress events flow through a bounded channel to a writer goroutine;
	// when it fills, the oldest event is dropped. The channel is drained
	// before the response is written, so progress strictly precedes the
	// completion result.
	progCh := make(chan model.ParseProgress, progressBuffer)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range progCh {
			s.writeEvent(ProgressChannel, ev)
		}
	}()

	opts := s.opts
	opts.Progress = func(ev model.ParseProgress) {
		for {
			select {
			case progCh <- ev:
				return
			default:
				select {
				case <-progCh:
				default:
				}
			}
		}
	}

	exec, res, err := pipeline.OpenExecutor(ctx, params.Path, opts)
	close(progCh)
	wg.Wait()

	if err != nil {
		return Response{ID: req.ID, Error: errorInfo(err)}
	}

	if s.exec != nil {
		_ = s.exec.Close()
	}
	s.exec = exec
	s.path = params.Path
	return Response{ID: req.ID, Result: res.Summary}
}

func (s *Service) handleStats(req Request) Response {
	if s.exec == nil {
		return noReport(req.ID)
	}
	var params struct {
		Filters model.LogFilters `json:"filters"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Response{ID: req.ID, Error: &ErrorInfo{Code: "BadRequest", Message: err.Error()}}
	}

	stats, err := s.exec.Stats(params.Filters)
	if err != nil {
		return s.queryError(req.ID, err)
	}
	return Response{ID: req.ID, Result: stats}
}

func (s *Service) handleQuery(req Request) Response {
	if s.exec == nil {
		return noReport(req.ID)
	}
	var params struct {
		Filters   model.LogFilters   `json:"filters"`
		Cursor    *model.QueryCursor `json:"cursor"`
		Limit     int                `json:"limit"`
		Direction string             `json:"direction"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Response{ID: req.ID, Error: &ErrorInfo{Code: "BadRequest", Message: err.Error()}}
	}
	if params.Direction == "" {
		params.Direction = model.DirectionForward
	}

	resp, err := s.exec.Query(params.Filters, params.Cursor, params.Limit, params.Direction)
	if err != nil {
		return s.queryError(req.ID, err)
	}
	return Response{ID: req.ID, Result: resp}
}

func (s *Service) handleJump(req Request) Response {
	if s.exec == nil {
		return noReport(req.ID)
	}
	var params struct {
		Filters    model.LogFilters `json:"filters"`
		TargetTime string           `json:"targetTime"`
		Limit      int              `json:"limit"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return Response{ID: req.ID, Error: &ErrorInfo{Code: "BadRequest", Message: err.Error()}}
	}

	resp, err := s.exec.JumpToTime(params.Filters, params.TargetTime, params.Limit)
	if err != nil {
		return s.queryError(req.ID, err)
	}
	return Response{ID: req.ID, Result: resp}
}

// queryError maps an executor error; a stale cache additionally drops the
// retained executor so the shell can re-parse.
func (s *Service) queryError(id int64, err error) Response {
	if errors.Is(err, model.ErrCacheStale) {
		s.exec = nil
	}
	return Response{ID: id, Error: errorInfo(err)}
}

func noReport(id int64) Response {
	return Response{ID: id, Error: &ErrorInfo{Code: "NoReport", Message: "no bugreport parsed yet"}}
}

func errorInfo(err error) *ErrorInfo {
	code := "IoError"
	switch {
	case errors.Is(err, model.ErrNotFound):
		code = "BugreportNotFound"
	case errors.Is(err, model.ErrUnsupportedArchive):
		code = "UnsupportedFormat"
	case errors.Is(err, model.ErrCorruptArchive):
		code = "CorruptArchive"
	case errors.Is(err, model.ErrCancelled):
		code = "Cancelled"
	case errors.Is(err, model.ErrCacheStale):
		code = "CacheStale"
	case errors.Is(err, model.ErrCursorInvalid):
		code = "CursorInvalid"
	case errors.Is(err, model.ErrFilterInvalid):
		code = "FilterInvalid"
	}
	return &ErrorInfo{Code: code, Message: err.Error()}
}

func (s *Service) write(resp Response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.enc.Encode(resp)
}

func (s *Service) writeEvent(name string, data any) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.enc.Encode(Event{Event: name, Data: data})
}
