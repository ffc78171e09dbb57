// Package parser turns bugreport lines into LogRows: threadtime field
// extraction, continuation attachment, and timestamp normalisation.
package parser

import (
	"math"

	"milktea/internal/model"
)

// maxMsgBytes caps a row's message after continuation attachment.
const maxMsgBytes = 64 * 1024

type matchResult int

const (
	matchNone matchResult = iota
	matchOK
	matchMalformed
)

// fields holds the raw pieces of a matched threadtime line.
type fields struct {
	mon, day   int
	h, m, s    int
	ms         int
	pid, tid   int64
	level      byte
	tag        string
	msg        string
	tsRaw      string
}

// Parser converts the line stream into rows. It is stateful: continuation
// lines attach to the row under construction, which is only emitted once the
// next matched line (or Flush) closes it.
type Parser struct {
	anchor *Anchor

	cur        *model.LogRow
	curSection int
	curMsgLen  int

	// Malformed counts rows dropped for an unknown level letter or pid/tid
	// overflow. Continuations and orphans are not malformed.
	Malformed int64
}

// New creates a parser using the given time anchor.
func New(anchor *Anchor) *Parser {
	return &Parser{anchor: anchor}
}

// Feed processes one line. When a new matched line closes the row under
// construction, that finished row and its section ordinal are returned.
func (p *Parser) Feed(offset int64, section int, line []byte) (*model.LogRow, int, bool) {
	// A section boundary always closes the current row; continuations never
	// cross logcat buffers.
	var done *model.LogRow
	doneSection := p.curSection
	if p.cur != nil && section != p.curSection {
		done = p.cur
		p.cur = nil
	}

	f, res := matchThreadtime(line)
	switch res {
	case matchMalformed:
		p.Malformed++
		return done, doneSection, done != nil

	case matchNone:
		if len(line) == 0 {
			// Blank lines are ignored and do not break attachment.
			return done, doneSection, done != nil
		}
		if p.cur == nil {
			// Orphan continuation: dropped.
			return done, doneSection, done != nil
		}
		p.appendContinuation(line)
		return done, doneSection, done != nil

	case matchOK:
		if p.cur != nil {
			done = p.cur
			doneSection = p.curSection
		}
		row := &model.LogRow{
			ByteOffset: offset,
			TsRaw:      f.tsRaw,
			Level:      string(f.level),
			Tag:        f.tag,
			Pid:        int32(f.pid),
			Tid:        int32(f.tid),
			Msg:        f.msg,
		}
		if ms, ok := p.anchor.EpochMs(f.mon, f.day, f.h, f.m, f.s, f.ms); ok {
			row.TsEpochMs = &ms
		}
		p.cur = row
		p.curSection = section
		p.curMsgLen = len(f.msg)
		return done, doneSection, done != nil
	}
	return nil, 0, false
}

// Flush returns the final row under construction, if any.
func (p *Parser) Flush() (*model.LogRow, int, bool) {
	if p.cur == nil {
		return nil, 0, false
	}
	row := p.cur
	p.cur = nil
	return row, p.curSection, true
}

func (p *Parser) appendContinuation(line []byte) {
	if p.curMsgLen >= maxMsgBytes {
		return
	}
	avail := maxMsgBytes - p.curMsgLen - 1
	if avail <= 0 {
		return
	}
	if len(line) > avail {
		line = line[:avail]
	}
	p.cur.Msg += "\n" + string(line)
	p.curMsgLen += 1 + len(line)
}

// matchThreadtime recognises
//
//	MM-DD HH:MM:SS.mmm [UID] PID TID L TAG: MSG
//
// where the UID column (numeric or text) appears in bugreports captured with
// logcat -v uid. The tag/message split is at the first ": ".
func matchThreadtime(line []byte) (fields, matchResult) {
	var f fields

	// Date: MM-DD
	if len(line) < 20 || line[2] != '-' {
		return f, matchNone
	}
	mon, ok := twoDigits(line[0], line[1])
	if !ok {
		return f, matchNone
	}
	day, ok := twoDigits(line[3], line[4])
	if !ok {
		return f, matchNone
	}
	i := skipSpaces(line, 5)
	if i == 5 {
		return f, matchNone
	}

	// Time: HH:MM:SS.mmm
	if len(line) < i+12 || line[i+2] != ':' || line[i+5] != ':' || line[i+8] != '.' {
		return f, matchNone
	}
	h, ok1 := twoDigits(line[i], line[i+1])
	m, ok2 := twoDigits(line[i+3], line[i+4])
	s, ok3 := twoDigits(line[i+6], line[i+7])
	if !ok1 || !ok2 || !ok3 {
		return f, matchNone
	}
	ms := 0
	for j := i + 9; j < i+12; j++ {
		c := line[j]
		if c < '0' || c > '9' {
			return f, matchNone
		}
		ms = ms*10 + int(c-'0')
	}
	f.tsRaw = string(line[0:5]) + " " + string(line[i:i+12])
	i += 12

	// Up to four tokens before the tag: [uid] pid tid level. Collection stops
	// as soon as slot 3 or 4 holds a level letter, so tag text is never eaten.
	var toks [4]token
	n := 0
	j := i
	for n < 4 {
		j = skipSpaces(line, j)
		if j >= len(line) {
			break
		}
		start := j
		for j < len(line) && line[j] != ' ' {
			j++
		}
		toks[n] = token{start: start, end: j}
		n++
		if n >= 3 && toks[n-1].len() == 1 && model.ValidLevel(line[toks[n-1].start]) {
			break
		}
	}

	isLevelSlot := func(t token) bool { return t.len() == 1 && model.ValidLevel(line[t.start]) }
	isUpperSlot := func(t token) bool {
		return t.len() == 1 && line[t.start] >= 'A' && line[t.start] <= 'Z'
	}

	var pidTok, tidTok, levelTok token
	switch {
	case n >= 3 && isLevelSlot(toks[2]) && allDigits(line, toks[0]) && allDigits(line, toks[1]):
		pidTok, tidTok, levelTok = toks[0], toks[1], toks[2]
	case n >= 4 && isLevelSlot(toks[3]) && allDigits(line, toks[1]) && allDigits(line, toks[2]):
		// First token is the UID column; numeric or text, either way skipped.
		pidTok, tidTok, levelTok = toks[1], toks[2], toks[3]
	case n >= 3 && isUpperSlot(toks[2]) && allDigits(line, toks[0]) && allDigits(line, toks[1]):
		// Threadtime shape with a letter outside the level set.
		return f, matchMalformed
	case n >= 4 && isUpperSlot(toks[3]) && allDigits(line, toks[1]) && allDigits(line, toks[2]):
		return f, matchMalformed
	default:
		return f, matchNone
	}
	f.level = line[levelTok.start]

	var overflow bool
	f.pid, overflow = parseDigits(line, pidTok)
	if overflow {
		return f, matchMalformed
	}
	f.tid, overflow = parseDigits(line, tidTok)
	if overflow {
		return f, matchMalformed
	}

	// Tag and message: split at the first ": ". A trailing "Tag: " yields an
	// empty message; "Tag:" with no following space is not a match.
	rest := line[skipSpaces(line, levelTok.end):]
	split := -1
	for k := 0; k+1 < len(rest); k++ {
		if rest[k] == ':' && rest[k+1] == ' ' {
			split = k
			break
		}
	}
	if split < 0 {
		return f, matchNone
	}
	tag := trimSpaceBytes(rest[:split])
	if len(tag) == 0 {
		return f, matchNone
	}
	f.tag = string(tag)
	f.msg = string(rest[split+2:])

	f.mon, f.day = mon, day
	f.h, f.m, f.s, f.ms = h, m, s, ms
	return f, matchOK
}

type token struct{ start, end int }

func (t token) len() int { return t.end - t.start }

func skipSpaces(b []byte, i int) int {
	for i < len(b) && b[i] == ' ' {
		i++
	}
	return i
}

func twoDigits(a, b byte) (int, bool) {
	if a < '0' || a > '9' || b < '0' || b > '9' {
		return 0, false
	}
	return int(a-'0')*10 + int(b-'0'), true
}

func allDigits(b []byte, t token) bool {
	if t.len() == 0 {
		return false
	}
	for i := t.start; i < t.end; i++ {
		if b[i] < '0' || b[i] > '9' {
			return false
		}
	}
	return true
}

// parseDigits returns the value and whether it overflows int32.
func parseDigits(b []byte, t token) (int64, bool) {
	var v int64
	for i := t.start; i < t.end; i++ {
		v = v*10 + int64(b[i]-'0')
		if v > math.MaxInt32 {
			return 0, true
		}
	}
	return v, false
}

func trimSpaceBytes(b []byte) []byte {
	for len(b) > 0 && b[0] == ' ' {
		b = b[1:]
	}
	for len(b) > 0 && b[len(b)-1] == ' ' {
		b = b[:len(b)-1]
	}
	return b
}
