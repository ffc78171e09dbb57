package query

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"milktea/internal/index"
	"milktea/internal/model"
)

const filterTimeLayout = "2006-01-02 15:04:05"

// predicate is a compiled filter set, cheap to evaluate per record.
type predicate struct {
	levels    map[byte]bool // nil = all levels
	tags      map[string]bool
	pid       *int32
	tid       *int32
	tsFromMs  *int64
	tsToMs    *int64
	matchText func(string) bool // nil = no text filter
	notText   string            // lowercased; "" = none
}

// compile validates a filter set against the report's timezone and builds
// the predicate. Infeasible filters return ErrFilterInvalid; an unparseable
// regex is not an error, it degrades to plain matching.
func compile(f model.LogFilters, loc *time.Location) (*predicate, error) {
	p := &predicate{pid: f.Pid, tid: f.Tid}

	if len(f.Levels) > 0 {
		p.levels = make(map[byte]bool, len(f.Levels))
		for _, l := range f.Levels {
			l = strings.ToUpper(strings.TrimSpace(l))
			if len(l) == 1 && model.ValidLevel(l[0]) {
				p.levels[l[0]] = true
			}
		}
	}

	if alts := splitAlternatives(f.Tag); len(alts) > 0 {
		p.tags = make(map[string]bool, len(alts))
		for _, a := range alts {
			p.tags[a] = true
		}
	}

	if f.TsFrom != "" {
		ms, err := parseFilterTime(f.TsFrom, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: tsFrom: %v", model.ErrFilterInvalid, err)
		}
		p.tsFromMs = &ms
	}
	if f.TsTo != "" {
		ms, err := parseFilterTime(f.TsTo, loc)
		if err != nil {
			return nil, fmt.Errorf("%w: tsTo: %v", model.ErrFilterInvalid, err)
		}
		p.tsToMs = &ms
	}
	if p.tsFromMs != nil && p.tsToMs != nil && *p.tsFromMs > *p.tsToMs {
		return nil, fmt.Errorf("%w: tsFrom is after tsTo", model.ErrFilterInvalid)
	}

	if f.Text != "" {
		p.matchText = compileText(f.Text, f.TextMode, f.CaseSensitive)
	}
	if f.NotText != "" {
		p.notText = strings.ToLower(f.NotText)
	}
	return p, nil
}

func parseFilterTime(s string, loc *time.Location) (int64, error) {
	t, err := time.ParseInLocation(filterTimeLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// compileText builds the message matcher. Regex mode compiles once per
// query and falls back to plain on a bad pattern; plain mode treats "|" as
// a disjunction of literals.
func compileText(text, mode string, caseSensitive bool) func(string) bool {
	if mode == model.TextModeRegex {
		pattern := text
		if !caseSensitive {
			pattern = "(?i)" + pattern
		}
		if re, err := regexp.Compile(pattern); err == nil {
			return re.MatchString
		}
	}

	alts := splitAlternatives(text)
	if len(alts) == 0 {
		return func(string) bool { return true }
	}
	if !caseSensitive {
		for i := range alts {
			alts[i] = strings.ToLower(alts[i])
		}
		return func(msg string) bool {
			msg = strings.ToLower(msg)
			for _, a := range alts {
				if strings.Contains(msg, a) {
					return true
				}
			}
			return false
		}
	}
	return func(msg string) bool {
		for _, a := range alts {
			if strings.Contains(msg, a) {
				return true
			}
		}
		return false
	}
}

// matchMeta evaluates everything short of the message text.
func (p *predicate) matchMeta(m index.RecordMeta) bool {
	if p.levels != nil && !p.levels[m.Level] {
		return false
	}
	if p.pid != nil && m.Pid != *p.pid {
		return false
	}
	if p.tid != nil && m.Tid != *p.tid {
		return false
	}
	if p.tags != nil && !p.tags[m.Tag] {
		return false
	}
	if p.tsFromMs != nil && (!m.HasTs() || m.TsEpochMs < *p.tsFromMs) {
		return false
	}
	if p.tsToMs != nil && (!m.HasTs() || m.TsEpochMs > *p.tsToMs) {
		return false
	}
	return true
}

// needsMsg reports whether matching requires the message text.
func (p *predicate) needsMsg() bool {
	return p.matchText != nil || p.notText != ""
}

// matchMsg evaluates the message-level conditions.
func (p *predicate) matchMsg(msg string) bool {
	if p.matchText != nil && !p.matchText(msg) {
		return false
	}
	if p.notText != "" && strings.Contains(strings.ToLower(msg), p.notText) {
		return false
	}
	return true
}

// usesTags / usesPid report which inverted indexes the planner may consult.
func (p *predicate) usesTags() bool { return p.tags != nil }
func (p *predicate) usesPid() bool  { return p.pid != nil }

// metaOnly reports whether the filter is fully answerable from postings:
// nothing beyond tag/pid constraints.
func (p *predicate) metaOnly() bool {
	return p.levels == nil && p.tid == nil &&
		p.tsFromMs == nil && p.tsToMs == nil && !p.needsMsg()
}

func (p *predicate) tagAlternatives() []string {
	alts := make([]string, 0, len(p.tags))
	for t := range p.tags {
		alts = append(alts, t)
	}
	return alts
}
