package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"milktea/internal/model"
)

// filterFlags holds the shared log filter flag set used by stats, query and
// jump.
type filterFlags struct {
	tsFrom        string
	tsTo          string
	levels        []string
	tag           string
	pid           int32
	tid           int32
	text          string
	notText       string
	regex         bool
	caseSensitive bool
}

func (ff *filterFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&ff.tsFrom, "from", "", `Start time "YYYY-MM-DD HH:MM:SS" (report local time)`)
	fl.StringVar(&ff.tsTo, "to", "", `End time "YYYY-MM-DD HH:MM:SS" (report local time)`)
	fl.StringSliceVarP(&ff.levels, "levels", "l", nil, "Levels to include (V,D,I,W,E,F)")
	fl.StringVarP(&ff.tag, "tag", "t", "", `Tag filter; "a|b" matches either`)
	fl.Int32Var(&ff.pid, "pid", -1, "Process id filter")
	fl.Int32Var(&ff.tid, "tid", -1, "Thread id filter")
	fl.StringVarP(&ff.text, "text", "s", "", `Message text filter; "a|b" matches either in plain mode`)
	fl.StringVar(&ff.notText, "not-text", "", "Exclude rows whose message contains this literal")
	fl.BoolVar(&ff.regex, "regex", false, "Treat --text as a regular expression")
	fl.BoolVar(&ff.caseSensitive, "case-sensitive", false, "Match text case-sensitively")
}

func (ff *filterFlags) build() model.LogFilters {
	f := model.LogFilters{
		TsFrom:        ff.tsFrom,
		TsTo:          ff.tsTo,
		Tag:           ff.tag,
		Text:          ff.text,
		NotText:       ff.notText,
		CaseSensitive: ff.caseSensitive,
	}
	for _, l := range ff.levels {
		if l = strings.TrimSpace(l); l != "" {
			f.Levels = append(f.Levels, strings.ToUpper(l))
		}
	}
	if ff.pid >= 0 {
		pid := ff.pid
		f.Pid = &pid
	}
	if ff.tid >= 0 {
		tid := ff.tid
		f.Tid = &tid
	}
	if ff.regex {
		f.TextMode = model.TextModeRegex
	}
	return f
}
