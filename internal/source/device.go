package source

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"milktea/internal/model"
)

// Preamble holds everything learned from the bugreport header before the
// first logcat section: device identity plus the time anchor inputs.
type Preamble struct {
	Device     model.DeviceInfo
	Timezone   string    // persist.sys.timezone value, "" if absent
	ReportDate time.Time // zero if the report date could not be determined
}

var (
	reFingerprint = regexp.MustCompile(`(?im)^\s*Build fingerprint:\s*(.+?)\s*$`)
	reRelease     = regexp.MustCompile(`(?i)\bro\.build\.version\.release\s*=\s*(\S+)`)
	reSDK         = regexp.MustCompile(`(?i)\bro\.build\.version\.sdk\s*=\s*(\d+)`)
	reBrand       = regexp.MustCompile(`(?im)^\s*\[?ro\.product\.brand\]?[:=]\s*\[?([^\[\]\r\n]+?)\]?\s*$`)
	reModel       = regexp.MustCompile(`(?im)^\s*\[?ro\.product\.model\]?[:=]\s*\[?([^\[\]\r\n]+?)\]?\s*$`)
	reBuildID     = regexp.MustCompile(`(?i)\bro\.build\.id\s*=\s*(\S+)`)
	reTimezone    = regexp.MustCompile(`(?m)^\s*persist\.sys\.timezone\s*=\s*(\S+)\s*$`)
	reDumpstate   = regexp.MustCompile(`dumpstate:\s*(\d{4})-(\d{2})-(\d{2})[ T](\d{2}):(\d{2}):(\d{2})`)
	reBuildDate   = regexp.MustCompile(`\.(\d{2})(\d{2})(\d{2})\.`)
	reUptime      = regexp.MustCompile(`(?im)^\s*Uptime:\s*up\s+(.+?)\s*$`)

	reBatteryLevel  = regexp.MustCompile(`(?im)^\s*level:\s*(\d+)\s*$`)
	reBatteryTemp   = regexp.MustCompile(`(?im)^\s*temperature:\s*(\d+)\s*$`)
	reBatteryStatus = regexp.MustCompile(`(?im)^\s*status:\s*(\d+)\s*$`)
)

// android.os.BatteryManager status constants.
var batteryStatusNames = map[int]string{
	1: "unknown",
	2: "charging",
	3: "discharging",
	4: "not charging",
	5: "full",
}

// ScanPreamble extracts device identity and time anchor inputs from the first
// chunk of a bugreport. Every field is best-effort; absent fields stay zero.
func ScanPreamble(sample []byte) Preamble {
	text := string(sample)
	var p Preamble

	if m := reFingerprint.FindStringSubmatch(text); m != nil {
		p.Device.Fingerprint = strings.Trim(m[1], "'")
	}
	if m := reRelease.FindStringSubmatch(text); m != nil {
		p.Device.AndroidVersion = m[1]
	}
	if m := reSDK.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			p.Device.APILevel = int32(v)
		}
	}
	if m := reBrand.FindStringSubmatch(text); m != nil {
		p.Device.Brand = strings.TrimSpace(m[1])
	}
	if m := reModel.FindStringSubmatch(text); m != nil {
		p.Device.Model = strings.TrimSpace(m[1])
	}
	if m := reBuildID.FindStringSubmatch(text); m != nil {
		p.Device.BuildID = m[1]
	}
	if m := reTimezone.FindStringSubmatch(text); m != nil {
		p.Timezone = m[1]
	}
	if m := reUptime.FindStringSubmatch(text); m != nil {
		p.Device.UptimeMs = parseUptimeMs(m[1])
	}

	// Report date: dumpstate header first, build id date as fallback.
	if m := reDumpstate.FindStringSubmatch(text); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		h, _ := strconv.Atoi(m[4])
		mi, _ := strconv.Atoi(m[5])
		s, _ := strconv.Atoi(m[6])
		p.ReportDate = time.Date(y, time.Month(mo), d, h, mi, s, 0, time.UTC)
		p.Device.ReportTime = p.ReportDate.Format("2006-01-02T15:04:05Z07:00")
	} else if m := reBuildDate.FindStringSubmatch(p.Device.BuildID); m != nil {
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		if mo >= 1 && mo <= 12 && d >= 1 && d <= 31 {
			p.ReportDate = time.Date(2000+y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
		}
	}

	p.Device.Battery = scanBattery(text)
	return p
}

func scanBattery(text string) *model.BatteryInfo {
	lvl := reBatteryLevel.FindStringSubmatch(text)
	if lvl == nil {
		return nil
	}
	b := &model.BatteryInfo{}
	if v, err := strconv.Atoi(lvl[1]); err == nil {
		b.Level = int32(v)
	}
	if m := reBatteryTemp.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			// dumpsys battery reports tenths of a degree Celsius
			b.TempC = float32(v) / 10
		}
	}
	if m := reBatteryStatus.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			b.Status = batteryStatusNames[v]
		}
	}
	return b
}

// parseUptimeMs parses the dumpstate uptime phrase, e.g.
// "0 weeks, 2 days, 1 hour, 52 minutes".
func parseUptimeMs(s string) int64 {
	var total time.Duration
	for _, part := range strings.Split(s, ",") {
		fields := strings.Fields(strings.TrimSpace(part))
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		unit := strings.TrimSuffix(strings.ToLower(fields[1]), "s")
		switch unit {
		case "week":
			total += time.Duration(n) * 7 * 24 * time.Hour
		case "day":
			total += time.Duration(n) * 24 * time.Hour
		case "hour":
			total += time.Duration(n) * time.Hour
		case "minute":
			total += time.Duration(n) * time.Minute
		case "second":
			total += time.Duration(n) * time.Second
		}
	}
	return total.Milliseconds()
}
