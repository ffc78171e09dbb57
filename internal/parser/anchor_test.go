package parser

import (
	"testing"
	"time"
)

func TestAnchor_Timezone(t *testing.T) {
	a := NewAnchor("Asia/Taipei", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), time.Time{})
	if a.BestEffort {
		t.Error("BestEffort = true with a valid timezone")
	}

	ms, ok := a.EpochMs(8, 24, 14, 22, 33, 123)
	if !ok {
		t.Fatal("EpochMs failed")
	}
	// 14:22:33.123 in UTC+8 is 06:22:33.123 UTC.
	want := time.Date(2024, 8, 24, 6, 22, 33, 123e6, time.UTC).UnixMilli()
	if ms != want {
		t.Errorf("EpochMs = %d, want %d", ms, want)
	}
}

func TestAnchor_MissingTimezoneFallsBackUTC(t *testing.T) {
	a := NewAnchor("", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), time.Time{})
	if !a.BestEffort {
		t.Error("BestEffort = false without a timezone")
	}
	ms, ok := a.EpochMs(8, 24, 14, 22, 33, 0)
	if !ok {
		t.Fatal("EpochMs failed")
	}
	want := time.Date(2024, 8, 24, 14, 22, 33, 0, time.UTC).UnixMilli()
	if ms != want {
		t.Errorf("EpochMs = %d, want %d", ms, want)
	}
}

func TestAnchor_BogusTimezoneFallsBackUTC(t *testing.T) {
	a := NewAnchor("Not/AZone", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), time.Time{})
	if !a.BestEffort {
		t.Error("BestEffort = false with an unknown timezone")
	}
}

func TestAnchor_YearRollover(t *testing.T) {
	a := NewAnchor("", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), time.Time{})

	// First line takes the report date's year.
	ms1, _ := a.EpochMs(12, 31, 23, 59, 59, 0)
	if y := time.UnixMilli(ms1).UTC().Year(); y != 2024 {
		t.Errorf("first line year = %d, want 2024", y)
	}

	// Month-day decreases: year advances across the rollover.
	ms2, _ := a.EpochMs(1, 1, 0, 0, 1, 0)
	if y := time.UnixMilli(ms2).UTC().Year(); y != 2025 {
		t.Errorf("post-rollover year = %d, want 2025", y)
	}
	if ms2 <= ms1 {
		t.Errorf("timestamps not monotonic across rollover: %d then %d", ms1, ms2)
	}
}

func TestAnchor_ImpossibleDate(t *testing.T) {
	a := NewAnchor("", time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC), time.Time{})
	if _, ok := a.EpochMs(2, 31, 10, 0, 0, 0); ok {
		t.Error("EpochMs accepted 02-31")
	}
	if _, ok := a.EpochMs(13, 1, 10, 0, 0, 0); ok {
		t.Error("EpochMs accepted month 13")
	}
}

func TestAnchor_FallsBackToNowYear(t *testing.T) {
	now := time.Date(2026, 8, 5, 12, 0, 0, 0, time.UTC)
	a := NewAnchor("", time.Time{}, now)
	ms, _ := a.EpochMs(8, 1, 0, 0, 0, 0)
	if y := time.UnixMilli(ms).UTC().Year(); y != 2026 {
		t.Errorf("year = %d, want 2026", y)
	}
}
