package store

import (
	"testing"
	"time"
)

func TestDayOfUsesOfficeCalendar(t *testing.T) {
	manila, err := time.LoadLocation("Asia/Manila")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	// 17:30 UTC on Jan 25 is already Jan 26 in Manila.
	instant := time.Date(2026, time.January, 25, 17, 30, 0, 0, time.UTC)
	day := DayOf(instant, manila)
	if day.Key != "2026-01-26" {
		t.Fatalf("expected key 2026-01-26, got %s", day.Key)
	}
	if day.Prefix != "012626" {
		t.Fatalf("expected prefix 012626, got %s", day.Prefix)
	}
	if !day.Start.Equal(time.Date(2026, time.January, 25, 16, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start of day %s", day.Start.UTC())
	}
}

func TestDayOfNilLocationIsUTC(t *testing.T) {
	day := DayOf(time.Date(2026, time.March, 1, 23, 59, 0, 0, time.UTC), nil)
	if day.Prefix != "030126" {
		t.Fatalf("expected prefix 030126, got %s", day.Prefix)
	}
}

func TestFormatQueueNumber(t *testing.T) {
	cases := []struct {
		counter int64
		want    string
	}{
		{1, "012526-0001"},
		{42, "012526-0042"},
		{9999, "012526-9999"},
		{10000, "012526-10000"},
	}
	for _, tt := range cases {
		if got := FormatQueueNumber("012526", tt.counter); got != tt.want {
			t.Fatalf("FormatQueueNumber(%d)=%q, want %q", tt.counter, got, tt.want)
		}
	}
}

func TestParseQueueNumber(t *testing.T) {
	cases := []struct {
		raw     string
		prefix  string
		counter int64
		ok      bool
	}{
		{"012526-0001", "012526", 1, true},
		{" 012526-10000 ", "012526", 10000, true},
		{"012526-001", "", 0, false},
		{"12526-0001", "", 0, false},
		{"133126-0001", "", 0, false},
		{"012526-0000", "", 0, false},
		{"012526", "", 0, false},
		{"012526-00a1", "", 0, false},
		{"012526-+001", "", 0, false},
		{"012526--001", "", 0, false},
		{"012526-0_01", "", 0, false},
	}
	for _, tt := range cases {
		prefix, counter, ok := ParseQueueNumber(tt.raw)
		if ok != tt.ok || prefix != tt.prefix || counter != tt.counter {
			t.Fatalf("ParseQueueNumber(%q)=(%q,%d,%v), want (%q,%d,%v)", tt.raw, prefix, counter, ok, tt.prefix, tt.counter, tt.ok)
		}
	}
}
