package store

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	dayKeyLayout    = "2006-01-02"
	dayPrefixLayout = "010206"
)

// QueueDay is one office-local calendar day. Key partitions the daily counter;
// Prefix is the MMDDYY token printed on queue numbers.
type QueueDay struct {
	Key    string
	Prefix string
	Start  time.Time
}

func DayOf(t time.Time, loc *time.Location) QueueDay {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return QueueDay{
		Key:    local.Format(dayKeyLayout),
		Prefix: local.Format(dayPrefixLayout),
		Start:  time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc),
	}
}

// FormatQueueNumber zero-pads the counter to four digits. Counters past 9999
// widen rather than wrap.
func FormatQueueNumber(prefix string, counter int64) string {
	return fmt.Sprintf("%s-%04d", prefix, counter)
}

// ParseQueueNumber splits a MMDDYY-NNNN number. It accepts wider counters.
func ParseQueueNumber(raw string) (string, int64, bool) {
	prefix, digits, found := strings.Cut(strings.TrimSpace(raw), "-")
	if !found || len(prefix) != len(dayPrefixLayout) || len(digits) < 4 {
		return "", 0, false
	}
	if _, err := time.Parse(dayPrefixLayout, prefix); err != nil {
		return "", 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return "", 0, false
		}
	}
	counter, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || counter < 1 {
		return "", 0, false
	}
	return prefix, counter, true
}
