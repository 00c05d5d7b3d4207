package scheduler

import (
	"strings"
	"time"
	_ "time/tzdata" // user timezones must resolve without system zoneinfo
)

// LocalClock formats now as "HH:MM" in tz. An empty or unknown tz uses UTC.
func LocalClock(now time.Time, tz string) string {
	loc := time.UTC
	if tz = strings.TrimSpace(tz); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	return now.In(loc).Format("15:04")
}

// DueAt reports whether a daily time hhmm in tz matches the minute of now.
// "7:05" and "07:05" are the same time.
func DueAt(now time.Time, tz, hhmm string) bool {
	h, m, err := parseHHMM(hhmm)
	if err != nil {
		return false
	}
	clock := LocalClock(now, tz)
	ch, cm, _ := parseHHMM(clock)
	return ch == h && cm == m
}
