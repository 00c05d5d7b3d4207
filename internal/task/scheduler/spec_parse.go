package scheduler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Five fields, six with leading seconds, or an @descriptor.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string after ParseSchedule.
//
// Cron specs ("*/5 * * * *", "0 30 9 * * *", "@hourly") keep their text in
// Cron. Intervals are either Go durations ("55m") or clock style H:MM
// ("00:50" is fifty minutes), with Source "duration" or "hhmm". A "cron:",
// "interval:" or "every:" prefix forces the kind.
type ParsedSpec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string
}

var errNoSchedule = errors.New("schedule required")

func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, errNoSchedule
	}

	if rest, ok := cutPrefixFold(s, "cron:"); ok {
		return cronSpec(rest)
	}
	for _, p := range [...]string{"interval:", "every:"} {
		if rest, ok := cutPrefixFold(s, p); ok {
			return intervalSpec(rest)
		}
	}

	if strings.HasPrefix(s, "@") || strings.ContainsAny(s, " \t") {
		return cronSpec(s)
	}
	if strings.Contains(s, ":") || startsWithDigitOrSign(s) {
		return intervalSpec(s)
	}
	return ParsedSpec{}, fmt.Errorf("invalid schedule %q: want cron ('* * * * *'), H:MM ('02:30') or a duration ('55m')", raw)
}

// ValidateSchedule reports whether Add would accept raw.
func ValidateSchedule(raw string) error {
	_, err := ParseSchedule(raw)
	return err
}

func cronSpec(expr string) (ParsedSpec, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return ParsedSpec{}, errNoSchedule
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return ParsedSpec{Kind: SpecCron, Cron: expr, Source: "cron"}, nil
}

func intervalSpec(v string) (ParsedSpec, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return ParsedSpec{}, errNoSchedule
	}
	spec := ParsedSpec{Kind: SpecInterval, Source: "duration"}
	if hs, ms, ok := strings.Cut(v, ":"); ok {
		h, herr := strconv.Atoi(hs)
		m, merr := strconv.Atoi(ms)
		if herr != nil || merr != nil || h < 0 || len(ms) != 2 || m > 59 {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q: want H:MM", v)
		}
		spec.Every, spec.Source = time.Duration(h)*time.Hour+time.Duration(m)*time.Minute, "hhmm"
	} else {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ParsedSpec{}, fmt.Errorf("invalid interval %q: %w", v, err)
		}
		spec.Every = d
	}
	if spec.Every <= 0 {
		return ParsedSpec{}, fmt.Errorf("interval %q must be positive", v)
	}
	return spec, nil
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return s, false
	}
	return s[len(prefix):], true
}

func startsWithDigitOrSign(s string) bool {
	c := s[0]
	return c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9')
}

// parseHHMM parses a 24h time of day such as "07:30".
func parseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hs, ms, ok := strings.Cut(s, ":")
	if ok && len(ms) == 2 {
		hour, err = strconv.Atoi(hs)
		if err == nil {
			minute, err = strconv.Atoi(ms)
		}
		if err == nil && hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59 {
			return hour, minute, nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time %q: want HH:MM", s)
}
