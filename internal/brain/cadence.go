package brain

import (
	"fmt"
	"regexp"
	"time"
)

// Cadence kinds.
const (
	CadenceInterval = "interval"
	CadenceDaily    = "daily"
)

// intervalRe is deliberately strict: no whitespace, lowercase suffix only.
// "2H" and " 2h" are rejected.
var intervalRe = regexp.MustCompile(`^(\d+)([mhd])$`)

// dailyRe matches a 24h wall-clock time HH:MM.
var dailyRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// ValidateCadence rejects malformed cadences before they reach the log.
func ValidateCadence(c *Cadence) error {
	switch c.Kind {
	case CadenceInterval:
		if !intervalRe.MatchString(c.Every) {
			return fmt.Errorf("invalid interval cadence %q (want <n>m, <n>h, or <n>d)", c.Every)
		}
		return nil
	case CadenceDaily:
		if !dailyRe.MatchString(c.At) {
			return fmt.Errorf("invalid daily cadence time %q (want HH:MM)", c.At)
		}
		return nil
	default:
		return fmt.Errorf("unknown cadence kind %q", c.Kind)
	}
}

// NextDue computes the next due time after a run at runAt.
//
// interval: add n minutes/hours/days to the run time.
// daily: today's local HH:MM; when that is not strictly in the future
// (including a run at exactly HH:MM), add one day.
func NextDue(c *Cadence, runAt time.Time) (time.Time, error) {
	if err := ValidateCadence(c); err != nil {
		return time.Time{}, err
	}
	switch c.Kind {
	case CadenceInterval:
		m := intervalRe.FindStringSubmatch(c.Every)
		n := 0
		fmt.Sscanf(m[1], "%d", &n)
		switch m[2] {
		case "m":
			return runAt.Add(time.Duration(n) * time.Minute), nil
		case "h":
			return runAt.Add(time.Duration(n) * time.Hour), nil
		default: // "d"
			return runAt.AddDate(0, 0, n), nil
		}
	default: // daily
		m := dailyRe.FindStringSubmatch(c.At)
		var hh, mm int
		fmt.Sscanf(m[1], "%d", &hh)
		fmt.Sscanf(m[2], "%d", &mm)
		next := time.Date(runAt.Year(), runAt.Month(), runAt.Day(), hh, mm, 0, 0, runAt.Location())
		if !next.After(runAt) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	}
}
