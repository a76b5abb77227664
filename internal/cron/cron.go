// Package cron evaluates five-field cron expressions. It is a pure wrapper:
// no state, no scheduling loop.
package cron

import (
	"time"

	"github.com/robfig/cron/v3"

	"clipforge/internal/faults"
)

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Next returns the first occurrence of expr strictly after the reference time.
// A malformed expression is a configuration fault.
func Next(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, faults.Configf("parse cron %q: %v", expr, err)
	}
	return sched.Next(after.UTC()), nil
}

// Validate reports whether expr parses.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return faults.Configf("parse cron %q: %v", expr, err)
	}
	return nil
}
