package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard five-field expressions, an optional leading
// seconds field, and descriptors such as @hourly or @every 5m.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse cron %q: %w", expr, err)
	}
	return sched, nil
}

// IsDue reports whether an operation with schedule expr, last started at
// lastStart, should run at now. An empty expression is always due, and so
// is an operation that has never started.
func IsDue(expr string, lastStart *time.Time, now time.Time) (bool, error) {
	if expr == "" {
		return true, nil
	}
	sched, err := ParseCron(expr)
	if err != nil {
		return false, err
	}
	if lastStart == nil {
		return true, nil
	}
	return !sched.Next(*lastStart).After(now), nil
}
