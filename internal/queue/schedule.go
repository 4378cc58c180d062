package queue

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetryInterval is the period of the retry timer.
const DefaultRetryInterval = 3 * time.Minute

// ParseSchedule turns a retry schedule into a cron.Schedule. An empty spec
// yields a constant-delay schedule of interval (or DefaultRetryInterval when
// interval is not positive). Anything else must be a standard cron expression
// or descriptor, e.g. "*/5 * * * *" or "@every 90s".
func ParseSchedule(spec string, interval time.Duration) (cron.Schedule, error) {
	if spec == "" {
		if interval <= 0 {
			interval = DefaultRetryInterval
		}
		return cron.Every(interval), nil
	}

	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retry schedule %q: %w", spec, err)
	}
	return sched, nil
}
