package catalog

import (
	"fmt"
	"time"
)

// ParseDate resolves a guide date to midnight in the tenant's civil
// timezone, converted to UTC, so a calendar-day query is timezone-correct
// regardless of where the backend runs. Accepted values are the symbolic
// yesterday/today/tomorrow, a plain 2006-01-02 date, or an RFC 3339
// timestamp whose calendar day is used.
func (s *Service) ParseDate(value string) (time.Time, error) {
	loc, err := time.LoadLocation(s.tenant.Timezone)
	if err != nil {
		return time.Time{}, fmt.Errorf("tenant timezone %q: %w", s.tenant.Timezone, err)
	}

	var day time.Time
	switch value {
	case "", "today":
		day = s.now().In(loc)
	case "yesterday":
		day = s.now().In(loc).AddDate(0, 0, -1)
	case "tomorrow":
		day = s.now().In(loc).AddDate(0, 0, 1)
	default:
		if parsed, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
			day = parsed
			break
		}
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			return time.Time{}, fmt.Errorf("unsupported date %q", value)
		}
		day = parsed.In(loc)
	}

	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	return midnight.UTC(), nil
}

// scheduleTime formats a timestamp for the schedule endpoint, which wants
// UTC without an offset suffix.
func scheduleTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05")
}
