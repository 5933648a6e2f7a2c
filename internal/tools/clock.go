package tools

import (
	"context"
	"time"
	_ "time/tzdata" // zone lookups on hosts without a tz database
)

// DateTimeLayout is the format returned by the clock tool.
const DateTimeLayout = "2006-01-02 15:04:05"

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// RegisterClock adds the get_current_date_time tool. A nil now uses
// time.Now.
func (r *Registry) RegisterClock(now Clock) {
	if now == nil {
		now = time.Now
	}
	r.Register(&Tool{
		Name:        "get_current_date_time",
		Description: "Get the current date and time. The result is formatted as yyyy-MM-dd HH:mm:ss.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timeZone": map[string]any{
					"type":        "string",
					"description": "IANA time zone name, e.g. Asia/Shanghai or America/Chicago. Defaults to the server's zone.",
				},
			},
		},
		Handler: func(ctx context.Context, args string) (string, error) {
			var p struct {
				TimeZone string `json:"timeZone"`
			}
			if err := decodeArgs("get_current_date_time", args, &p); err != nil {
				return "", err
			}
			return formatNow(now(), p.TimeZone, r), nil
		},
	})
}

// formatNow renders t in the named zone. Unknown zones fall back to UTC.
func formatNow(t time.Time, zone string, r *Registry) string {
	if zone == "" {
		return t.Format(DateTimeLayout)
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		r.logger.Warn("unknown time zone, using UTC", "zone", zone, "error", err)
		loc = time.UTC
	}
	return t.In(loc).Format(DateTimeLayout)
}
