package delivery

import (
	"strings"
	"time"
)

// ExpandSubject replaces the {{date}}, {{month}} and {{year}} placeholder
// tokens with values taken from now. Callers pass now already converted to
// the schedule's timezone.
func ExpandSubject(subject string, now time.Time) string {
	r := strings.NewReplacer(
		"{{date}}", now.Format("2006-01-02"),
		"{{month}}", now.Format("January"),
		"{{year}}", now.Format("2006"),
	)
	return r.Replace(subject)
}
