// Package status buckets ticket workflow states.
package status

import (
	"strings"
	"time"
)

type Status string

const (
	Resolved   Status = "resolved"
	InProgress Status = "in_progress"
	Open       Status = "open"
)

var inProgressMarkers = []string{"progress", "development", "review"}

// Classify treats any ticket with a resolution date as resolved. Otherwise the
// tracker status text decides between in progress and open.
func Classify(status string, resolutionDate *time.Time) Status {
	if resolutionDate != nil {
		return Resolved
	}
	lower := strings.ToLower(status)
	for _, marker := range inProgressMarkers {
		if strings.Contains(lower, marker) {
			return InProgress
		}
	}
	return Open
}
