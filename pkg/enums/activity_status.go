package enums

import "fmt"

// ActivityStatus tracks whether an activity is sellable.
type ActivityStatus string

const (
	ActivityStatusDraft  ActivityStatus = "draft"
	ActivityStatusActive ActivityStatus = "active"
	ActivityStatusPaused ActivityStatus = "paused"
	ActivityStatusEnded  ActivityStatus = "ended"
)

var validActivityStatuses = []ActivityStatus{
	ActivityStatusDraft,
	ActivityStatusActive,
	ActivityStatusPaused,
	ActivityStatusEnded,
}

// String implements fmt.Stringer.
func (a ActivityStatus) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActivityStatus.
func (a ActivityStatus) IsValid() bool {
	for _, candidate := range validActivityStatuses {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActivityStatus converts raw input into a ActivityStatus.
func ParseActivityStatus(value string) (ActivityStatus, error) {
	for _, candidate := range validActivityStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activity status %q", value)
}
