package enums

import "fmt"

// GroupOrderStatus tracks formation of a group-buy.
type GroupOrderStatus string

const (
	GroupOrderStatusForming   GroupOrderStatus = "forming"
	GroupOrderStatusSucceeded GroupOrderStatus = "succeeded"
	GroupOrderStatusFailed    GroupOrderStatus = "failed"
	GroupOrderStatusCancelled GroupOrderStatus = "cancelled"
)

var validGroupOrderStatuses = []GroupOrderStatus{
	GroupOrderStatusForming,
	GroupOrderStatusSucceeded,
	GroupOrderStatusFailed,
	GroupOrderStatusCancelled,
}

// String implements fmt.Stringer.
func (g GroupOrderStatus) String() string {
	return string(g)
}

// IsValid reports whether the value is a known GroupOrderStatus.
func (g GroupOrderStatus) IsValid() bool {
	for _, candidate := range validGroupOrderStatuses {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGroupOrderStatus converts raw input into a GroupOrderStatus.
func ParseGroupOrderStatus(value string) (GroupOrderStatus, error) {
	for _, candidate := range validGroupOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid group order status %q", value)
}
