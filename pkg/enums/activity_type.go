package enums

import "fmt"

// ActivityType classifies what a promotion sells.
type ActivityType string

const (
	ActivityTypeVoucher  ActivityType = "voucher"
	ActivityTypeTopUp    ActivityType = "top_up"
	ActivityTypePoints   ActivityType = "points"
	ActivityTypeGroupBuy ActivityType = "group_buy"
)

var validActivityTypes = []ActivityType{
	ActivityTypeVoucher,
	ActivityTypeTopUp,
	ActivityTypePoints,
	ActivityTypeGroupBuy,
}

// String implements fmt.Stringer.
func (a ActivityType) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActivityType.
func (a ActivityType) IsValid() bool {
	for _, candidate := range validActivityTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActivityType converts raw input into a ActivityType.
func ParseActivityType(value string) (ActivityType, error) {
	for _, candidate := range validActivityTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid activity type %q", value)
}
