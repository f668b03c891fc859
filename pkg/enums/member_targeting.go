package enums

import "fmt"

// MemberTargeting restricts which members may buy an activity.
type MemberTargeting string

const (
	MemberTargetingAll     MemberTargeting = "all"
	MemberTargetingActive  MemberTargeting = "active"
	MemberTargetingDormant MemberTargeting = "dormant"
)

var validMemberTargetings = []MemberTargeting{
	MemberTargetingAll,
	MemberTargetingActive,
	MemberTargetingDormant,
}

// String implements fmt.Stringer.
func (m MemberTargeting) String() string {
	return string(m)
}

// IsValid reports whether the value is a known MemberTargeting.
func (m MemberTargeting) IsValid() bool {
	for _, candidate := range validMemberTargetings {
		if candidate == m {
			return true
		}
	}
	return false
}

// ParseMemberTargeting converts raw input into a MemberTargeting.
func ParseMemberTargeting(value string) (MemberTargeting, error) {
	for _, candidate := range validMemberTargetings {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member targeting %q", value)
}
