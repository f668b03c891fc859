package enums

import "fmt"

// DormancyLevel is the per-merchant engagement recency of a member.
type DormancyLevel string

const (
	DormancyLevelActive  DormancyLevel = "active"
	DormancyLevelAtRisk  DormancyLevel = "at_risk"
	DormancyLevelDormant DormancyLevel = "dormant"
)

var validDormancyLevels = []DormancyLevel{
	DormancyLevelActive,
	DormancyLevelAtRisk,
	DormancyLevelDormant,
}

// String implements fmt.Stringer.
func (d DormancyLevel) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DormancyLevel.
func (d DormancyLevel) IsValid() bool {
	for _, candidate := range validDormancyLevels {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDormancyLevel converts raw input into a DormancyLevel.
func ParseDormancyLevel(value string) (DormancyLevel, error) {
	for _, candidate := range validDormancyLevels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid dormancy level %q", value)
}
