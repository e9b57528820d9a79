package semver

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// Satisfies reports whether version meets constraint, e.g. ">= 1.0.0, < 2.0.0".
// An empty constraint accepts every valid version.
func Satisfies(version, constraint string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid semver: %s", version)
	}
	if constraint == "" {
		return true, nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	return c.Check(v), nil
}

// ValidateConstraint reports whether constraint parses.
func ValidateConstraint(constraint string) error {
	if constraint == "" {
		return nil
	}
	if _, err := semver.NewConstraint(constraint); err != nil {
		return fmt.Errorf("invalid constraint %q: %w", constraint, err)
	}
	return nil
}
