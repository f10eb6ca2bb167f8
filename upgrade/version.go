package upgrade

import (
	"fmt"
	"strings"

	"github.com/blang/semver/v4"
)

// ParseVersion parses an Odoo version string such as "15.0" or
// "15.0.1.3". Components beyond the third are dropped; only the major
// matters for step planning. Malformed input degrades to the zero
// version instead of failing, so version comparisons stay total: zero
// sorts below every valid version.
func ParseVersion(s string) semver.Version {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}

	v, err := semver.ParseTolerant(strings.Join(parts, "."))
	if err != nil {
		return semver.Version{}
	}

	return v
}

// NextMajor returns the version tag one major above v, e.g. "16.0" for
// any 15.x value. Upgrade workers advance exactly one major per step.
func NextMajor(v semver.Version) string {
	return fmt.Sprintf("%d.0", v.Major+1)
}
