package upgrade_test

import (
	"testing"

	"github.com/upgradekit/odooup/upgrade"

	"github.com/blang/semver/v4"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  semver.Version
	}{
		{name: "two component", input: "15.0", want: semver.Version{Major: 15}},
		{name: "full odoo base version", input: "15.0.1.3", want: semver.Version{Major: 15, Patch: 1}},
		{name: "surrounding whitespace", input: " 14.0\n", want: semver.Version{Major: 14}},
		{name: "major only", input: "12", want: semver.Version{Major: 12}},
		{name: "malformed degrades to zero", input: "saas~12", want: semver.Version{}},
		{name: "empty degrades to zero", input: "", want: semver.Version{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := upgrade.ParseVersion(tt.input)
			if !got.EQ(tt.want) {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseVersion_ComparisonsStayTotal(t *testing.T) {
	zero := upgrade.ParseVersion("not a version")

	for _, v := range upgrade.SupportedVersions {
		if !zero.LT(upgrade.ParseVersion(v)) {
			t.Errorf("zero sentinel should sort below %q", v)
		}
	}
}

func TestNextMajor(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{input: "15.0", want: "16.0"},
		{input: "12.0.1.3", want: "13.0"},
		{input: "bogus", want: "1.0"}, // zero sentinel advances to 1.0
	}

	for _, tt := range tests {
		if got := upgrade.NextMajor(upgrade.ParseVersion(tt.input)); got != tt.want {
			t.Errorf("NextMajor(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
