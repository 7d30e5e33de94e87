package dbref

import (
	"regexp"
	"time"

	"github.com/talariadb/casg/casgerr"
)

// Ref is a parsed database reference: source "/" dataset [":" version]
// ["#" profile] (spec §6).
type Ref struct {
	Source  Source
	Version string
	Profile string
}

var refPattern = regexp.MustCompile(`^([^/:#]+)/([^/:#]+)(?::([^#]+))?(?:#(.+))?$`)

// timestampVersion matches the YYYYMMDD_HHMMSS upstream-version form.
var timestampVersion = regexp.MustCompile(`^\d{8}_\d{6}$`)

// ParseRef parses a database reference string per the grammar in spec §6.
// "latest" normalizes to "current" at the boundary.
func ParseRef(s string) (Ref, error) {
	m := refPattern.FindStringSubmatch(s)
	if m == nil {
		return Ref{}, casgerr.InvalidInput("dbref: malformed reference %q", s)
	}
	source, dataset, version, profile := m[1], m[2], m[3], m[4]

	src, err := ParseSource(source, dataset)
	if err != nil {
		return Ref{}, err
	}

	if version == "" {
		version = "current"
	}
	if version == "latest" {
		version = "current"
	}
	if err := validateVersion(version); err != nil {
		return Ref{}, err
	}

	return Ref{Source: src, Version: version, Profile: profile}, nil
}

func validateVersion(version string) error {
	switch version {
	case "current", "stable", "latest":
		return nil
	}
	if timestampVersion.MatchString(version) {
		if _, err := time.Parse("20060102_150405", version); err != nil {
			return casgerr.InvalidInput("dbref: invalid timestamp version %q: %v", version, err)
		}
		return nil
	}
	// any other non-empty token is accepted as an opaque upstream version.
	if version == "" {
		return casgerr.InvalidInput("dbref: empty version")
	}
	return nil
}

// String renders the reference back into grammar form.
func (r Ref) String() string {
	s := r.Source.CanonicalString() + ":" + r.Version
	if r.Profile != "" {
		s += "#" + r.Profile
	}
	return s
}

// NewVersion generates a version identifier in the core's canonical
// YYYYMMDD_HHMMSS UTC form (spec §6).
func NewVersion(t time.Time) string {
	return t.UTC().Format("20060102_150405")
}
