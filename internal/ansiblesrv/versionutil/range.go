package versionutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
)

// Range is a parsed requirement such as ">=1.0.0,<2.0.0", "==1.2.3" or "*".
type Range struct {
	Raw   string
	c     *semver.Constraints
	exact *semver.Version
	// AllowsPrerelease is set when a clause names a prerelease version.
	AllowsPrerelease bool
}

var prereleaseClause = regexp.MustCompile(`\d+\.\d+\.\d+-[0-9A-Za-z.-]+`)

func ParseRange(s string) (*Range, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		raw = "*"
	}
	expr := strings.ReplaceAll(raw, "==", "=")
	r := &Range{Raw: raw, AllowsPrerelease: prereleaseClause.MatchString(raw)}
	if v, err := semver.StrictNewVersion(strings.TrimPrefix(expr, "=")); err == nil && !strings.ContainsAny(expr, "<>!~^,*|") {
		r.exact = v
	}
	c, err := semver.NewConstraint(expr)
	if err != nil {
		return nil, ansibleerrors.ErrInvalidVersion.Msg(fmt.Sprintf("invalid version range %q: %v", s, err))
	}
	r.c = c
	return r, nil
}

// Exact returns the pinned version for "==x.y.z" or "x.y.z" ranges.
func (r *Range) Exact() (string, bool) {
	if r.exact == nil {
		return "", false
	}
	return r.exact.Original(), true
}

// Allows reports whether v satisfies the range. Prereleases only match when
// the range names a prerelease.
func (r *Range) Allows(v *Version) bool {
	if r.exact != nil {
		return v.v.Equal(r.exact)
	}
	if v.IsPrerelease() && !r.AllowsPrerelease {
		return false
	}
	return r.c.Check(v.v)
}

// Highest returns the greatest version in candidates satisfying r.
// Unparseable candidates are skipped.
func (r *Range) Highest(candidates []string) (*Version, bool) {
	var best *Version
	for _, c := range candidates {
		v, err := Parse(c)
		if err != nil || !r.Allows(v) {
			continue
		}
		if best == nil || v.Compare(best) > 0 {
			best = v
		}
	}
	return best, best != nil
}

// Matching returns every candidate satisfying r, ascending.
func (r *Range) Matching(candidates []string) []*Version {
	var out []*Version
	for _, c := range candidates {
		v, err := Parse(c)
		if err != nil || !r.Allows(v) {
			continue
		}
		out = append(out, v)
	}
	Sort(out)
	return out
}

func (r *Range) String() string {
	return r.Raw
}
