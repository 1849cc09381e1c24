// Package versionutil parses collection versions and version ranges.
// Versions are strict semver 2.0; ranges use the galaxy requirement syntax
// (comma separated clauses that must all hold).
package versionutil

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
)

type Version struct {
	v          *semver.Version
	Raw        string
	Major      int64
	Minor      int64
	Patch      int64
	Prerelease string
	Build      string
}

func (v *Version) IsPrerelease() bool {
	return v.Prerelease != ""
}

func (v *Version) String() string {
	return v.Raw
}

// Parse accepts MAJOR.MINOR.PATCH[-prerelease][+build] and nothing else.
func Parse(s string) (*Version, error) {
	sv, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, ansibleerrors.ErrInvalidVersion.Msg(fmt.Sprintf("invalid version %q: %v", s, err))
	}
	return &Version{
		v:          sv,
		Raw:        s,
		Major:      int64(sv.Major()),
		Minor:      int64(sv.Minor()),
		Patch:      int64(sv.Patch()),
		Prerelease: sv.Prerelease(),
		Build:      sv.Metadata(),
	}, nil
}

// MustParse panics on invalid input; for tests and constants.
func MustParse(s string) *Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Compare orders by semver precedence. Versions that differ only in build
// metadata compare by their full string so the order is total.
func (v *Version) Compare(o *Version) int {
	if c := v.v.Compare(o.v); c != 0 {
		return c
	}
	return strings.Compare(v.Raw, o.Raw)
}

// Compare parses and compares two version strings. Unparseable versions
// sort below every valid one.
func Compare(a, b string) int {
	va, errA := Parse(a)
	vb, errB := Parse(b)
	switch {
	case errA != nil && errB != nil:
		return strings.Compare(a, b)
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}

// Sort orders versions ascending in place.
func Sort(vs []*Version) {
	sort.SliceStable(vs, func(i, j int) bool { return vs[i].Compare(vs[j]) < 0 })
}
