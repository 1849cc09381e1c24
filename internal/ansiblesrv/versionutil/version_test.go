package versionutil

import (
	"testing"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	v, err := Parse("1.2.3-rc.1+build.5")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v.Major)
	assert.Equal(t, int64(2), v.Minor)
	assert.Equal(t, int64(3), v.Patch)
	assert.Equal(t, "rc.1", v.Prerelease)
	assert.Equal(t, "build.5", v.Build)
	assert.True(t, v.IsPrerelease())
	assert.Equal(t, "1.2.3-rc.1+build.5", v.String())

	for _, bad := range []string{"1.2", "v1.2.3", "1.2.3.4", "", "latest"} {
		_, err := Parse(bad)
		assert.ErrorIs(t, err, ansibleerrors.ErrInvalidVersion, bad)
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.1", -1},
		{"1.10.0", "1.9.0", 1},
		{"1.0.0-rc.1", "1.0.0", -1},
		{"1.0.0-alpha", "1.0.0-alpha.1", -1},
		{"1.0.0-alpha.beta", "1.0.0-beta", -1},
		{"1.0.0-rc.1+b", "1.0.0-rc.1+a", 1},
		{"2.0.0", "2.0.0", 0},
		{"bogus", "0.0.1", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Compare(tt.a, tt.b), "%s vs %s", tt.a, tt.b)
	}
}

func TestRange(t *testing.T) {
	candidates := []string{"0.9.0", "1.0.0", "1.1.0", "1.2.0-beta.1", "2.0.0", "2.1.0-rc.1", "not-a-version"}
	tests := []struct {
		rng     string
		highest string
		ok      bool
	}{
		{"*", "2.0.0", true},
		{"", "2.0.0", true},
		{">=1.0.0,<2.0.0", "1.1.0", true},
		{">=1.0.0, <2.0.0", "1.1.0", true},
		{"==1.0.0", "1.0.0", true},
		{"1.0.0", "1.0.0", true},
		{"!=2.0.0", "1.1.0", true},
		{">=2.1.0-rc.1", "2.1.0-rc.1", true},
		{"==1.2.0-beta.1", "1.2.0-beta.1", true},
		{">=3.0.0", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.rng, func(t *testing.T) {
			r, err := ParseRange(tt.rng)
			require.NoError(t, err)
			v, ok := r.Highest(candidates)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.highest, v.Raw)
			}
		})
	}
}

func TestRangeExact(t *testing.T) {
	r, err := ParseRange("==1.2.3")
	require.NoError(t, err)
	v, ok := r.Exact()
	assert.True(t, ok)
	assert.Equal(t, "1.2.3", v)

	r, err = ParseRange(">=1.2.3")
	require.NoError(t, err)
	_, ok = r.Exact()
	assert.False(t, ok)

	_, err = ParseRange(">=banana")
	assert.Error(t, err)
}

func TestMatching(t *testing.T) {
	r, err := ParseRange(">=1.0.0")
	require.NoError(t, err)
	got := r.Matching([]string{"2.0.0", "1.0.0", "1.5.0-rc.1", "1.5.0"})
	var raws []string
	for _, v := range got {
		raws = append(raws, v.Raw)
	}
	assert.Equal(t, []string{"1.0.0", "1.5.0", "2.0.0"}, raws)
}
