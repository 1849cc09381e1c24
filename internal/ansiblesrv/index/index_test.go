package index

import (
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
	"github.com/stretchr/testify/assert"
)

func TestPickHighest(t *testing.T) {
	tests := []struct {
		name     string
		versions []string
		want     string
		ok       bool
	}{
		{"single", []string{"1.0.0"}, "1.0.0", true},
		{"upgrade", []string{"1.0.0", "1.1.0"}, "1.1.0", true},
		{"stable beats newer prerelease", []string{"1.0.0", "2.0.0-rc.1"}, "1.0.0", true},
		{"release after its rc", []string{"2.0.0-rc.1", "2.0.0"}, "2.0.0", true},
		{"prereleases only", []string{"1.0.0-alpha", "1.0.0-beta", "1.0.0-alpha.1"}, "1.0.0-beta", true},
		{"numeric ordering", []string{"1.9.0", "1.10.0", "1.2.0"}, "1.10.0", true},
		{"invalid skipped", []string{"junk", "0.1.0"}, "0.1.0", true},
		{"empty", nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, ok := PickHighest(tt.versions)
			assert.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, tt.versions[i])
			}
		})
	}
}

// The pick must not depend on input order and must be the semver maximum
// among stable versions whenever one exists.
func TestPickHighestProperty(t *testing.T) {
	pool := []string{"0.1.0", "1.0.0", "1.0.1", "1.1.0-rc.1", "1.1.0", "2.0.0-alpha", "2.0.0-beta.2", "10.0.0"}
	r := rand.New(rand.NewSource(7))
	for iter := 0; iter < 200; iter++ {
		n := 1 + r.Intn(len(pool))
		perm := r.Perm(len(pool))[:n]
		versions := make([]string, n)
		for i, p := range perm {
			versions[i] = pool[p]
		}
		i, ok := PickHighest(versions)
		assert.True(t, ok)
		chosen := versionutil.MustParse(versions[i])
		hasStable := false
		for _, s := range versions {
			v := versionutil.MustParse(s)
			if !v.IsPrerelease() {
				hasStable = true
			}
		}
		if hasStable {
			assert.False(t, chosen.IsPrerelease(), versions)
		}
		for _, s := range versions {
			v := versionutil.MustParse(s)
			if v.IsPrerelease() == chosen.IsPrerelease() {
				assert.LessOrEqual(t, v.Compare(chosen), 0, versions)
			}
		}
	}
}

func TestBuildVector(t *testing.T) {
	v := BuildVector(SearchDoc{
		Namespace:    "testing",
		Name:         "demo",
		Tags:         []string{"networking", "demo"},
		ContentNames: []string{"ping_module", "setup"},
		Description:  "A demo collection for networking tests",
	})
	assert.Equal(t, WeightA, v["testing"])
	assert.Equal(t, WeightA, v["demo"])
	assert.Equal(t, WeightB, v["networking"])
	assert.Equal(t, WeightC, v["ping_module"])
	assert.Equal(t, WeightD, v["collection"])

	rank, ok := v.Match("Demo networking")
	assert.True(t, ok)
	assert.InDelta(t, 1.4, rank, 0.0001)

	_, ok = v.Match("demo kubernetes")
	assert.False(t, ok)

	assert.Contains(t, v.String(), "'demo':1A")
}

func TestDelta(t *testing.T) {
	a, b, c, d := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	added, removed := Delta([]uuid.UUID{a, b, c}, []uuid.UUID{b, c, d})
	assert.Equal(t, []uuid.UUID{d}, added)
	assert.Equal(t, []uuid.UUID{a}, removed)

	added, removed = Delta(nil, []uuid.UUID{a})
	assert.Equal(t, []uuid.UUID{a}, added)
	assert.Empty(t, removed)
}
