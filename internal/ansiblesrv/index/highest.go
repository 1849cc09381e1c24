// Package index holds the derived-index computations shared by the
// postgresql and in-memory catalogs: the highest version of a collection,
// the weighted search vector and the cross-repository delta.
package index

import (
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
)

// PickHighest returns the index of the version that carries is_highest.
// Stable releases win over prereleases; a collection with only
// prereleases gets its greatest prerelease. Unparseable versions never win.
func PickHighest(versions []string) (int, bool) {
	bestStable, bestPre := -1, -1
	var stable, pre *versionutil.Version
	for i, s := range versions {
		v, err := versionutil.Parse(s)
		if err != nil {
			continue
		}
		if v.IsPrerelease() {
			if pre == nil || v.Compare(pre) > 0 {
				pre, bestPre = v, i
			}
			continue
		}
		if stable == nil || v.Compare(stable) > 0 {
			stable, bestStable = v, i
		}
	}
	if bestStable >= 0 {
		return bestStable, true
	}
	if bestPre >= 0 {
		return bestPre, true
	}
	return -1, false
}
