package index

import (
	"github.com/google/uuid"
)

// Delta returns the ids present only in next (added) and only in prev
// (removed). Order follows the input slices.
func Delta(prev, next []uuid.UUID) (added, removed []uuid.UUID) {
	inPrev := make(map[uuid.UUID]struct{}, len(prev))
	for _, id := range prev {
		inPrev[id] = struct{}{}
	}
	inNext := make(map[uuid.UUID]struct{}, len(next))
	for _, id := range next {
		inNext[id] = struct{}{}
		if _, ok := inPrev[id]; !ok {
			added = append(added, id)
		}
	}
	for _, id := range prev {
		if _, ok := inNext[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed
}
