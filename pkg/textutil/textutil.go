package textutil

import (
	"github.com/antzucaro/matchr"
)

// Closest returns the candidate most similar to `name` (JaroWinkler),
// ok is false when there are no candidates or nothing is similar at all.
func Closest(name string, candidates []string) (closest string, ok bool) {
	var most float64
	for _, c := range candidates {
		similarity := matchr.JaroWinkler(name, c, false)
		if similarity > most {
			most = similarity
			closest = c
		}
	}
	return closest, most > 0
}
