package mailbox

import (
	"math/rand/v2"
	"slices"

	"github.com/dhcgn/mailclient/model"
)

// Reverse returns refs in reverse order without modifying the input.
func Reverse(refs []model.MessageRef) []model.MessageRef {
	out := slices.Clone(refs)
	slices.Reverse(out)
	return out
}

// Narrow applies the limit and then, if requested, keeps a single random
// element of what is left.
func Narrow(refs []model.MessageRef, limit int, randomPick bool, rng *rand.Rand) []model.MessageRef {
	if limit >= 0 && limit < len(refs) {
		refs = refs[:limit]
	}
	if randomPick && len(refs) > 0 {
		return []model.MessageRef{refs[pick(rng, len(refs))]}
	}
	return refs
}

func pick(rng *rand.Rand, n int) int {
	if rng == nil {
		return rand.IntN(n)
	}
	return rng.IntN(n)
}
