package sampling

import (
	"math/rand"

	"github.com/unixpickle/essentials"
)

// ActiveList is the unordered working set of sample indices that may still
// spawn candidates. Order carries no meaning: selection is uniform and
// retirement swaps the last member into the vacated slot.
type ActiveList struct {
	indices []int
}

// NewActiveList preallocates room for capacity members.
func NewActiveList(capacity int) *ActiveList {
	return &ActiveList{indices: make([]int, 0, capacity)}
}

// Len returns the number of active members.
func (a *ActiveList) Len() int {
	return len(a.indices)
}

// Add appends a newly accepted sample index.
func (a *ActiveList) Add(index int) {
	a.indices = append(a.indices, index)
}

// Pick draws a uniform position in [0, Len()). It consumes exactly one
// rng.Intn call and panics on an empty list.
func (a *ActiveList) Pick(rng *rand.Rand) int {
	return rng.Intn(len(a.indices))
}

// At returns the sample index stored at position.
func (a *ActiveList) At(position int) int {
	return a.indices[position]
}

// Retire removes the member at position permanently in O(1).
func (a *ActiveList) Retire(position int) {
	essentials.UnorderedDelete(&a.indices, position)
}

// Indices returns a copy of the current members.
func (a *ActiveList) Indices() []int {
	out := make([]int, len(a.indices))
	copy(out, a.indices)
	return out
}
