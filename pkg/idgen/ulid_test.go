package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSortableIDUnique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := MustGenerateSortableID()
		assert.Len(t, id, 26)
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestSortableIDOrderedAcrossTime(t *testing.T) {
	// Ordering is only guaranteed across distinct timestamps; ids minted in
	// the same millisecond carry random entropy.
	first := MustGenerateSortableID()
	time.Sleep(2 * time.Millisecond)
	second := MustGenerateSortableID()

	assert.Less(t, first, second)
}
