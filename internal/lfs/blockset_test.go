package lfs_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"lfsforensics/internal/lfs"
)

func TestBlockSet(t *testing.T) {
	s := lfs.NewBlockSet()
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add(uint32(i), uint32(i+1))
		}()
	}
	wg.Wait()

	assert.Equal(t, 9, s.Len())
	assert.Equal(t, []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}, s.Sorted())
	assert.False(t, s.Has(9))

	c := s.Clone()
	c.Add(42)
	assert.False(t, s.Has(42))
	assert.True(t, c.Has(42))

	var nilSet *lfs.BlockSet
	nilSet.Add(1)
}
