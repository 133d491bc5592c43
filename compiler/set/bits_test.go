package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	s := MakeBits[int]()

	s.Set(1)
	s.Set(5)
	s.Set(130)

	assert.True(t, s.IsSet(1))
	assert.True(t, s.IsSet(130))
	assert.False(t, s.IsSet(2))
	assert.False(t, s.IsSet(1000))
	assert.Equal(t, 3, s.Size())

	s.Clear(5)

	assert.False(t, s.IsSet(5))
	assert.Equal(t, 2, s.Size())

	var got []int
	s.Range(func(k int) bool {
		got = append(got, k)
		return true
	})

	assert.Equal(t, []int{1, 130}, got)

	s.Reset()
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.IsSet(130))

	s.Set(3)
	assert.Equal(t, 1, s.Size())
}

func TestBitsZeroValue(t *testing.T) {
	var s Bits[int64]

	s.Set(63)
	s.Set(64)

	assert.Equal(t, 2, s.Size())
	assert.True(t, s.IsSet(64))
}
