package arena

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lunixbochs/ukern/go/kernel/errno"
)

func TestInsertGetRemove(t *testing.T) {
	a := New[string](4)
	k0, err := a.Insert("a")
	require.NoError(t, err)
	k1, err := a.Insert("b")
	require.NoError(t, err)
	assert.Equal(t, Key(0), k0)
	assert.Equal(t, Key(1), k1)

	v, ok := a.Get(k1)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	v, ok = a.Remove(k0)
	assert.True(t, ok)
	assert.Equal(t, "a", v)
	assert.False(t, a.Has(k0))
	assert.Equal(t, 1, a.Len())
}

func TestStaleKeyAfterReuse(t *testing.T) {
	a := New[int](2)
	k, _ := a.Insert(1)
	a.Remove(k)
	k2, err := a.Insert(2)
	require.NoError(t, err)
	assert.NotEqual(t, k, k2, "reused slot must get a new key")

	_, ok := a.Get(k)
	assert.False(t, ok, "stale key resolved")
	_, ok = a.Remove(k)
	assert.False(t, ok)
	v, ok := a.Get(k2)
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestExhausted(t *testing.T) {
	a := New[int](2)
	a.Insert(1)
	a.Insert(2)
	_, err := a.Insert(3)
	assert.Equal(t, errno.Exhausted, err)
}

func TestNegativeAndUnknownKeys(t *testing.T) {
	a := New[int](0)
	assert.False(t, a.Has(-1))
	assert.False(t, a.Has(7))
	assert.Equal(t, MaxSize, a.Cap())
}

func TestEachOrder(t *testing.T) {
	a := New[int](8)
	var keys []Key
	for i := 0; i < 4; i++ {
		k, _ := a.Insert(i * 10)
		keys = append(keys, k)
	}
	a.Remove(keys[1])
	var seen []int
	a.Each(func(k Key, v int) bool {
		seen = append(seen, v)
		return true
	})
	assert.Equal(t, []int{0, 20, 30}, seen)
}
