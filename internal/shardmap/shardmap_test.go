package shardmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMap_Basic(t *testing.T) {
	m := New[uint64, string]()

	assert.True(t, m.Insert(1, "a"))
	assert.False(t, m.Insert(1, "b"))

	v, ok := m.Load(1)
	require.True(t, ok)
	assert.Equal(t, "a", v)

	m.Store(1, "c")
	assert.True(t, m.Update(1, func(old string) string { return old + "d" }))
	assert.False(t, m.Update(2, func(old string) string { return old }))

	var seen string
	assert.True(t, m.View(1, func(v string) { seen = v }))
	assert.Equal(t, "cd", seen)

	_, ok = m.DeleteIf(1, func(v string) bool { return v == "x" })
	assert.False(t, ok)
	assert.True(t, m.Contains(1))

	v, ok = m.DeleteIf(1, func(v string) bool { return v == "cd" })
	assert.True(t, ok)
	assert.Equal(t, "cd", v)
	assert.Equal(t, 0, m.Len())

	_, ok = m.Delete(1)
	assert.False(t, ok)
}

func TestMap_Range(t *testing.T) {
	m := New[int, int]()
	for i := range 1000 {
		m.Store(i, i*2)
	}
	sum := 0
	m.Range(func(k, v int) bool {
		assert.Equal(t, k*2, v)
		sum += k
		return true
	})
	assert.Equal(t, 999*1000/2, sum)

	n := 0
	m.Range(func(k, _ int) bool {
		n++
		m.Delete(k)
		return n < 10
	})
	assert.Equal(t, 10, n)
	assert.Equal(t, 990, m.Len())
}

func TestMap_ConcurrentUpdate(t *testing.T) {
	m := New[string, int]()
	m.Store("k", 0)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 1000 {
				m.Update("k", func(v int) int { return v + 1 })
			}
		}()
	}
	wg.Wait()

	v, _ := m.Load("k")
	assert.Equal(t, 16000, v)
}
