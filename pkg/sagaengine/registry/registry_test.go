package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	r := New[string, int]()
	assert.NotNil(t, r)
	assert.Equal(t, 0, r.Len())
}

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()

	r.Register("one", 1)
	r.Register("two", 2)

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Get("two")
	assert.True(t, ok)
	assert.Equal(t, 2, v)

	v, ok = r.Get("three")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestRegisterOverwrite(t *testing.T) {
	r := New[string, string]()

	r.Register("key", "old")
	r.Register("key", "new")

	v, ok := r.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "new", v)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := New[string, int]()
	r.MustRegister("tool.charge_card", 1)

	assert.Panics(t, func() {
		r.MustRegister("tool.charge_card", 2)
	})
}

func TestMustRegisterAllowsDistinctKeys(t *testing.T) {
	r := New[string, int]()
	r.MustRegister("tool.charge_card", 1)
	r.MustRegister("tool.release_room", 2)

	assert.Equal(t, 2, r.Len())
}

func TestRegisterMany(t *testing.T) {
	r := New[string, int]()

	entries := map[string]int{"one": 1, "two": 2, "three": 3}
	r.RegisterMany(entries)

	assert.Equal(t, 3, r.Len())
	for k, v := range entries {
		got, ok := r.Get(k)
		assert.True(t, ok)
		assert.Equal(t, v, got)
	}
}

func TestMustGet(t *testing.T) {
	r := New[string, int]()
	r.Register("key", 42)

	v := r.MustGet("key")
	assert.Equal(t, 42, v)
}

func TestMustGetPanic(t *testing.T) {
	r := New[string, int]()
	assert.PanicsWithValue(t, "registry: key not found", func() {
		r.MustGet("nonexistent")
	})
}

func TestHas(t *testing.T) {
	r := New[string, int]()
	r.Register("key", 42)

	assert.True(t, r.Has("key"))
	assert.False(t, r.Has("nonexistent"))
}

func TestDelete(t *testing.T) {
	r := New[string, int]()
	r.Register("key", 42)
	r.Delete("key")

	assert.False(t, r.Has("key"))
}

func TestKeysAndSortedKeys(t *testing.T) {
	r := New[string, int]()
	r.Register("beta", 2)
	r.Register("alpha", 1)
	r.Register("gamma", 3)

	assert.ElementsMatch(t, []string{"alpha", "beta", "gamma"}, r.Keys())
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, SortedKeys(r))
}

func TestLen(t *testing.T) {
	r := New[string, int]()
	assert.Equal(t, 0, r.Len())

	r.Register("one", 1)
	assert.Equal(t, 1, r.Len())

	r.Delete("one")
	assert.Equal(t, 0, r.Len())
}

func TestRange(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)

	visited := make(map[string]int)
	r.Range(func(k string, v int) bool {
		visited[k] = v
		return true
	})

	assert.Equal(t, map[string]int{"one": 1, "two": 2}, visited)
}

func TestRangeEarlyStop(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)
	r.Register("three", 3)

	count := 0
	r.Range(func(k string, v int) bool {
		count++
		return false
	})
	assert.Equal(t, 1, count)
}

func TestRangeAllowsMutation(t *testing.T) {
	r := New[string, int]()
	r.Register("one", 1)
	r.Register("two", 2)

	r.Range(func(k string, v int) bool {
		r.Register("new-"+k, v*10)
		return true
	})

	assert.True(t, r.Has("new-one"))
	assert.True(t, r.Has("new-two"))
	assert.Equal(t, 4, r.Len())
}

func TestGetOrCreate(t *testing.T) {
	r := New[string, int]()

	callCount := 0
	factory := func() int {
		callCount++
		return 42
	}

	v := r.GetOrCreate("key", factory)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, callCount)

	v = r.GetOrCreate("key", factory)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, callCount)
}

func TestFactoryPattern(t *testing.T) {
	type ToolFactory func(name string) string

	factories := New[string, ToolFactory]()
	factories.Register("charge_card", func(name string) string { return "charged:" + name })

	factory, ok := factories.Get("charge_card")
	require.True(t, ok)
	assert.Equal(t, "charged:visa", factory("visa"))
}

func TestConcurrentRegister(t *testing.T) {
	r := New[int, int]()
	var wg sync.WaitGroup
	n := 1000

	for i := range n {
		wg.Add(1)
		go func(val int) {
			defer wg.Done()
			r.Register(val, val*2)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, r.Len())
}

func TestConcurrentGetOrCreate(t *testing.T) {
	r := New[string, int]()
	var wg sync.WaitGroup
	var callCount atomic.Int32

	factory := func() int {
		callCount.Add(1)
		return 42
	}

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := r.GetOrCreate("key", factory)
			assert.Equal(t, 42, v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), callCount.Load())
	assert.Equal(t, 1, r.Len())
}

func TestNilValueDistinguishedFromMissing(t *testing.T) {
	r := New[string, *int]()
	r.Register("nil", nil)

	v, ok := r.Get("nil")
	assert.True(t, ok)
	assert.Nil(t, v)

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
