package execution

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/planflow/types"
)

type closable struct {
	name   string
	err    error
	closed atomic.Int32
	log    *[]string
	mu     *sync.Mutex
}

func (c *closable) Close() error {
	c.closed.Add(1)
	if c.log != nil {
		c.mu.Lock()
		*c.log = append(*c.log, c.name)
		c.mu.Unlock()
	}
	return c.err
}

type counter struct{ n int }

type releaseOnly struct{ released bool }

func (r *releaseOnly) Close() { r.released = true }

func TestContext_StringKeys(t *testing.T) {
	c := NewContext(zap.NewNop())

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("answer", 42)
	v, ok := c.Get("answer")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	c.Remove("answer")
	_, ok = c.Get("answer")
	assert.False(t, ok)
}

func TestContext_TypedKeys(t *testing.T) {
	c := NewContext(nil)
	key := NewKey[string]("greeting")

	PutKey(c, key, "hello")
	v, ok := GetKey(c, key)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
	assert.Equal(t, "greeting", key.Name())

	_, err := RequireKey(c, NewKey[int]("absent"))
	assert.True(t, types.IsCode(err, types.ErrMissingDependency))
}

func TestContext_TypeTags(t *testing.T) {
	c := NewContext(nil)

	_, ok := Get[*counter](c)
	assert.False(t, ok)

	_, err := Require[*counter](c)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrMissingDependency))

	Put(c, &counter{n: 3})
	got, err := Require[*counter](c)
	require.NoError(t, err)
	assert.Equal(t, 3, got.n)
}

func TestContext_ComputeIfAbsent_SingleInstance(t *testing.T) {
	c := NewContext(nil)

	var calls atomic.Int32
	var wg sync.WaitGroup
	results := make([]*counter, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := ComputeIfAbsent(c, func() (*counter, error) {
				calls.Add(1)
				return &counter{}, nil
			})
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, results[0], r)
	}
	assert.GreaterOrEqual(t, calls.Load(), int32(1))
}

func TestContext_ComputeIfAbsent_FactoryError(t *testing.T) {
	c := NewContext(nil)
	_, err := ComputeIfAbsent(c, func() (*counter, error) {
		return nil, errors.New("boom")
	})
	require.Error(t, err)
	_, ok := Get[*counter](c)
	assert.False(t, ok)
}

func TestContext_InheritFromParent_FrozenCopy(t *testing.T) {
	parent := NewContext(nil)
	first := &counter{n: 1}
	Put(parent, first)

	child := NewContext(nil)
	v, err := InheritFromParentOrComputeIfAbsent(child, parent, func() (*counter, error) {
		t.Fatal("factory must not run when parent has a value")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, first, v)

	// later parent changes are not observed
	Put(parent, &counter{n: 2})
	again, ok := Get[*counter](child)
	require.True(t, ok)
	assert.Same(t, first, again)
}

func TestContext_InheritFromParent_Computes(t *testing.T) {
	child := NewContext(nil)
	v, err := InheritFromParentOrComputeIfAbsent(child, NewContext(nil), func() (*counter, error) {
		return &counter{n: 7}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v.n)

	v2, err := InheritFromParentOrComputeIfAbsent(child, nil, func() (*counter, error) {
		return &counter{n: 8}, nil
	})
	require.NoError(t, err)
	assert.Same(t, v, v2)
}

func TestContext_Close_ReleasesAllDespiteFailures(t *testing.T) {
	c := NewContext(zap.NewNop())

	var mu sync.Mutex
	var order []string
	a := &closable{name: "a", log: &order, mu: &mu}
	b := &closable{name: "b", err: errors.New("release failed"), log: &order, mu: &mu}
	d := &closable{name: "d", log: &order, mu: &mu}
	r := &releaseOnly{}

	c.Put("a", a)
	c.Put("b", b)
	c.Put("d", d)
	Put(c, r)
	c.Put("plain", "not releasable")

	c.Close()

	assert.Equal(t, int32(1), a.closed.Load())
	assert.Equal(t, int32(1), b.closed.Load())
	assert.Equal(t, int32(1), d.closed.Load())
	assert.True(t, r.released)
	assert.Equal(t, []string{"d", "b", "a"}, order)

	// idempotent
	c.Close()
	assert.Equal(t, int32(1), a.closed.Load())
}

func TestContext_Close_SkipsInherited(t *testing.T) {
	parent := NewContext(nil)
	shared := &closable{name: "shared"}
	Put(parent, shared)

	child := NewContext(nil)
	_, err := InheritFromParentOrComputeIfAbsent(child, parent, func() (*closable, error) {
		return &closable{}, nil
	})
	require.NoError(t, err)

	child.Close()
	assert.Equal(t, int32(0), shared.closed.Load())

	parent.Close()
	assert.Equal(t, int32(1), shared.closed.Load())
}

func TestNewExecution(t *testing.T) {
	params := map[string]string{"env": "test"}
	e := NewExecution("plan-1", "demo", params)
	params["env"] = "mutated"

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, StatusInitializing, e.Status)
	assert.Equal(t, "test", e.Parameters["env"])
	assert.GreaterOrEqual(t, e.Duration().Nanoseconds(), int64(0))
}
