package execution

import (
	"fmt"
	"io"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/planflow/types"
)

// Key is a typed string key for context attributes.
type Key[T any] struct {
	name string
}

// NewKey creates a typed key with the given name.
func NewKey[T any](name string) Key[T] {
	return Key[T]{name: name}
}

// Name returns the key name.
func (k Key[T]) Name() string {
	return k.name
}

type typeKey struct {
	t reflect.Type
}

func (k typeKey) String() string {
	return k.t.String()
}

func keyOf[T any]() typeKey {
	return typeKey{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// releaser is the no-error release contract some values expose instead of io.Closer.
type releaser interface {
	Close()
}

type entry struct {
	value any
	// owned entries are released on Close; values inherited from a parent are not.
	owned bool
}

// Context is the typed attribute registry every execution runs inside.
// Attributes are keyed either by string or by type tag.
type Context struct {
	mu         sync.RWMutex
	attributes map[any]entry
	order      []any
	closed     bool
	logger     *zap.Logger
}

// NewContext creates an empty registry.
func NewContext(logger *zap.Logger) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		attributes: make(map[any]entry),
		logger:     logger.With(zap.String("component", "execution_context")),
	}
}

// Get returns the attribute stored under a string key.
func (c *Context) Get(key string) (any, bool) {
	return c.load(key)
}

// Put stores an attribute under a string key.
func (c *Context) Put(key string, value any) {
	c.store(key, value, true)
}

// Remove deletes a string-keyed attribute without releasing it.
func (c *Context) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attributes[key]; !ok {
		return
	}
	delete(c.attributes, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

func (c *Context) load(key any) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.attributes[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (c *Context) store(key, value any, owned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.attributes[key]; !ok {
		c.order = append(c.order, key)
	}
	c.attributes[key] = entry{value: value, owned: owned}
}

// storeIfAbsent stores value unless key is already present and returns the winner.
func (c *Context) storeIfAbsent(key, value any, owned bool) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.attributes[key]; ok {
		return e.value, false
	}
	c.order = append(c.order, key)
	c.attributes[key] = entry{value: value, owned: owned}
	return value, true
}

// Get returns the attribute registered for type T.
func Get[T any](c *Context) (T, bool) {
	return cast[T](c.load(keyOf[T]()))
}

// Put registers value as the attribute for type T.
func Put[T any](c *Context, value T) {
	c.store(keyOf[T](), value, true)
}

// Require returns the attribute for type T or a MissingDependency error.
func Require[T any](c *Context) (T, error) {
	v, ok := Get[T](c)
	if !ok {
		return v, types.MissingDependency(keyOf[T]().String())
	}
	return v, nil
}

// GetKey returns the attribute stored under a typed key.
func GetKey[T any](c *Context, key Key[T]) (T, bool) {
	return cast[T](c.load(key.name))
}

// PutKey stores value under a typed key.
func PutKey[T any](c *Context, key Key[T], value T) {
	c.store(key.name, value, true)
}

// RequireKey returns the attribute under key or a MissingDependency error.
func RequireKey[T any](c *Context, key Key[T]) (T, error) {
	v, ok := GetKey(c, key)
	if !ok {
		return v, types.MissingDependency(key.name)
	}
	return v, nil
}

// ComputeIfAbsent returns the attribute for type T, creating it with factory
// when absent. Concurrent callers observe a single instance: the first writer
// wins and a losing freshly-computed value is released.
func ComputeIfAbsent[T any](c *Context, factory func() (T, error)) (T, error) {
	key := keyOf[T]()
	if v, ok := Get[T](c); ok {
		return v, nil
	}
	created, err := factory()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("compute %s: %w", key, err)
	}
	winner, stored := c.storeIfAbsent(key, created, true)
	if !stored {
		c.release(key, created)
	}
	v, _ := cast[T](winner, true)
	return v, nil
}

// InheritFromParentOrComputeIfAbsent copies the parent's attribute for type T
// once, or computes a fresh one when the parent has none. The value is frozen
// locally; later changes on the parent are not observed. Inherited values stay
// owned by the parent and are not released by this context.
func InheritFromParentOrComputeIfAbsent[T any](c, parent *Context, factory func() (T, error)) (T, error) {
	key := keyOf[T]()
	if v, ok := Get[T](c); ok {
		return v, nil
	}
	if parent != nil {
		if pv, ok := Get[T](parent); ok {
			winner, _ := c.storeIfAbsent(key, pv, false)
			v, _ := cast[T](winner, true)
			return v, nil
		}
	}
	return ComputeIfAbsent(c, factory)
}

func cast[T any](v any, ok bool) (T, bool) {
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

// Close releases every owned attribute that exposes a release contract, in
// reverse registration order. A failing release is logged and does not stop
// the remaining releases.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	order := make([]any, len(c.order))
	copy(order, c.order)
	attributes := c.attributes
	c.attributes = make(map[any]entry)
	c.order = nil
	c.mu.Unlock()

	for i := len(order) - 1; i >= 0; i-- {
		key := order[i]
		e := attributes[key]
		if !e.owned {
			continue
		}
		c.release(key, e.value)
	}
}

func (c *Context) release(key, value any) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("release panicked",
				zap.String("key", fmt.Sprint(key)),
				zap.Any("panic", r),
			)
		}
	}()

	switch v := value.(type) {
	case io.Closer:
		if err := v.Close(); err != nil {
			c.logger.Warn("failed to release context attribute",
				zap.String("key", fmt.Sprint(key)),
				zap.Error(err),
			)
		}
	case releaser:
		v.Close()
	}
}
