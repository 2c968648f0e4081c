package variables

import (
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/planflow/reports"
	"github.com/BaSui01/planflow/types"
)

// Type is the mutability of a variable.
type Type string

const (
	Normal    Type = "NORMAL"
	Immutable Type = "IMMUTABLE"
)

// Variable is one value stored in a node scope. Variables are replaced, never
// mutated, so readers holding a *Variable see a consistent pair.
type Variable struct {
	Value any
	Type  Type
}

// Reserved keys are bound by the engine and cannot be declared by plans.
const (
	KeyExecutionID  = "executionId"
	KeyPlanID       = "planId"
	KeyReportNodeID = "reportNodeId"
)

// DefaultReservedKeys lists the keys PutVariable rejects by default.
var DefaultReservedKeys = []string{KeyExecutionID, KeyPlanID, KeyReportNodeID}

type scope struct {
	vars sync.Map // key -> *Variable
}

// ReleaseHook is called once per ReleaseVariables call.
type ReleaseHook func(nodeID string)

// Option configures a Manager.
type Option func(*Manager)

// WithReservedKeys replaces the reserved key set.
func WithReservedKeys(keys ...string) Option {
	return func(m *Manager) {
		m.reserved = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			m.reserved[k] = struct{}{}
		}
	}
}

// WithReleaseHook installs a hook observing scope releases.
func WithReleaseHook(h ReleaseHook) Option {
	return func(m *Manager) { m.onRelease = h }
}

// Manager is the hierarchical variable store of one execution. Scopes are
// keyed by report node id; lookups walk the ancestor chain through the node
// cache, nearest scope first.
//
// Scopes are created on first write with LoadOrStore so concurrent writers
// share one instance. Unrelated keys never serialize against each other.
// A released scope is tombstoned and never recreated.
type Manager struct {
	cache     reports.NodeCache
	scopes    sync.Map // nodeID -> *scope
	released  sync.Map // nodeID -> struct{}
	reserved  map[string]struct{}
	onRelease ReleaseHook
	releases  atomic.Int64
	logger    *zap.Logger
}

// NewManager creates a manager reading ancestry from cache.
func NewManager(cache reports.NodeCache, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cache:  cache,
		logger: logger.With(zap.String("component", "variables")),
	}
	WithReservedKeys(DefaultReservedKeys...)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) scopeOf(nodeID string) (*scope, bool) {
	s, ok := m.scopes.Load(nodeID)
	if !ok {
		return nil, false
	}
	return s.(*scope), true
}

func (m *Manager) isReleased(nodeID string) bool {
	_, ok := m.released.Load(nodeID)
	return ok
}

func releasedScope(nodeID string) *types.Error {
	return types.NewError(types.ErrReleasedScope, "scope of report node "+nodeID+" was released").WithKey(nodeID)
}

// chain returns nodeID followed by its ancestors, nearest first. A node the
// cache does not know, or an ancestry loop, fails with INTERNAL_ERROR; the
// ids collected so far are still returned.
func (m *Manager) chain(nodeID string) ([]string, error) {
	var ids []string
	seen := make(map[string]struct{})
	for id := nodeID; id != ""; {
		if _, loop := seen[id]; loop {
			return ids, types.NewError(types.ErrInternalError, "report node ancestry loops at "+id).WithKey(id)
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		node, ok := m.cache.Get(id)
		if !ok {
			return ids, types.NewError(types.ErrInternalError, "report node "+id+" is missing from the node cache").WithKey(id)
		}
		id = node.ParentID
	}
	return ids, nil
}

// chainOrLog is chain for lookups that cannot return an error.
func (m *Manager) chainOrLog(nodeID string) []string {
	ids, err := m.chain(nodeID)
	if err != nil {
		m.logger.Error("broken report node ancestry", zap.String("node_id", nodeID), zap.Error(err))
	}
	return ids
}

// PutVariable declares key in nodeID's own scope, replacing any previous
// value there. Reserved keys are rejected.
func (m *Manager) PutVariable(nodeID string, typ Type, key string, value any) error {
	if _, reserved := m.reserved[key]; reserved {
		return types.NewError(types.ErrReservedVariable, "variable "+key+" is reserved").WithKey(key)
	}
	if typ == "" {
		typ = Normal
	}
	if m.isReleased(nodeID) {
		return releasedScope(nodeID)
	}
	s, _ := m.scopes.LoadOrStore(nodeID, &scope{})
	// ReleaseVariables tombstones before it deletes, so a scope stored while
	// racing a release is caught here.
	if m.isReleased(nodeID) {
		m.scopes.Delete(nodeID)
		return releasedScope(nodeID)
	}
	s.(*scope).vars.Store(key, &Variable{Value: value, Type: typ})
	m.logger.Debug("variable declared",
		zap.String("node_id", nodeID),
		zap.String("key", key),
		zap.String("type", string(typ)),
	)
	return nil
}

// GetVariable returns the value of key in nodeID's scope or, when recursive,
// in the nearest ancestor scope defining it.
// A broken ancestry is logged and the lookup covers the known part of it.
func (m *Manager) GetVariable(nodeID, key string, recursive bool) (any, bool) {
	v, _, ok, err := m.lookup(nodeID, key, recursive)
	if err != nil {
		m.logger.Error("broken report node ancestry", zap.String("node_id", nodeID), zap.Error(err))
	}
	if !ok {
		return nil, false
	}
	return v.Value, true
}

// lookup finds the nearest scope defining key. A hit found before the
// ancestry breaks is returned together with the error.
func (m *Manager) lookup(nodeID, key string, recursive bool) (*Variable, string, bool, error) {
	ids := []string{nodeID}
	var chainErr error
	if recursive {
		ids, chainErr = m.chain(nodeID)
	}
	for _, id := range ids {
		s, ok := m.scopeOf(id)
		if !ok {
			continue
		}
		if v, ok := s.vars.Load(key); ok {
			return v.(*Variable), id, true, chainErr
		}
	}
	return nil, "", false, chainErr
}

// require is lookup for callers that report errors. A broken ancestry fails
// the call even when a nearer scope defines key.
func (m *Manager) require(nodeID, key string) (any, error) {
	v, _, ok, err := m.lookup(nodeID, key, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, types.UndefinedVariable(key)
	}
	return v.Value, nil
}

// UpdateVariable replaces key in the nearest scope defining it, starting
// from nodeID. It fails with ImmutableVariable or UndefinedVariable.
func (m *Manager) UpdateVariable(nodeID, key string, value any) error {
	for {
		current, ownerID, ok, err := m.lookup(nodeID, key, true)
		if err != nil {
			return err
		}
		if !ok {
			return types.UndefinedVariable(key)
		}
		if current.Type == Immutable {
			return types.ImmutableVariable(key)
		}
		s, ok := m.scopeOf(ownerID)
		if !ok {
			continue
		}
		if s.vars.CompareAndSwap(key, current, &Variable{Value: value, Type: current.Type}) {
			m.logger.Debug("variable updated", zap.String("node_id", ownerID), zap.String("key", key))
			return nil
		}
		// lost a race with another writer or a removal; retry against the new state
	}
}

// SetVariableWithFallback updates the nearest defining scope, or declares
// key in nodeID's scope when no scope defines it.
func (m *Manager) SetVariableWithFallback(nodeID, key string, value any) error {
	err := m.UpdateVariable(nodeID, key, value)
	if types.IsCode(err, types.ErrUndefinedVariable) {
		return m.PutVariable(nodeID, Normal, key, value)
	}
	return err
}

// NearestLiveScope returns nodeID or its nearest ancestor whose scope has
// not been released. It fails with RELEASED_SCOPE when every scope on the
// chain is gone.
func (m *Manager) NearestLiveScope(nodeID string) (string, error) {
	ids, err := m.chain(nodeID)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		if !m.isReleased(id) {
			return id, nil
		}
	}
	return "", releasedScope(nodeID)
}

// GetAllVariables merges every scope on the chain; nearer scopes shadow
// farther ones.
func (m *Manager) GetAllVariables(nodeID string) map[string]any {
	out := make(map[string]any)
	for _, id := range m.chainOrLog(nodeID) {
		s, ok := m.scopeOf(id)
		if !ok {
			continue
		}
		s.vars.Range(func(k, v any) bool {
			key := k.(string)
			if _, shadowed := out[key]; !shadowed {
				out[key] = v.(*Variable).Value
			}
			return true
		})
	}
	return out
}

// GetAllVariablesForKey returns one value per scope defining key, nearest first.
func (m *Manager) GetAllVariablesForKey(nodeID, key string) []any {
	var out []any
	for _, id := range m.chainOrLog(nodeID) {
		s, ok := m.scopeOf(id)
		if !ok {
			continue
		}
		if v, ok := s.vars.Load(key); ok {
			out = append(out, v.(*Variable).Value)
		}
	}
	return out
}

// GetFirstVariableMatching returns the nearest variable whose key matches
// pattern. Within one scope the lexically smallest matching key wins.
func (m *Manager) GetFirstVariableMatching(nodeID string, pattern *regexp.Regexp) (string, any, bool) {
	for _, id := range m.chainOrLog(nodeID) {
		s, ok := m.scopeOf(id)
		if !ok {
			continue
		}
		var (
			bestKey string
			bestVal any
			found   bool
		)
		s.vars.Range(func(k, v any) bool {
			key := k.(string)
			if pattern.MatchString(key) && (!found || key < bestKey) {
				bestKey, bestVal, found = key, v.(*Variable).Value, true
			}
			return true
		})
		if found {
			return bestKey, bestVal, true
		}
	}
	return "", nil, false
}

// RemoveVariable deletes key from nodeID's own scope.
func (m *Manager) RemoveVariable(nodeID, key string) {
	if s, ok := m.scopeOf(nodeID); ok {
		s.vars.Delete(key)
	}
}

// ReleaseVariables drops nodeID's scope. It must be called when the node
// finishes. Later writes to nodeID fail with RELEASED_SCOPE.
func (m *Manager) ReleaseVariables(nodeID string) {
	m.released.Store(nodeID, struct{}{})
	m.scopes.Delete(nodeID)
	m.releases.Add(1)
	if m.onRelease != nil {
		m.onRelease(nodeID)
	}
}

// ScopeCount returns the number of live scopes.
func (m *Manager) ScopeCount() int {
	n := 0
	m.scopes.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Releases returns how many times ReleaseVariables was called.
func (m *Manager) Releases() int64 {
	return m.releases.Load()
}

// GetVariableAsString returns key as a string.
func (m *Manager) GetVariableAsString(nodeID, key string) (string, error) {
	v, err := m.require(nodeID, key)
	if err != nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case fmt.Stringer:
		return s.String(), nil
	case nil:
		return "", nil
	}
	return fmt.Sprint(v), nil
}

// GetVariableAsInt returns key as an int64.
func (m *Manager) GetVariableAsInt(nodeID, key string) (int64, error) {
	v, err := m.require(nodeID, key)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	case int64:
		return n, nil
	case uint:
		return int64(n), nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	case string:
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, nil
		}
	}
	return 0, typeError(key, "integer", v)
}

// GetVariableAsBool returns key as a bool.
func (m *Manager) GetVariableAsBool(nodeID, key string) (bool, error) {
	v, err := m.require(nodeID, key)
	if err != nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed, nil
		}
	}
	return false, typeError(key, "boolean", v)
}

func typeError(key, want string, got any) error {
	return types.NewError(types.ErrVariableType, fmt.Sprintf("variable %s is %T, not %s", key, got, want)).WithKey(key)
}
