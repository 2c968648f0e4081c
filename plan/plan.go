package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/planflow/types"
)

// Plan is an authored artefact tree. Attributes are free-form labels matched
// by selectors.
type Plan struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name,omitempty" yaml:"name,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	Root       *Artefact         `json:"root" yaml:"root"`
}

// Validate checks the tree and assigns position-derived ids to artefacts
// that have none, so ids are stable across loads of the same file.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return types.NewError(types.ErrInvalidArtefact, "plan id is required")
	}
	if p.Root == nil {
		return types.NewError(types.ErrInvalidArtefact, "plan "+p.ID+" has no root artefact").WithKey(p.ID)
	}
	seen := make(map[string]struct{})
	return validate(p.Root, p.ID, seen)
}

func validate(a *Artefact, path string, seen map[string]struct{}) error {
	if a.ID == "" {
		a.ID = path
	}
	if a.Type == "" {
		return types.NewError(types.ErrInvalidArtefact, "artefact "+a.ID+" has no type").WithKey(a.ID)
	}
	if _, dup := seen[a.ID]; dup {
		return types.NewError(types.ErrInvalidArtefact, "duplicate artefact id "+a.ID).WithKey(a.ID)
	}
	seen[a.ID] = struct{}{}
	if a.IsIndirection() && a.Selector.IsZero() {
		return types.NewError(types.ErrInvalidArtefact, "callPlan artefact "+a.ID+" has no selector").WithKey(a.ID)
	}

	lists := []struct {
		prefix string
		items  []*Artefact
	}{{"b", a.Before}, {"c", a.Children}, {"a", a.After}}
	for _, list := range lists {
		for i, child := range list.items {
			if child == nil {
				return types.NewError(types.ErrInvalidArtefact, "artefact "+a.ID+" has a nil child").WithKey(a.ID)
			}
			if err := validate(child, a.ID+"."+list.prefix+strconv.Itoa(i), seen); err != nil {
				return err
			}
		}
	}
	return nil
}

// Accessor looks up plans for indirections.
type Accessor interface {
	// Get returns the plan with the given id.
	Get(ctx context.Context, id string) (*Plan, error)
	// Select returns the first plan whose attributes contain every selector
	// pair. The keys "id" and "name" match the plan's own id and name.
	Select(ctx context.Context, selector map[string]string) (*Plan, error)
}

// MemoryAccessor is an in-memory Accessor preserving registration order.
type MemoryAccessor struct {
	mu    sync.RWMutex
	plans map[string]*Plan
	order []string
}

// NewMemoryAccessor creates an accessor holding plans.
func NewMemoryAccessor(plans ...*Plan) *MemoryAccessor {
	m := &MemoryAccessor{plans: make(map[string]*Plan)}
	for _, p := range plans {
		m.Add(p)
	}
	return m
}

// Add registers or replaces a plan.
func (m *MemoryAccessor) Add(p *Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[p.ID]; !ok {
		m.order = append(m.order, p.ID)
	}
	m.plans[p.ID] = p
}

// List returns all plans in registration order.
func (m *MemoryAccessor) List() []*Plan {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Plan, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.plans[id])
	}
	return out
}

// Get implements Accessor.
func (m *MemoryAccessor) Get(_ context.Context, id string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, types.NewError(types.ErrPlanNotFound, "plan "+id+" not found").WithKey(id)
	}
	return p, nil
}

// Select implements Accessor.
func (m *MemoryAccessor) Select(_ context.Context, selector map[string]string) (*Plan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range m.order {
		if p := m.plans[id]; matches(p, selector) {
			return p, nil
		}
	}
	return nil, types.NewError(types.ErrPlanNotFound, "no plan matches selector "+formatSelector(selector)).
		WithKey(formatSelector(selector))
}

func matches(p *Plan, selector map[string]string) bool {
	if len(selector) == 0 {
		return false
	}
	for k, v := range selector {
		switch k {
		case "id":
			if p.ID != v {
				return false
			}
		case "name":
			if p.Name != v {
				return false
			}
		default:
			if p.Attributes[k] != v {
				return false
			}
		}
	}
	return true
}

func formatSelector(selector map[string]string) string {
	keys := make([]string, 0, len(selector))
	for k := range selector {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + selector[k]
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// LoadFile reads a plan from a .yaml, .yml or .json file and validates it.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	var p Plan
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &p)
	default:
		err = yaml.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, fmt.Errorf("parse plan %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan %s: %w", path, err)
	}
	return &p, nil
}

// LoadDir loads every plan file in dir into a MemoryAccessor, in file name order.
func LoadDir(dir string) (*MemoryAccessor, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read plan dir %s: %w", dir, err)
	}
	acc := NewMemoryAccessor()
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml", ".json":
		default:
			continue
		}
		p, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		acc.Add(p)
	}
	return acc, nil
}
