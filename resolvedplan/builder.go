package resolvedplan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/planflow/dynamic"
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/types"
)

// Visited is the set of plan ids on the current indirection path.
type Visited map[string]struct{}

// NewVisited starts a path containing ids.
func NewVisited(ids ...string) Visited {
	v := make(Visited, len(ids))
	for _, id := range ids {
		v[id] = struct{}{}
	}
	return v
}

// Enter returns a copy of the path extended with planID, or a PlanCycle
// error when planID is already on it. Siblings may reference the same plan;
// only re-entry along one path is rejected.
func (v Visited) Enter(planID string) (Visited, error) {
	if _, ok := v[planID]; ok {
		return nil, types.NewError(types.ErrPlanCycle, "plan "+planID+" references itself through an indirection").
			WithKey(planID)
	}
	next := make(Visited, len(v)+1)
	for id := range v {
		next[id] = struct{}{}
	}
	next[planID] = struct{}{}
	return next, nil
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithNodeObserver registers a callback invoked after each node is persisted.
func WithNodeObserver(fn func(*Node)) BuilderOption {
	return func(b *Builder) {
		b.observer = fn
	}
}

// Builder turns plan artefacts into persisted resolved plan nodes.
type Builder struct {
	store    Store
	accessor plan.Accessor
	resolver *dynamic.DocumentResolver
	observer func(*Node)
	logger   *zap.Logger
}

// NewBuilder creates a builder. Selectors of indirections are resolved by
// resolver and looked up through accessor.
func NewBuilder(store Store, accessor plan.Accessor, resolver *dynamic.DocumentResolver, logger *zap.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{
		store:    store,
		accessor: accessor,
		resolver: resolver,
		logger:   logger.With(zap.String("component", "resolved_plan_builder")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Store returns the backing store.
func (b *Builder) Store() Store {
	return b.store
}

// BuildResolvedPlan eagerly builds and persists the whole resolved tree of p,
// following every indirection, and returns the root node.
func (b *Builder) BuildResolvedPlan(ctx context.Context, executionID string, p *plan.Plan, bindings dynamic.Bindings) (*Node, error) {
	if p == nil || p.Root == nil {
		return nil, types.NewError(types.ErrInvalidArtefact, "plan has no root artefact")
	}
	root, err := b.Attach(ctx, executionID, nil, p.Root, SourceMain, 0)
	if err != nil {
		return nil, err
	}
	if err := b.build(ctx, executionID, root, p.Root, NewVisited(p.ID), bindings); err != nil {
		return nil, err
	}
	b.logger.Debug("resolved plan built",
		zap.String("execution_id", executionID),
		zap.String("plan_id", p.ID),
		zap.String("root_id", root.ID))
	return root, nil
}

func (b *Builder) build(ctx context.Context, executionID string, parent *Node, a *plan.Artefact, path Visited, bindings dynamic.Bindings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.IsIndirection() {
		target, err := b.ResolveReference(ctx, a, bindings)
		if err != nil {
			return err
		}
		next, err := path.Enter(target.ID)
		if err != nil {
			return err
		}
		child, err := b.Attach(ctx, executionID, parent, target.Root, SourceSubPlan, 0)
		if err != nil {
			return err
		}
		return b.build(ctx, executionID, child, target.Root, next, bindings)
	}

	position := 0
	for _, list := range ChildLists(a) {
		for _, c := range list.Artefacts {
			child, err := b.Attach(ctx, executionID, parent, c, list.Source, position)
			if err != nil {
				return err
			}
			position++
			if err := b.build(ctx, executionID, child, c, path, bindings); err != nil {
				return err
			}
		}
	}
	return nil
}

// ChildList is one child list of an artefact with its parent source.
type ChildList struct {
	Source    ParentSource
	Artefacts []*plan.Artefact
}

// ChildLists returns the before, main and after lists in execution order.
func ChildLists(a *plan.Artefact) []ChildList {
	return []ChildList{
		{Source: SourceBefore, Artefacts: a.Before},
		{Source: SourceMain, Artefacts: a.Children},
		{Source: SourceAfter, Artefacts: a.After},
	}
}

// Attach persists one node for artefact below parent. A nil parent creates a
// root node. Children of the artefact are not visited.
func (b *Builder) Attach(ctx context.Context, executionID string, parent *Node, artefact *plan.Artefact, source ParentSource, position int) (*Node, error) {
	n := &Node{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		Artefact:    artefact.Snapshot(),
		Position:    position,
	}
	if parent == nil {
		n.ArtefactHash = Hash("", artefact.ID, SourceMain)
	} else {
		n.ParentID = parent.ID
		n.ParentSource = source
		n.ArtefactHash = Hash(parent.ArtefactHash, artefact.ID, source)
	}
	if err := b.store.Save(ctx, n); err != nil {
		return nil, types.NewError(types.ErrStoreUnavailable, "save resolved node for "+artefact.ID).
			WithKey(artefact.ID).
			WithCause(err)
	}
	if b.observer != nil {
		b.observer(n)
	}
	return n, nil
}

// ResolveReference resolves the selector of an indirection against bindings
// and looks up the referenced plan. A selector resolving to a string is
// shorthand for {id: <string>}.
func (b *Builder) ResolveReference(ctx context.Context, a *plan.Artefact, bindings dynamic.Bindings) (*plan.Plan, error) {
	if a.Selector.IsZero() {
		return nil, types.NewError(types.ErrInvalidArtefact, "callPlan artefact "+a.ID+" has no selector").WithKey(a.ID)
	}
	resolved := b.resolver.Resolve(ctx, a.Selector.Root, bindings)
	selector, err := selectorOf(resolved)
	if err != nil {
		return nil, types.NewError(types.ErrInvalidArtefact, "invalid selector on "+a.ID).WithKey(a.ID).WithCause(err)
	}
	target, err := b.accessor.Select(ctx, selector)
	if err != nil {
		return nil, err
	}
	if target.Root == nil {
		return nil, types.NewError(types.ErrInvalidArtefact, "plan "+target.ID+" has no root artefact").WithKey(target.ID)
	}
	return target, nil
}

func selectorOf(n dynamic.Node) (map[string]string, error) {
	switch v := n.(type) {
	case dynamic.String:
		return map[string]string{"id": string(v)}, nil
	case *dynamic.Object:
		out := make(map[string]string, len(v.Fields))
		for _, f := range v.Fields {
			switch fv := f.Value.(type) {
			case dynamic.Null:
				out[f.Key] = ""
			case *dynamic.Object, dynamic.Array:
				return nil, fmt.Errorf("selector field %q must be a scalar", f.Key)
			default:
				out[f.Key] = fmt.Sprint(dynamic.ToInterface(fv))
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("selector must be an object or a string, got %T", n)
}
