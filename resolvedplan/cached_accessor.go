package resolvedplan

import (
	"context"
	"fmt"

	"github.com/BaSui01/planflow/execution"
)

// CachedAccessor serves one execution's resolved tree from memory. It is
// built once and is read-only afterwards, so concurrent readers need no lock.
type CachedAccessor struct {
	store    Store
	rootID   string
	nodes    map[string]*Node
	children map[string][]*Node
}

// NewCachedAccessor backfills a missing execution id on legacy trees, then
// preloads every node of exec into a parent id index sorted by position.
func NewCachedAccessor(ctx context.Context, store Store, exec *execution.Execution) (*CachedAccessor, error) {
	if exec.ResolvedPlanRootNodeID == "" {
		return nil, fmt.Errorf("%w: execution %s has no resolved plan root", ErrInvalidInput, exec.ID)
	}
	root, err := store.Get(ctx, exec.ResolvedPlanRootNodeID)
	if err != nil {
		return nil, fmt.Errorf("load resolved plan root %s: %w", exec.ResolvedPlanRootNodeID, err)
	}
	if root.ExecutionID == "" {
		if err := backfill(ctx, store, root, exec.ID); err != nil {
			return nil, err
		}
	}

	all, err := store.FindByExecutionID(ctx, exec.ID)
	if err != nil {
		return nil, fmt.Errorf("preload resolved plan of %s: %w", exec.ID, err)
	}
	c := &CachedAccessor{
		store:    store,
		rootID:   root.ID,
		nodes:    make(map[string]*Node, len(all)),
		children: make(map[string][]*Node),
	}
	for _, n := range all {
		c.nodes[n.ID] = n
		if n.ParentID != "" {
			c.children[n.ParentID] = append(c.children[n.ParentID], n)
		}
	}
	for _, list := range c.children {
		sortByPosition(list)
	}
	return c, nil
}

// backfill tags n and its descendants with executionID. Legacy records are
// only reachable through their parent pointers.
func backfill(ctx context.Context, store Store, n *Node, executionID string) error {
	n.ExecutionID = executionID
	if err := store.Save(ctx, n); err != nil {
		return fmt.Errorf("backfill resolved node %s: %w", n.ID, err)
	}
	children, err := store.FindByParentID(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("backfill children of %s: %w", n.ID, err)
	}
	for _, child := range children {
		if child.ExecutionID == executionID {
			continue
		}
		if err := backfill(ctx, store, child, executionID); err != nil {
			return err
		}
	}
	return nil
}

// Root fetches the root directly from the store.
func (c *CachedAccessor) Root(ctx context.Context) (*Node, error) {
	return c.store.Get(ctx, c.rootID)
}

// RootID returns the id of the resolved root.
func (c *CachedAccessor) RootID() string {
	return c.rootID
}

// Get returns a preloaded node.
func (c *CachedAccessor) Get(id string) (*Node, bool) {
	n, ok := c.nodes[id]
	if !ok {
		return nil, false
	}
	return n.clone(), true
}

// GetByParentID returns the children of parentID sorted by position.
func (c *CachedAccessor) GetByParentID(parentID string) []*Node {
	list := c.children[parentID]
	out := make([]*Node, len(list))
	for i, n := range list {
		out[i] = n.clone()
	}
	return out
}

// Len returns the number of preloaded nodes.
func (c *CachedAccessor) Len() int {
	return len(c.nodes)
}
