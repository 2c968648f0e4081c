package resolvedplan

import (
	"context"
	"errors"
	"sort"
)

// Common errors
var (
	ErrNotFound     = errors.New("resolved plan node not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Store persists resolved plan nodes, indexed by parent id and execution id.
type Store interface {
	// Save inserts or replaces a node.
	Save(ctx context.Context, node *Node) error
	// Get returns the node with id or ErrNotFound.
	Get(ctx context.Context, id string) (*Node, error)
	// FindByParentID returns the children of parentID sorted by position.
	FindByParentID(ctx context.Context, parentID string) ([]*Node, error)
	// FindByExecutionID returns every node tagged with executionID.
	FindByExecutionID(ctx context.Context, executionID string) ([]*Node, error)
	// Close releases the backend.
	Close() error
	// Ping checks backend health.
	Ping(ctx context.Context) error
}

// sortByPosition orders siblings by position, then id for a stable order.
func sortByPosition(nodes []*Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if nodes[i].Position != nodes[j].Position {
			return nodes[i].Position < nodes[j].Position
		}
		return nodes[i].ID < nodes[j].ID
	})
}
