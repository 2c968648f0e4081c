package reports

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// ErrUnknownNode is returned when a node id is not part of the tree.
var ErrUnknownNode = errors.New("unknown report node")

// Tree is the concurrency-safe report tree of one execution. It implements
// NodeCache; Get returns copies so callers never observe partial updates.
type Tree struct {
	mu       sync.RWMutex
	nodes    map[string]*Node
	children map[string][]string
	rootID   string
}

// NewTree creates an empty report tree.
func NewTree() *Tree {
	return &Tree{
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
	}
}

// Add inserts a node. The first parentless node becomes the root.
func (t *Tree) Add(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *n
	t.nodes[n.ID] = &cp
	if n.ParentID == "" {
		if t.rootID == "" {
			t.rootID = n.ID
		}
		return
	}
	t.children[n.ParentID] = append(t.children[n.ParentID], n.ID)
}

// Get implements NodeCache.
func (t *Tree) Get(id string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	cp := *n
	return &cp, true
}

// Root returns the root node.
func (t *Tree) Root() (*Node, bool) {
	t.mu.RLock()
	id := t.rootID
	t.mu.RUnlock()
	return t.Get(id)
}

// Update applies fn to the stored node under the write lock.
func (t *Tree) Update(id string, fn func(*Node)) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	fn(n)
	return nil
}

// Finish records the final status of a node.
func (t *Tree) Finish(id string, status Status, err error) error {
	return t.Update(id, func(n *Node) {
		n.Status = status
		n.Duration = time.Since(n.StartTime)
		if err != nil {
			n.Error = err.Error()
		}
	})
}

// Children returns copies of the children of id in insertion order.
func (t *Tree) Children(id string) []*Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := t.children[id]
	out := make([]*Node, 0, len(ids))
	for _, cid := range ids {
		cp := *t.nodes[cid]
		out = append(out, &cp)
	}
	return out
}

// Ancestors returns the ids from id's parent up to the root.
func (t *Tree) Ancestors(id string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []string
	n, ok := t.nodes[id]
	for ok && n.ParentID != "" {
		out = append(out, n.ParentID)
		n, ok = t.nodes[n.ParentID]
	}
	return out
}

// Len returns the number of nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// CountByArtefactHash returns per-status counts of nodes sharing a hash.
func (t *Tree) CountByArtefactHash(hash string) map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	counts := make(map[Status]int)
	for _, n := range t.nodes {
		if n.ArtefactHash == hash {
			counts[n.Status]++
		}
	}
	return counts
}

// Render writes an indented text view of the tree.
func (t *Tree) Render(w io.Writer) error {
	root, ok := t.Root()
	if !ok {
		return nil
	}
	return t.render(w, root, 0)
}

func (t *Tree) render(w io.Writer, n *Node, depth int) error {
	line := fmt.Sprintf("%s%s [%s] %s", strings.Repeat("  ", depth), n.Name, n.Status, n.Duration.Round(time.Millisecond))
	if n.Message != "" {
		line += " - " + n.Message
	}
	if n.Error != "" {
		line += " ! " + n.Error
	}
	if _, err := fmt.Fprintln(w, line); err != nil {
		return err
	}
	for _, c := range t.Children(n.ID) {
		if err := t.render(w, c, depth+1); err != nil {
			return err
		}
	}
	return nil
}
