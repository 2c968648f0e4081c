package reports

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTree_AddGetAncestors(t *testing.T) {
	tree := NewTree()
	root := NewNode("exec", "", "root")
	a := NewNode("exec", root.ID, "a")
	b := NewNode("exec", a.ID, "b")
	tree.Add(root)
	tree.Add(a)
	tree.Add(b)

	got, ok := tree.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, a.ID, got.ParentID)

	// copies are detached
	got.Name = "changed"
	again, _ := tree.Get(b.ID)
	assert.Equal(t, "b", again.Name)

	assert.Equal(t, []string{a.ID, root.ID}, tree.Ancestors(b.ID))
	assert.Empty(t, tree.Ancestors(root.ID))

	r, ok := tree.Root()
	require.True(t, ok)
	assert.Equal(t, root.ID, r.ID)
	assert.Equal(t, 3, tree.Len())

	_, ok = tree.Get("missing")
	assert.False(t, ok)
}

func TestTree_FinishAndCounts(t *testing.T) {
	tree := NewTree()
	root := NewNode("exec", "", "root")
	tree.Add(root)
	for i := 0; i < 3; i++ {
		n := NewNode("exec", root.ID, "echo")
		n.ArtefactHash = "h1"
		tree.Add(n)
		status := StatusPassed
		if i == 2 {
			status = StatusFailed
		}
		require.NoError(t, tree.Finish(n.ID, status, nil))
	}

	assert.Equal(t, map[Status]int{StatusPassed: 2, StatusFailed: 1}, tree.CountByArtefactHash("h1"))
	assert.Len(t, tree.Children(root.ID), 3)

	err := tree.Finish("missing", StatusPassed, nil)
	assert.True(t, errors.Is(err, ErrUnknownNode))

	require.NoError(t, tree.Finish(root.ID, StatusTechnicalError, errors.New("boom")))
	r, _ := tree.Root()
	assert.Equal(t, "boom", r.Error)
}

func TestTree_ConcurrentAdd(t *testing.T) {
	tree := NewTree()
	root := NewNode("exec", "", "root")
	tree.Add(root)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := NewNode("exec", root.ID, "child")
			tree.Add(n)
			_, _ = tree.Get(n.ID)
			_ = tree.Finish(n.ID, StatusPassed, nil)
		}()
	}
	wg.Wait()
	assert.Len(t, tree.Children(root.ID), 50)
}

func TestTree_Render(t *testing.T) {
	tree := NewTree()
	root := NewNode("exec", "", "root")
	child := NewNode("exec", root.ID, "echo")
	child.Message = "hello"
	tree.Add(root)
	tree.Add(child)

	var sb strings.Builder
	require.NoError(t, tree.Render(&sb))
	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "root [running]"))
	assert.True(t, strings.HasPrefix(lines[1], "  echo [running]"))
	assert.Contains(t, lines[1], "- hello")
}

func TestWorse(t *testing.T) {
	assert.Equal(t, StatusFailed, Worse(StatusPassed, StatusFailed))
	assert.Equal(t, StatusTechnicalError, Worse(StatusTechnicalError, StatusFailed))
	assert.True(t, StatusPassed.Final())
	assert.False(t, StatusRunning.Final())
}
