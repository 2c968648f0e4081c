package resolvedplan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/planflow/execution"
	"github.com/BaSui01/planflow/plan"
	"github.com/BaSui01/planflow/reports"
)

// loopTree attaches root -> loop -> n x body, in reverse position order so
// the index has to sort.
func loopTree(t *testing.T, store Store, executionID string, n int) (*Builder, *Node, *Node) {
	t.Helper()
	b := NewBuilder(store, plan.NewMemoryAccessor(), newTestResolver(), nil)
	ctx := context.Background()
	root, err := b.Attach(ctx, executionID, nil, &plan.Artefact{ID: "root", Type: plan.TypeSequence}, SourceMain, 0)
	require.NoError(t, err)
	loop, err := b.Attach(ctx, executionID, root, &plan.Artefact{ID: "loop", Type: plan.TypeFor}, SourceMain, 0)
	require.NoError(t, err)
	for i := n - 1; i >= 0; i-- {
		_, err := b.Attach(ctx, executionID, loop, echo("body", "x"), SourceMain, i)
		require.NoError(t, err)
	}
	return b, root, loop
}

func TestCachedAccessor_MatchesStore(t *testing.T) {
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   newGormStore(t),
	}
	redisStore, _ := newRedisStore(t)
	stores["redis"] = redisStore

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			_, root, loop := loopTree(t, store, "exec-"+name, 5)
			exec := &execution.Execution{ID: "exec-" + name, ResolvedPlanRootNodeID: root.ID}

			acc, err := NewCachedAccessor(context.Background(), store, exec)
			require.NoError(t, err)
			assert.Equal(t, 7, acc.Len())

			for _, parent := range []string{root.ID, loop.ID} {
				direct, err := store.FindByParentID(context.Background(), parent)
				require.NoError(t, err)
				assert.Equal(t, ids(direct), ids(acc.GetByParentID(parent)))
			}

			bodies := acc.GetByParentID(loop.ID)
			for i, n := range bodies {
				assert.Equal(t, i, n.Position)
			}
			assert.Empty(t, acc.GetByParentID("unknown"))
		})
	}
}

func TestCachedAccessor_ServesFromMemory(t *testing.T) {
	store := NewMemoryStore()
	_, root, loop := loopTree(t, store, "e", 3)

	acc, err := NewCachedAccessor(context.Background(), store, &execution.Execution{ID: "e", ResolvedPlanRootNodeID: root.ID})
	require.NoError(t, err)

	reads := store.Reads()
	acc.GetByParentID(root.ID)
	acc.GetByParentID(loop.ID)
	_, ok := acc.Get(loop.ID)
	assert.True(t, ok)
	assert.Equal(t, reads, store.Reads())

	got, err := acc.Root(context.Background())
	require.NoError(t, err)
	assert.Equal(t, root.ID, got.ID)
	assert.Equal(t, reads+1, store.Reads(), "root always hits the store")
}

func TestCachedAccessor_BackfillsLegacyTree(t *testing.T) {
	store := NewMemoryStore()
	_, root, loop := loopTree(t, store, "", 2)

	acc, err := NewCachedAccessor(context.Background(), store, &execution.Execution{ID: "legacy", ResolvedPlanRootNodeID: root.ID})
	require.NoError(t, err)
	assert.Equal(t, 4, acc.Len())
	assert.Len(t, acc.GetByParentID(loop.ID), 2)

	tagged, err := store.FindByExecutionID(context.Background(), "legacy")
	require.NoError(t, err)
	assert.Len(t, tagged, 4)
}

func TestAggregateTree(t *testing.T) {
	store := NewMemoryStore()
	_, root, loop := loopTree(t, store, "e", 5)
	acc, err := NewCachedAccessor(context.Background(), store, &execution.Execution{ID: "e", ResolvedPlanRootNodeID: root.ID})
	require.NoError(t, err)

	bodies := acc.GetByParentID(loop.ID)
	tree := reports.NewTree()
	for i, b := range bodies {
		n := reports.NewNode("e", "", "body")
		n.ArtefactHash = b.ArtefactHash
		n.Status = reports.StatusPassed
		if i == 0 {
			n.Status = reports.StatusFailed
		}
		tree.Add(n)
	}

	groups := AggregateTree(acc, root.ID, tree)
	require.Len(t, groups, 1)
	assert.Equal(t, "loop", groups[0].Artefact.ID)
	require.Len(t, groups[0].Children, 1)

	body := groups[0].Children[0]
	assert.Len(t, body.Nodes, 5)
	assert.Equal(t, 4, body.Statuses[reports.StatusPassed])
	assert.Equal(t, 1, body.Statuses[reports.StatusFailed])
	assert.Empty(t, body.Children)
}

func TestAggregate_OrderOfFirstAppearance(t *testing.T) {
	nodes := []*Node{
		{ID: "1", ArtefactHash: "b"},
		{ID: "2", ArtefactHash: "a"},
		{ID: "3", ArtefactHash: "b"},
	}
	groups := Aggregate(nodes, nil)
	require.Len(t, groups, 2)
	assert.Equal(t, "b", groups[0].ArtefactHash)
	assert.Equal(t, []string{"1", "3"}, ids(groups[0].Nodes))
	assert.Nil(t, groups[0].Statuses)
}
