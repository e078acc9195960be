package uow

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
)

func meta(t *testing.T, reg *schema.Registry, name string) *schema.Entity {
	t.Helper()
	m, err := reg.Entity(name)
	require.NoError(t, err)
	return m
}

func loadChildrenWithParents(t *testing.T, uw *UnitOfWork) ([]*Child, []*Parent) {
	t.Helper()
	objs, err := uw.Find(context.Background(), meta(t, uw.Registry(), "Child"), Query{Populate: []string{"Parent"}})
	require.NoError(t, err)

	children := make([]*Child, len(objs))
	parents := make([]*Parent, len(objs))
	for i, obj := range objs {
		children[i] = obj.(*Child)
		parents[i] = children[i].Parent
	}
	return children, parents
}

func TestUnitOfWork_RenameThroughPopulatedRelation(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	_, parents := loadChildrenWithParents(t, uw)
	require.Len(t, parents, 3)

	type idVersion struct {
		id      int64
		name    string
		version int
	}
	observe := func() []idVersion {
		out := make([]idVersion, len(parents))
		for i, p := range parents {
			out[i] = idVersion{p.ID, p.Name, p.Version}
		}
		return out
	}
	assert.Equal(t, []idVersion{{3, "c", 1}, {1, "a", 10}, {2, "b", 100}}, observe())

	for _, p := range parents {
		require.NoError(t, uw.Assign(p, map[string]any{"Name": p.Name + "0"}))
	}

	sets, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	require.Len(t, sets, 3)
	for i, cs := range sets {
		assert.Equal(t, ChangeUpdate, cs.Type)
		assert.Same(t, parents[i], cs.Entity)
		assert.True(t, cs.Payload.Has("Name"))
		assert.False(t, cs.Payload.Has("Version"))
	}

	flushed, err := uw.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, flushed, 3)

	want := []idVersion{{3, "c0", 2}, {1, "a0", 11}, {2, "b0", 101}}
	assert.Equal(t, want, observe())

	// change sets computed before the flush alias the live entities
	for i, cs := range sets {
		assert.Same(t, cs, flushed[i])
		assert.Equal(t, want[i].id, cs.Key())
		assert.Equal(t, int64(want[i].version), cs.Version())
		name, ok := cs.Value("Name")
		require.True(t, ok)
		assert.Equal(t, want[i].name, name)
	}

	// each update checked the version it started from
	require.Len(t, engine.updates, 3)
	for i, expected := range []int64{1, 10, 100} {
		where := engine.updates[i].Where
		require.Len(t, where, 2)
		assert.Equal(t, "version", where[1].Field)
		assert.Equal(t, expected, where[1].Value)
	}
	assert.Equal(t, int64(2), engine.row("parent", 3)["version"])
	assert.Equal(t, int64(11), engine.row("parent", 1)["version"])
	assert.Equal(t, int64(101), engine.row("parent", 2)["version"])
}

func TestUnitOfWork_VersionAdvancesOncePerFlush(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	obj, err := uw.FindByKey(ctx, meta(t, uw.Registry(), "Parent"), 1)
	require.NoError(t, err)
	p := obj.(*Parent)

	p.Name = "first"
	p.Name = "second"
	_, err = uw.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 11, p.Version)

	// nothing changed, nothing written
	sets, err := uw.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, sets)
	assert.Len(t, engine.updates, 1)
	assert.Equal(t, 11, p.Version)

	p.Name = "third"
	_, err = uw.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, p.Version)
}

func TestUnitOfWork_IdentityStability(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})
	parentMeta := meta(t, uw.Registry(), "Parent")

	first, err := uw.FindByKey(ctx, parentMeta, int64(2))
	require.NoError(t, err)
	second, err := uw.FindByKey(ctx, parentMeta, 2)
	require.NoError(t, err)
	assert.Same(t, first, second)

	all, err := uw.Find(ctx, parentMeta, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Same(t, first, all[1])

	_, parents := loadChildrenWithParents(t, uw)
	assert.Same(t, first, parents[2])
}

func TestUnitOfWork_LoadedInstanceIsNotOverwritten(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})
	parentMeta := meta(t, uw.Registry(), "Parent")

	obj, err := uw.FindByKey(ctx, parentMeta, 1)
	require.NoError(t, err)
	p := obj.(*Parent)
	p.Name = "pending"

	_, err = uw.Find(ctx, parentMeta, Query{})
	require.NoError(t, err)
	assert.Equal(t, "pending", p.Name)

	require.NoError(t, uw.Refresh(ctx, p))
	assert.Equal(t, "a", p.Name)
	sets, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestUnitOfWork_FindByKeyMissing(t *testing.T) {
	uw := New(testRegistry(), newMemEngine(), Options{})
	obj, err := uw.FindByKey(context.Background(), meta(t, uw.Registry(), "Parent"), 42)
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestUnitOfWork_ReferencesStayUninitializedUntilPopulated(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	objs, err := uw.Find(ctx, meta(t, uw.Registry(), "Child"), Query{})
	require.NoError(t, err)
	ref := objs[0].(*Child).Parent
	require.NotNil(t, ref)
	assert.Equal(t, int64(3), ref.ID)
	assert.Empty(t, ref.Name)
	assert.False(t, uw.IsInitialized(ref))

	// untouched references produce no change sets
	sets, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Empty(t, sets)

	require.NoError(t, uw.Populate(ctx, meta(t, uw.Registry(), "Child"), objs, "Parent"))
	assert.True(t, uw.IsInitialized(ref))
	assert.Same(t, ref, objs[0].(*Child).Parent)
	assert.Equal(t, "c", ref.Name)
	assert.Equal(t, 1, ref.Version)
}

func TestUnitOfWork_PopulateInverseCollection(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	engine.seed("child", db.Row{"id": int64(4), "name": "c2", "parent_id": int64(3)})
	uw := New(testRegistry(), engine, Options{})

	objs, err := uw.Find(ctx, meta(t, uw.Registry(), "Parent"), Query{Populate: []string{"Children.Parent"}})
	require.NoError(t, err)
	require.Len(t, objs, 3)

	p3 := objs[2].(*Parent)
	require.Len(t, p3.Children, 2)
	assert.Equal(t, int64(1), p3.Children[0].ID)
	assert.Equal(t, int64(4), p3.Children[1].ID)
	for _, c := range p3.Children {
		assert.Same(t, p3, c.Parent)
	}
	assert.Len(t, objs[0].(*Parent).Children, 1)
}

func TestUnitOfWork_PopulateMissingTarget(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	engine.seed("child", db.Row{"id": int64(1), "name": "orphan", "parent_id": int64(99)})
	uw := New(testRegistry(), engine, Options{})

	_, err := uw.Find(ctx, meta(t, uw.Registry(), "Child"), Query{Populate: []string{"Parent"}})
	require.Error(t, err)
	assert.True(t, IsUnresolvedRelationship(err))
}

func TestUnitOfWork_InsertCascadesParentsFirst(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	uw := New(testRegistry(), engine, Options{})

	p := &Parent{Name: "new"}
	c1 := &Child{Name: "one", Parent: p}
	c2 := &Child{Name: "two"}
	p.Children = []*Child{c2}

	require.NoError(t, uw.Persist(c1))
	sets, err := uw.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 3)

	assert.Equal(t, []string{"insert parent", "insert child", "insert child"}, engine.writes)
	assert.Equal(t, ChangeCreate, sets[0].Type)
	assert.Same(t, p, sets[0].Entity)

	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, 1, p.Version)
	assert.NotZero(t, c1.ID)
	assert.NotZero(t, c2.ID)
	assert.Same(t, p, c2.Parent)
	assert.Equal(t, int64(1), engine.row("child", c1.ID)["parent_id"])
	assert.Equal(t, int64(1), engine.row("child", c2.ID)["parent_id"])

	found, err := uw.FindByKey(ctx, meta(t, uw.Registry(), "Parent"), 1)
	require.NoError(t, err)
	assert.Same(t, p, found)
}

func TestUnitOfWork_InitialVersion(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	uw := New(testRegistry(), engine, Options{InitialVersion: 5})

	zero := &Parent{Name: "zero"}
	explicit := &Parent{Name: "explicit", Version: 40}
	require.NoError(t, uw.Persist(zero, explicit))
	_, err := uw.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, 5, zero.Version)
	assert.Equal(t, 40, explicit.Version)
	assert.Equal(t, 40, engine.row("parent", explicit.ID)["version"])
}

func TestUnitOfWork_OptimisticLockBetweenSessions(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	reg := testRegistry()
	parentMeta := meta(t, reg, "Parent")

	first := New(reg, engine, Options{})
	second := New(reg, engine, Options{})

	a, err := first.FindByKey(ctx, parentMeta, 3)
	require.NoError(t, err)
	b, err := second.FindByKey(ctx, parentMeta, 3)
	require.NoError(t, err)
	require.NotSame(t, a, b)

	a.(*Parent).Name = "first"
	_, err = first.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, a.(*Parent).Version)

	b.(*Parent).Name = "second"
	_, err = second.Flush(ctx)
	require.Error(t, err)
	assert.True(t, IsOptimisticLock(err))

	var lockErr *OptimisticLockError
	require.True(t, errors.As(err, &lockErr))
	assert.Equal(t, "Parent", lockErr.Entity)
	assert.Equal(t, int64(3), lockErr.Key)
	assert.Equal(t, int64(1), lockErr.ExpectedVersion)

	var flushErr *FlushError
	require.True(t, errors.As(err, &flushErr))
	assert.Equal(t, OpUpdate, flushErr.Op)

	// the stale instance keeps its version and storage keeps the winner
	assert.Equal(t, 1, b.(*Parent).Version)
	assert.Equal(t, "first", engine.row("parent", 3)["name"])
}

func TestUnitOfWork_ClientSuppliedVersion(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	obj, err := uw.FindByKey(ctx, meta(t, uw.Registry(), "Parent"), 2)
	require.NoError(t, err)
	p := obj.(*Parent)

	require.NoError(t, uw.Assign(p, map[string]any{"Name": "stale", "Version": 99}))
	_, err = uw.Flush(ctx)
	require.Error(t, err)
	assert.True(t, IsOptimisticLock(err))

	p.Version = 100
	_, err = uw.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 101, p.Version)
}

func TestUnitOfWork_TransactionalRollback(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{Transactional: true})
	_, parents := loadChildrenWithParents(t, uw)

	for _, p := range parents {
		p.Name += "!"
	}
	// another writer bumps parent 2, the last one flushed
	engine.row("parent", 2)["version"] = int64(101)

	_, err := uw.Flush(ctx)
	require.Error(t, err)
	assert.True(t, IsOptimisticLock(err))

	// storage rolled back and in-memory versions restored
	assert.Equal(t, int64(1), engine.row("parent", 3)["version"])
	assert.Equal(t, "c", engine.row("parent", 3)["name"])
	assert.Equal(t, 1, parents[0].Version)
	assert.Equal(t, 10, parents[1].Version)

	// the pending renames are still pending
	sets, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Len(t, sets, 3)
}

func TestUnitOfWork_NonTransactionalFlushKeepsAppliedWork(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})
	_, parents := loadChildrenWithParents(t, uw)

	for _, p := range parents {
		p.Name += "!"
	}
	engine.row("parent", 1)["version"] = int64(11)

	_, err := uw.Flush(ctx)
	require.Error(t, err)

	// parent 3 was written before the conflict on parent 1
	assert.Equal(t, 2, parents[0].Version)
	assert.Equal(t, int64(2), engine.row("parent", 3)["version"])
	assert.Equal(t, 10, parents[1].Version)
	assert.Equal(t, 100, parents[2].Version)
}

func TestUnitOfWork_DuplicateIdentity(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	_, err := uw.FindByKey(ctx, meta(t, uw.Registry(), "Parent"), 1)
	require.NoError(t, err)

	err = uw.Persist(&Parent{ID: 1, Name: "impostor"})
	require.Error(t, err)
	assert.True(t, IsDuplicateIdentity(err))
}

func TestUnitOfWork_RemoveUsesVersionCheck(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	children, parents := loadChildrenWithParents(t, uw)
	require.NoError(t, uw.Remove(children[0]))
	require.NoError(t, uw.Remove(parents[0]))

	sets, err := uw.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 2)

	// children are deleted before their parents
	assert.Equal(t, []string{"delete child", "delete parent"}, engine.writes)
	where := engine.deletes[1].Where
	require.Len(t, where, 2)
	assert.Equal(t, int64(1), where[1].Value)

	assert.False(t, uw.Contains(parents[0]))
	assert.Nil(t, engine.row("parent", 3))
	_, ok := uw.IdentityMap().Lookup(meta(t, uw.Registry(), "Parent"), 3)
	assert.False(t, ok)
}

func TestUnitOfWork_ReferenceToRemovedEntity(t *testing.T) {
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})

	children, parents := loadChildrenWithParents(t, uw)
	require.NoError(t, uw.Remove(parents[0]))
	children[0].Name = "still pointing at a removed parent"

	_, err := uw.ComputeChangeSets()
	require.Error(t, err)
	assert.True(t, IsUnresolvedRelationship(err))

	var flushErr *FlushError
	require.True(t, errors.As(err, &flushErr))
	assert.Equal(t, OpCompute, flushErr.Op)
	assert.Equal(t, "Child", flushErr.Entity)
}

func TestUnitOfWork_RemoveNewEntityDropsInsert(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	uw := New(testRegistry(), engine, Options{})

	p := &Parent{Name: "never stored"}
	require.NoError(t, uw.Persist(p))
	require.NoError(t, uw.Remove(p))

	sets, err := uw.Flush(ctx)
	require.NoError(t, err)
	assert.Empty(t, sets)
	assert.Empty(t, engine.writes)

	assert.ErrorIs(t, uw.Remove(p), ErrNotManaged)
}

func TestUnitOfWork_ChangeSetsAreReused(t *testing.T) {
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})
	_, parents := loadChildrenWithParents(t, uw)

	parents[0].Name = "x"
	first, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	require.Len(t, first, 1)

	parents[1].Name = "y"
	second, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Same(t, first[0], second[0])
	assert.Equal(t, second, uw.ChangeSets())
}

func TestUnitOfWork_AssignRelationByKey(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})
	children, parents := loadChildrenWithParents(t, uw)

	require.NoError(t, uw.Assign(children[0], map[string]any{"Parent": 1}))
	assert.Same(t, parents[1], children[0].Parent)

	_, err := uw.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), engine.row("child", 1)["parent_id"])

	err = uw.Assign(children[0], map[string]any{"Missing": 1})
	assert.Error(t, err)
	err = uw.Assign(parents[0], map[string]any{"ID": 7})
	assert.Error(t, err)
}

func TestUnitOfWork_ClearDetachesEverything(t *testing.T) {
	engine := newMemEngine()
	seedScenario(engine)
	uw := New(testRegistry(), engine, Options{})
	_, parents := loadChildrenWithParents(t, uw)
	parents[0].Name = "dirty"

	uw.Clear()
	assert.Equal(t, 0, uw.IdentityMap().Len())
	assert.Equal(t, 0, uw.Snapshots().Len())
	assert.False(t, uw.Contains(parents[0]))

	sets, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Empty(t, sets)
}

func TestUnitOfWork_RowCache(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	cache := newMemCache()
	reg := testRegistry()
	parentMeta := meta(t, reg, "Parent")

	warm := New(reg, engine, Options{Cache: cache})
	_, err := warm.FindByKey(ctx, parentMeta, 1)
	require.NoError(t, err)
	require.Contains(t, cache.rows, "parent:1")

	selects := engine.selects
	cold := New(reg, engine, Options{Cache: cache})
	obj, err := cold.FindByKey(ctx, parentMeta, 1)
	require.NoError(t, err)
	assert.Equal(t, selects, engine.selects)
	assert.Equal(t, 1, cache.hits)

	obj.(*Parent).Name = "changed"
	_, err = cold.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"parent:1"}, cache.invalidated)
	assert.NotContains(t, cache.rows, "parent:1")
}

func TestUnitOfWork_Metrics(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	seedScenario(engine)
	reg := testRegistry()
	metrics := NewMetrics(prometheus.NewRegistry())

	first := New(reg, engine, Options{Metrics: metrics})
	second := New(reg, engine, Options{Metrics: metrics})
	_, pa := loadChildrenWithParents(t, first)
	_, pb := loadChildrenWithParents(t, second)

	pa[0].Name = "a"
	_, err := first.Flush(ctx)
	require.NoError(t, err)

	pb[0].Name = "b"
	_, err = second.Flush(ctx)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.flushes.WithLabelValues(flushResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.flushes.WithLabelValues(flushResultConflict)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.statements.WithLabelValues(OpUpdate)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.conflicts))
}

type Node struct {
	ID      int64
	Name    string
	Version int
	Parent  *Node
}

type Team struct {
	ID      int64
	Name    string
	Version int
	Captain *Player
}

type Player struct {
	ID   int64
	Name string
	Team *Team
}

func graphRegistry() *schema.Registry {
	return schema.MustRegistry(
		schema.Declaration{
			Model:   (*Node)(nil),
			Table:   "node",
			Version: "Version",
			Relations: []schema.Relation{
				{Field: "Parent", Kind: schema.ManyToOne, Target: "Node"},
			},
		},
		schema.Declaration{
			Model:   (*Team)(nil),
			Table:   "team",
			Version: "Version",
			Relations: []schema.Relation{
				{Field: "Captain", Kind: schema.ManyToOne, Target: "Player"},
			},
		},
		schema.Declaration{
			Model: (*Player)(nil),
			Table: "player",
			Relations: []schema.Relation{
				{Field: "Team", Kind: schema.ManyToOne, Target: "Team"},
			},
		},
	)
}

func TestUnitOfWork_SelfReferenceInsertsTargetFirst(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	uw := New(graphRegistry(), engine, Options{})

	root := &Node{Name: "root"}
	leaf := &Node{Name: "leaf", Parent: root}
	require.NoError(t, uw.Persist(leaf))

	sets, err := uw.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Same(t, root, sets[0].Entity)
	assert.Same(t, leaf, sets[1].Entity)

	assert.Equal(t, []string{"insert node", "insert node"}, engine.writes)
	assert.Equal(t, int64(1), root.ID)
	assert.Equal(t, int64(2), leaf.ID)
	assert.Nil(t, engine.row("node", root.ID)["parent_id"])
	assert.Equal(t, root.ID, engine.row("node", leaf.ID)["parent_id"])

	pending, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Empty(t, pending, "nothing is left dirty after the flush")
}

func TestUnitOfWork_SelfReferenceCycleIsLinkedAfterInsert(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	uw := New(graphRegistry(), engine, Options{Transactional: true})

	a := &Node{Name: "a"}
	b := &Node{Name: "b", Parent: a}
	a.Parent = b
	require.NoError(t, uw.Persist(a, b))

	sets, err := uw.Flush(ctx)
	require.NoError(t, err)
	require.Len(t, sets, 2)

	assert.Equal(t, []string{"insert node", "insert node", "update node"}, engine.writes)
	assert.Equal(t, b.ID, engine.row("node", a.ID)["parent_id"])
	assert.Equal(t, a.ID, engine.row("node", b.ID)["parent_id"])

	// linking a fresh row does not count as a version change
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, 1, b.Version)
	assert.Equal(t, int64(1), schema.NormalizeKey(engine.row("node", a.ID)["version"]))
	assert.Equal(t, int64(1), schema.NormalizeKey(engine.row("node", b.ID)["version"]))

	for _, cs := range sets {
		assert.Equal(t, ChangeCreate, cs.Type)
		assert.NotNil(t, cs.Payload.Values()["Parent"], "payload shows the linked key")
	}

	pending, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Empty(t, pending)

	b.Name = "b2"
	_, err = uw.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Version)
}

func TestUnitOfWork_CycleBetweenTypes(t *testing.T) {
	ctx := context.Background()
	engine := newMemEngine()
	uw := New(graphRegistry(), engine, Options{})

	team := &Team{Name: "red"}
	captain := &Player{Name: "ana", Team: team}
	team.Captain = captain
	require.NoError(t, uw.Persist(team))

	_, err := uw.Flush(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"insert team", "insert player", "update team"}, engine.writes)
	assert.Equal(t, team.ID, engine.row("player", captain.ID)["team_id"])
	assert.Equal(t, captain.ID, engine.row("team", team.ID)["captain_id"])
	assert.Equal(t, 1, team.Version)

	pending, err := uw.ComputeChangeSets()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
