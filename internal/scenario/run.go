package scenario

import (
	"context"
	"fmt"
	"slices"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/repository"
	"github.com/ammar0144/sql4go/pkg/uow"
)

// Observation is the visible state of one TestCase
type Observation struct {
	ID      int64
	Name    string
	Version int
}

func (o Observation) String() string {
	return fmt.Sprintf("[%d %s v%d]", o.ID, o.Name, o.Version)
}

// Expected observations. Parents are seen in the order their revisions
// reference them: 3, 1, 2.
var (
	ExpectedLoaded = []Observation{
		{ID: 3, Name: "c", Version: 1},
		{ID: 1, Name: "a", Version: 10},
		{ID: 2, Name: "b", Version: 100},
	}
	ExpectedFlushed = []Observation{
		{ID: 3, Name: "c0", Version: 2},
		{ID: 1, Name: "a0", Version: 11},
		{ID: 2, Name: "b0", Version: 101},
	}
)

// Report collects what Run observed
type Report struct {
	Loaded     []Observation // parents reached through populated revisions
	ChangeSets []Observation // change sets computed before the flush, read after it
	Flushed    []Observation // the same parent instances after the flush
	Stored     []Observation // parents re-read by a fresh session
}

// Check compares the report with the expected observations
func (r *Report) Check() error {
	checks := []struct {
		name string
		got  []Observation
		want []Observation
	}{
		{"loaded", r.Loaded, ExpectedLoaded},
		{"change sets", r.ChangeSets, ExpectedFlushed},
		{"flushed", r.Flushed, ExpectedFlushed},
		{"stored", r.Stored, ExpectedFlushed},
	}
	for _, c := range checks {
		if !slices.Equal(c.got, c.want) {
			return fmt.Errorf("%s: got %v, want %v", c.name, c.got, c.want)
		}
	}
	return nil
}

// Seed bulk inserts three parents and three revisions, bypassing the unit of work
func Seed(ctx context.Context, em *repository.EntityManager) error {
	_, err := em.InsertRows(ctx, TestCaseEntity, []map[string]any{
		{"Name": "a", "Version": 10},  // id 1
		{"Name": "b", "Version": 100}, // id 2
		{"Name": "c", "Version": 1},   // id 3
	})
	if err != nil {
		return fmt.Errorf("seed test cases: %w", err)
	}

	_, err = em.InsertRows(ctx, TestCaseRevisionEntity, []map[string]any{
		{"TestCase": 3, "Name": "c", "Version": 1},
		{"TestCase": 1, "Name": "a", "Version": 10},
		{"TestCase": 2, "Name": "b", "Version": 100},
	})
	if err != nil {
		return fmt.Errorf("seed revisions: %w", err)
	}
	return nil
}

// Run seeds empty tables, renames every parent reached through its revision
// and flushes, recording the versions seen along the way
func Run(ctx context.Context, em *repository.EntityManager) (*Report, error) {
	if err := Seed(ctx, em); err != nil {
		return nil, err
	}
	em.Clear()

	revisions, err := repository.MustRepository[TestCaseRevision](em).FindAll(ctx, repository.Populate("TestCase"))
	if err != nil {
		return nil, err
	}

	parents := make([]*TestCase, len(revisions))
	for i, rev := range revisions {
		parents[i] = rev.TestCase
	}
	report := &Report{Loaded: observe(parents)}

	for _, p := range parents {
		if err := em.Assign(p, map[string]any{"Name": p.Name + "0"}); err != nil {
			return nil, err
		}
	}

	sets, err := em.UnitOfWork().ComputeChangeSets()
	if err != nil {
		return nil, err
	}

	entities := make([]any, len(parents))
	for i, p := range parents {
		entities[i] = p
	}
	if _, err := em.PersistAndFlush(ctx, entities...); err != nil {
		return nil, err
	}

	for _, cs := range sets {
		if tc, ok := cs.Entity.(*TestCase); ok {
			report.ChangeSets = append(report.ChangeSets, observeOne(tc))
		}
	}
	report.Flushed = observe(parents)

	stored, err := reload(ctx, em.Fork(), parents)
	if err != nil {
		return nil, err
	}
	report.Stored = stored
	return report, nil
}

// reload reads parents in a fresh session, keeping the given order
func reload(ctx context.Context, em *repository.EntityManager, parents []*TestCase) ([]Observation, error) {
	ids := make([]any, len(parents))
	for i, p := range parents {
		ids[i] = p.ID
	}
	rows, err := repository.MustRepository[TestCase](em).FindWhere(ctx, []db.Condition{{Field: "id", Operator: db.In, Value: ids}})
	if err != nil {
		return nil, err
	}

	byID := make(map[int64]*TestCase, len(rows))
	for _, tc := range rows {
		byID[tc.ID] = tc
	}
	out := make([]Observation, 0, len(parents))
	for _, p := range parents {
		tc, ok := byID[p.ID]
		if !ok {
			return nil, fmt.Errorf("test case %d missing after flush", p.ID)
		}
		out = append(out, observeOne(tc))
	}
	return out, nil
}

// ConflictReport collects what RunConflict observed
type ConflictReport struct {
	FirstVersion int   // version after the first session's flush
	SecondErr    error // error of the second session's flush
}

// Check requires the second flush to have failed the version check
func (r *ConflictReport) Check() error {
	if r.SecondErr == nil {
		return fmt.Errorf("second flush succeeded, want an optimistic lock failure")
	}
	if !uow.IsOptimisticLock(r.SecondErr) {
		return fmt.Errorf("second flush: got %v, want an optimistic lock failure", r.SecondErr)
	}
	return nil
}

// RunConflict loads the same TestCase in two sessions and updates it in
// both. The second flush works from a stale version.
func RunConflict(ctx context.Context, first, second *repository.EntityManager, id int64) (*ConflictReport, error) {
	a, err := repository.MustRepository[TestCase](first).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	b, err := repository.MustRepository[TestCase](second).FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil || b == nil {
		return nil, fmt.Errorf("test case %d not found", id)
	}

	a.Name += " (first)"
	if _, err := first.Flush(ctx); err != nil {
		return nil, fmt.Errorf("first flush: %w", err)
	}

	b.Name += " (second)"
	_, err = second.Flush(ctx)
	return &ConflictReport{FirstVersion: a.Version, SecondErr: err}, nil
}

func observe(parents []*TestCase) []Observation {
	out := make([]Observation, len(parents))
	for i, p := range parents {
		out[i] = observeOne(p)
	}
	return out
}

func observeOne(tc *TestCase) Observation {
	return Observation{ID: tc.ID, Name: tc.Name, Version: tc.Version}
}
