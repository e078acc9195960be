package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuilder_BuildSelect(t *testing.T) {
	query, args := NewBuilder("parent").
		Select("id", "name").
		Where("version", GreaterThan, 3).
		WhereAll(Condition{Field: "id", Operator: In, Value: []any{1, 2}}).
		OrderBy("-id", "name").
		Limit(10).
		BuildSelect()

	assert.Equal(t, "SELECT id, name FROM parent WHERE version > ? AND id IN (?, ?) ORDER BY id DESC, name ASC LIMIT 10", query)
	assert.Equal(t, []interface{}{3, 1, 2}, args)
}

func TestBuilder_InConditions(t *testing.T) {
	tests := []struct {
		name  string
		cond  Condition
		query string
		args  []interface{}
	}{
		{"empty in", Condition{Field: "id", Operator: In, Value: []int{}}, "SELECT * FROM t WHERE 1 = 0", nil},
		{"empty not in", Condition{Field: "id", Operator: NotIn, Value: []int{}}, "SELECT * FROM t WHERE 1 = 1", nil},
		{"nil in", Condition{Field: "id", Operator: In}, "SELECT * FROM t WHERE 1 = 0", nil},
		{"scalar in", Condition{Field: "id", Operator: In, Value: 5}, "SELECT * FROM t WHERE id IN (?)", []interface{}{5}},
		{"is null", Condition{Field: "parent_id", Operator: IsNull}, "SELECT * FROM t WHERE parent_id IS NULL", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := NewBuilder("t").WhereAll(tt.cond).BuildSelect()
			assert.Equal(t, tt.query, query)
			assert.Equal(t, tt.args, args)
		})
	}
}

func TestBuilder_BuildInsert(t *testing.T) {
	query, width := NewBuilder("child").BuildInsert([]string{"name", "parent_id"}, 2)
	assert.Equal(t, "INSERT INTO child (name, parent_id) VALUES (?, ?), (?, ?)", query)
	assert.Equal(t, 2, width)

	query, _ = NewBuilder("child").BuildInsert([]string{"name"}, 0)
	assert.Equal(t, "INSERT INTO child (name) VALUES (?)", query)
}

func TestBuilder_BuildUpdateWithVersionCheck(t *testing.T) {
	query, args := NewBuilder("parent").
		WhereAll(
			Condition{Field: "id", Operator: Equal, Value: int64(3)},
			Condition{Field: "version", Operator: Equal, Value: int64(1)},
		).
		BuildUpdate([]string{"name", "version"})

	assert.Equal(t, "UPDATE parent SET name = ?, version = ? WHERE id = ? AND version = ?", query)
	assert.Equal(t, []interface{}{int64(3), int64(1)}, args)
}

func TestBuilder_BuildDelete(t *testing.T) {
	query, args := NewBuilder("parent").Where("id", Equal, 1).BuildDelete()
	assert.Equal(t, "DELETE FROM parent WHERE id = ?", query)
	assert.Equal(t, []interface{}{1}, args)

	query, args = NewBuilder("parent").BuildDelete()
	assert.Equal(t, "DELETE FROM parent", query)
	assert.Empty(t, args)
}

func TestBuilder_NegativeLimitIgnored(t *testing.T) {
	query, _ := NewBuilder("t").Limit(-1).BuildSelect()
	assert.Equal(t, "SELECT * FROM t", query)
}
