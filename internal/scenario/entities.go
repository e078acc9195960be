// Package scenario reproduces the version tracking regression: versioned
// parents reached through a populated many-to-one relation must each get
// exactly one version bump per flush, visible through change sets computed
// before the flush.
package scenario

import (
	"context"
	"fmt"
	"strings"

	"github.com/ammar0144/sql4go/pkg/db"
	"github.com/ammar0144/sql4go/pkg/schema"
)

// Entity names
const (
	TestCaseEntity         = "TestCase"
	TestCaseRevisionEntity = "TestCaseRevision"
)

// TestCase is the versioned parent
type TestCase struct {
	ID        int64
	Name      string
	Version   int
	Revisions []*TestCaseRevision
}

// TestCaseRevision references a TestCase. Its Version is a plain column.
type TestCaseRevision struct {
	ID       int64
	Name     string
	Version  int
	TestCase *TestCase
}

// Declarations describe both entities
func Declarations() []schema.Declaration {
	return []schema.Declaration{
		{
			Model:   (*TestCase)(nil),
			Name:    TestCaseEntity,
			Table:   "test_case",
			Version: "Version",
			Relations: []schema.Relation{
				{Field: "Revisions", Kind: schema.OneToMany, Target: TestCaseRevisionEntity, MappedBy: "TestCase"},
			},
		},
		{
			Model: (*TestCaseRevision)(nil),
			Name:  TestCaseRevisionEntity,
			Table: "test_case_revision",
			Relations: []schema.Relation{
				{Field: "TestCase", Kind: schema.ManyToOne, Target: TestCaseEntity},
			},
		},
	}
}

// Registry compiles the scenario declarations
func Registry() *schema.Registry {
	return schema.MustRegistry(Declarations()...)
}

var ddl = map[string][]string{
	db.DriverSQLite: {
		`DROP TABLE IF EXISTS test_case_revision`,
		`DROP TABLE IF EXISTS test_case`,
		`CREATE TABLE test_case (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 1
		)`,
		`CREATE TABLE test_case_revision (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			test_case_id INTEGER NOT NULL REFERENCES test_case (id)
		)`,
	},
	db.DriverMySQL: {
		`DROP TABLE IF EXISTS test_case_revision`,
		`DROP TABLE IF EXISTS test_case`,
		`CREATE TABLE test_case (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			version INT NOT NULL DEFAULT 1
		) ENGINE=InnoDB`,
		`CREATE TABLE test_case_revision (
			id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			version INT NOT NULL,
			test_case_id BIGINT NOT NULL,
			CONSTRAINT fk_test_case_revision_test_case FOREIGN KEY (test_case_id) REFERENCES test_case (id)
		) ENGINE=InnoDB`,
	},
}

// Setup recreates the scenario tables
func Setup(ctx context.Context, m *db.Manager) error {
	driver := strings.ToLower(m.Config().Driver)
	if driver == "" {
		driver = db.DriverMySQL
	}
	statements, ok := ddl[driver]
	if !ok {
		return fmt.Errorf("no schema for driver %q", driver)
	}
	for _, stmt := range statements {
		if err := m.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}
	return nil
}
