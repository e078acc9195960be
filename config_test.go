package sql4go

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ammar0144/sql4go/internal/scenario"
	"github.com/ammar0144/sql4go/pkg/db"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
[database]
driver = "mysql"
host = "db.internal"
port = 3306
database = "orm"
username = "app"
max_open_conns = 10
max_idle_conns = 5

[database.logging]
level = "info"

[redis]
enabled = true
host = "cache.internal"
port = 6380
key_prefix = "orm"

[unit_of_work]
transactional = true
initial_version = 5
`))
	require.NoError(t, err)

	assert.Equal(t, db.DriverMySQL, cfg.Database.Driver)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "info", cfg.Database.Logging.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache.internal:6380", cfg.Redis.GetAddr())
	assert.Equal(t, "orm", cfg.Redis.KeyPrefix)
	assert.Equal(t, 10, cfg.Redis.PoolSize, "unset keys keep their defaults")
	assert.True(t, cfg.UnitOfWork.Transactional)
	assert.Equal(t, int64(5), cfg.UnitOfWork.InitialVersion)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte(`[database]
driver = "postgres"`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`[unit_of_work]
initial_version = -1`))
	assert.Error(t, err)

	_, err = ParseConfig([]byte(`not toml =`))
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sql4go.toml")
	require.NoError(t, os.WriteFile(path, []byte("[database]\npath = \"other.db\"\n"), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, db.DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "other.db", cfg.Database.Path)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "open.db")
	cfg.Database.Logging.Level = "silent"
	cfg.UnitOfWork.Transactional = true

	orm, err := Open(cfg, scenario.Registry(), Options{})
	require.NoError(t, err)
	defer orm.Close()
	assert.Nil(t, orm.Redis())

	require.NoError(t, scenario.Setup(context.Background(), orm.DB()))
	report, err := scenario.Run(context.Background(), orm.EntityManager())
	require.NoError(t, err)
	assert.NoError(t, report.Check())

	repo, err := NewRepository[scenario.TestCase](orm.Fork())
	require.NoError(t, err)
	tc, err := repo.FindByID(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 101, tc.Version)

	_, err = Open(nil, scenario.Registry(), Options{})
	assert.Error(t, err)
	_, err = Open(cfg, nil, Options{})
	assert.Error(t, err)
}
