package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEveryUpHasDown(t *testing.T) {
	names, err := fs.Glob(migrationFiles, "sql/*.up.sql")
	require.NoError(t, err)
	require.NotEmpty(t, names)

	for _, up := range names {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		_, err := fs.Stat(migrationFiles, down)
		assert.NoError(t, err, "missing %s", down)
	}
}

func TestUserUniqueIndexesSkipSoftDeletedRows(t *testing.T) {
	raw, err := fs.ReadFile(migrationFiles, "sql/000002_users_live_unique.up.sql")
	require.NoError(t, err)
	sql := string(raw)

	assert.Contains(t, sql, "ON users (normalized_email) WHERE deleted_at IS NULL")
	assert.Contains(t, sql, "ON users (google_id) WHERE deleted_at IS NULL")
}

func TestRollbackRejectsUnknownDriver(t *testing.T) {
	err := Rollback("nosuchdb://localhost/botdesk", zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create migrator")
}
