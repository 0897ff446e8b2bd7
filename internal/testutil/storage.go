package testutil

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/t77yq/playbook-orchestrator/internal/storage"
)

// SetupStorage opens a throwaway SQLite store under t.TempDir.
func SetupStorage(t *testing.T) *storage.SQLite {
	t.Helper()

	store, err := storage.NewSQLite(zap.NewNop(), filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}
