package repoid

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	id1 := Generate()
	id2 := Generate()

	assert.NotEmpty(t, id1)
	assert.NotEqual(t, id1, id2)
	assert.Len(t, id1, 36)
}

func TestFormatSecretName(t *testing.T) {
	id := "12345678-1234-1234-1234-123456789012"
	assert.Equal(t, "cof_repo_12345678-1234-1234-1234-123456789012", FormatSecretName(id))
}

func TestEnsure(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "repoid_test")
	require.NoError(t, err)
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "repo.db")
	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	id, err := Ensure(db)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Calling Ensure again must return the same id, not mint a new one.
	id2, err := Ensure(db)
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	got, err := Get(db)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}
