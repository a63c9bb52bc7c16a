// Package repoid generates and retrieves the identifier for a local
// repository, used to name the at-rest encryption key in the secret store.
package repoid

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

const (
	// MetadataTableName is the name of the table that stores repository metadata.
	MetadataTableName = "metadata"

	// RepoIDKey is the key used to store the repository UUID in the metadata table.
	RepoIDKey = "repo_uuid"

	// SecretNamePrefix is the prefix used for secret names in the secret store.
	SecretNamePrefix = "cof_repo_"
)

// Generate generates a new UUID for a repository.
func Generate() string {
	return uuid.New().String()
}

// FormatSecretName formats a secret name using the repository ID.
func FormatSecretName(repoID string) string {
	return SecretNamePrefix + repoID
}

// Get retrieves the UUID from a repository's database.
func Get(db *sql.DB) (string, error) {
	var tableName string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", MetadataTableName).Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("metadata table does not exist")
		}
		return "", fmt.Errorf("failed to check for metadata table: %w", err)
	}

	var repoID string
	err = db.QueryRow("SELECT value FROM metadata WHERE key=?", RepoIDKey).Scan(&repoID)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("repository UUID not found in metadata")
		}
		return "", fmt.Errorf("failed to query repository UUID: %w", err)
	}

	return repoID, nil
}

// Ensure ensures a repository has a UUID, generating one if needed.
func Ensure(db *sql.DB) (string, error) {
	repoID, err := Get(db)
	if err == nil {
		return repoID, nil
	}

	var tableName string
	err = db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", MetadataTableName).Scan(&tableName)
	if err != nil {
		if err == sql.ErrNoRows {
			_, err = db.Exec(`
				CREATE TABLE IF NOT EXISTS metadata (
					key TEXT PRIMARY KEY,
					value TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				)
			`)
			if err != nil {
				return "", fmt.Errorf("failed to create metadata table: %w", err)
			}
		} else {
			return "", fmt.Errorf("failed to check for metadata table: %w", err)
		}
	}

	repoID = Generate()

	_, err = db.Exec("INSERT INTO metadata (key, value) VALUES (?, ?)", RepoIDKey, repoID)
	if err != nil {
		return "", fmt.Errorf("failed to store repository UUID: %w", err)
	}

	return repoID, nil
}

// GetFromPath opens the database at the given path and retrieves its repository ID.
func GetFromPath(path string) (string, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return Get(db)
}

// EnsureFromPath opens the database at the given path and ensures it has a repository ID.
func EnsureFromPath(path string) (string, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return "", fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	return Ensure(db)
}
