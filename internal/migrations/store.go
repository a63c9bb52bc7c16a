package migrations

import "database/sql"

// InitStoreMigrations adds the migrations that bootstrap a repository's
// object store schema: a content-addressed object tier, a content-addressed
// block tier (with a physical-layout sequence hint), branch refs, and a
// metadata table used by internal/repoid.
func InitStoreMigrations(runner *Runner) {
	runner.AddMigration(
		1,
		"Create objects table",
		`CREATE TABLE objects (
			hash TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	)

	runner.AddMigration(
		2,
		"Create blocks table",
		`CREATE TABLE blocks (
			hash TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			commit_sequence_hint INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	)

	runner.AddMigration(
		3,
		"Create index on blocks commit_sequence_hint",
		`CREATE INDEX idx_blocks_seq ON blocks(commit_sequence_hint)`,
	)

	runner.AddMigration(
		4,
		"Create refs table",
		`CREATE TABLE refs (
			branch TEXT PRIMARY KEY,
			commit_hash TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	)

	runner.AddMigration(
		5,
		"Create metadata table",
		`CREATE TABLE IF NOT EXISTS metadata (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	)
}

// BootstrapStore initializes the object store schema in the database.
func BootstrapStore(db *sql.DB) error {
	runner := NewRunner(db)
	InitStoreMigrations(runner)
	return runner.Run()
}
