package sqlite

import (
	"database/sql"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// DefaultPath is used when no database path is configured.
const DefaultPath = "downloads.db"

// InitDB opens the SQLite database at path and creates the downloads table
// if it doesn't exist. ":memory:" is accepted.
func InitDB(path string) (*sql.DB, error) {
	if path == "" {
		path = DefaultPath
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	// A single connection serializes writers and keeps in-memory databases
	// alive across queries.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS downloads (
		id INTEGER PRIMARY KEY,
		target TEXT NOT NULL,
		post_id INTEGER NOT NULL,
		file_path TEXT,
		status TEXT NOT NULL,
		error TEXT,
		retries INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		finished_at DATETIME,
		UNIQUE(target, post_id)
	)`); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to create downloads table: %w", err)
	}

	return db, nil
}
