package cache

import "database/sql"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS songs (
	song_id      TEXT PRIMARY KEY,
	dir_mtime_ns INTEGER NOT NULL,
	last_scan    INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS files (
	song_id   TEXT NOT NULL,
	file_name TEXT NOT NULL,
	size      INTEGER NOT NULL,
	mtime_ns  INTEGER NOT NULL,
	md5       TEXT,
	last_seen INTEGER NOT NULL,
	PRIMARY KEY (song_id, file_name)
);
CREATE INDEX IF NOT EXISTS files_song_id_idx ON files(song_id);
`

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
}

func ensureSchema(db *sql.DB) error {
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		return err
	}
	return nil
}
