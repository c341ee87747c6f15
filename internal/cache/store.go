// Package cache implements the file-metadata cache (component A) that
// mirrors an on-disk tree of song directories into a local sqlite store,
// plus the bounded in-memory memoizers (component B) layered over it.
package cache

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
	"golang.org/x/time/rate"

	"github.com/snapetech/songdl/internal/metrics"
)

const rootMtimeKey = "root_mtime_ns"

// Store is the file-metadata cache for one on-disk song tree. It is safe
// for concurrent use; the underlying *sql.DB manages its own pool of
// connections, one of which is borrowed per call.
type Store struct {
	db   *sql.DB
	root string

	preHash     bool
	hashLimiter *rate.Limiter // nil disables throttling

	filter atomic.Pointer[FileFilter]

	hashCache *boundedLRU[hashKey, hashResult]
	nameCache *boundedLRU[nameKey, []string]
	idsCache  *boundedLRU[int64, []string]

	schemaOnce sync.Once
	schemaErr  error
}

type hashKey struct {
	songID   string
	fileName string
	mtimeNS  int64
	size     int64
}

type hashResult struct {
	md5 string
	ok  bool
}

type nameKey struct {
	songID     string
	dirMtimeNS int64
}

// Open opens (creating if absent) the sqlite database at dbPath and
// constructs a Store rooted at the given song tree. hashRatePerSec of 0
// disables the hash-computation throttle.
func Open(dbPath, root string, preHash bool, hashRatePerSec float64) (*Store, error) {
	if dbPath != "." && dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("cache: create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("cache: open sqlite: %w", err)
	}
	s := &Store{
		db:        db,
		root:      root,
		preHash:   preHash,
		hashCache: newBoundedLRU[hashKey, hashResult](8192),
		nameCache: newBoundedLRU[nameKey, []string](2048),
		idsCache:  newBoundedLRU[int64, []string](1),
	}
	var f FileFilter = allowKnownNames{}
	s.filter.Store(&f)
	if hashRatePerSec > 0 {
		s.hashLimiter = rate.NewLimiter(rate.Limit(hashRatePerSec), 1)
	}
	if err := s.EnsureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SetFilter installs the catalogue snapshot (or any other FileFilter) that
// sync operations consult for per-song, per-file legality.
func (s *Store) SetFilter(f FileFilter) {
	if f == nil {
		f = allowKnownNames{}
	}
	s.filter.Store(&f)
}

func (s *Store) currentFilter() FileFilter {
	return *s.filter.Load()
}

// EnsureSchema idempotently creates the schema. Safe to call from any
// goroutine; only the first caller does the work.
func (s *Store) EnsureSchema() error {
	s.schemaOnce.Do(func() {
		s.schemaErr = ensureSchema(s.db)
	})
	return s.schemaErr
}

// ClearMemo drops all three in-memory memoizers (component B's clear()).
func (s *Store) ClearMemo() {
	s.hashCache.clear()
	s.nameCache.clear()
	s.idsCache.clear()
}

// RootMtimeNS stats the root directory and returns its modification time in
// nanoseconds, or 0 if the root is absent.
func (s *Store) RootMtimeNS() int64 {
	fi, err := os.Stat(s.root)
	if err != nil {
		return 0
	}
	return fi.ModTime().UnixNano()
}

// DirMtimeNS stats a song's on-disk directory and returns its modification
// time in nanoseconds. Callers (the download-list builder) pass this
// straight into GetSongFileNames, matching 4.A's caller-supplied-mtime
// contract.
func (s *Store) DirMtimeNS(songID string) (int64, error) {
	fi, err := os.Stat(filepath.Join(s.root, songID))
	if err != nil {
		return 0, err
	}
	return fi.ModTime().UnixNano(), nil
}

// StatSongFile stats one file under a song's directory.
func (s *Store) StatSongFile(songID, fileName string) (os.FileInfo, error) {
	return os.Stat(filepath.Join(s.root, songID, fileName))
}

// SyncSong implements 4.A sync_song. dirMtimeNS, when non-nil, is trusted
// as the directory's current modification time (the caller already
// obtained it, e.g. during sync_all's own enumeration), avoiding a
// redundant stat.
func (s *Store) SyncSong(ctx context.Context, songID string, dirMtimeNS *int64) error {
	dirPath := filepath.Join(s.root, songID)

	var observed int64
	if dirMtimeNS != nil {
		observed = *dirMtimeNS
	} else {
		fi, err := os.Stat(dirPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return s.pruneSong(ctx, songID)
			}
			return fmt.Errorf("cache: stat %s: %w", dirPath, err)
		}
		observed = fi.ModTime().UnixNano()
	}

	stored, hasRow, err := s.storedDirMtime(ctx, songID)
	if err != nil {
		return err
	}
	if hasRow && stored == observed {
		return nil // fast path
	}

	now := time.Now().Unix()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO songs(song_id, dir_mtime_ns, last_scan) VALUES (?, ?, ?)
		 ON CONFLICT(song_id) DO UPDATE SET dir_mtime_ns=excluded.dir_mtime_ns, last_scan=excluded.last_scan`,
		songID, observed, now); err != nil {
		return fmt.Errorf("cache: upsert song %s: %w", songID, err)
	}

	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s.pruneSong(ctx, songID)
		}
		return fmt.Errorf("cache: read dir %s: %w", dirPath, err)
	}

	filter := s.currentFilter()
	retained := make(map[string]struct{})
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filter.IsAvailableFile(songID, e.Name()) {
			retained[e.Name()] = struct{}{}
		}
	}

	if err := s.pruneUnretainedFiles(ctx, songID, retained); err != nil {
		return err
	}

	for name := range retained {
		if err := s.syncFile(ctx, songID, dirPath, name, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) syncFile(ctx context.Context, songID, dirPath, name string, now int64) error {
	fullPath := filepath.Join(dirPath, name)
	fi, err := os.Stat(fullPath)
	if err != nil {
		// Vanished between enumeration and stat; leave it out silently,
		// it will simply be absent from this sync pass.
		return nil
	}
	size := fi.Size()
	mtimeNS := fi.ModTime().UnixNano()

	var storedSize, storedMtime sql.NullInt64
	var storedMD5 sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT size, mtime_ns, md5 FROM files WHERE song_id=? AND file_name=?`, songID, name)
	err = row.Scan(&storedSize, &storedMtime, &storedMD5)
	matches := err == nil && storedSize.Int64 == size && storedMtime.Int64 == mtimeNS

	if matches {
		if s.preHash && !storedMD5.Valid {
			sum, herr := s.hashFile(ctx, fullPath)
			if herr != nil {
				return nil // vanished mid-read; leave row as-is
			}
			_, err = s.db.ExecContext(ctx,
				`UPDATE files SET md5=?, last_seen=? WHERE song_id=? AND file_name=?`,
				sum, now, songID, name)
			return err
		}
		_, err = s.db.ExecContext(ctx,
			`UPDATE files SET last_seen=? WHERE song_id=? AND file_name=?`, now, songID, name)
		return err
	}

	var sum sql.NullString
	if s.preHash {
		h, herr := s.hashFile(ctx, fullPath)
		if herr == nil {
			sum = sql.NullString{String: h, Valid: true}
		}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files(song_id, file_name, size, mtime_ns, md5, last_seen) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(song_id, file_name) DO UPDATE SET size=excluded.size, mtime_ns=excluded.mtime_ns, md5=excluded.md5, last_seen=excluded.last_seen`,
		songID, name, size, mtimeNS, sum, now)
	return err
}

// SyncAll implements 4.A sync_all.
func (s *Store) SyncAll(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.CacheSyncDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		return s.deleteAllRows(ctx)
	}
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mtimeNS := info.ModTime().UnixNano()
		if err := s.SyncSong(ctx, e.Name(), &mtimeNS); err != nil {
			return err
		}
		seen[e.Name()] = struct{}{}
	}
	if len(seen) == 0 {
		return s.deleteAllRows(ctx)
	}
	return s.pruneUnseenSongs(ctx, seen)
}

// GetAllSongIDs implements 4.A get_all_song_ids, memoized by component B's
// single-slot LRU.
func (s *Store) GetAllSongIDs(ctx context.Context, rootMtimeNS int64) ([]string, error) {
	if ids, ok := s.idsCache.get(rootMtimeNS); ok {
		return ids, nil
	}
	stored, err := s.metaValue(ctx, rootMtimeKey)
	if err != nil {
		return nil, err
	}
	if stored != fmt.Sprintf("%d", rootMtimeNS) {
		if err := s.SyncAll(ctx); err != nil {
			return nil, err
		}
		if err := s.setMetaValue(ctx, rootMtimeKey, fmt.Sprintf("%d", rootMtimeNS)); err != nil {
			return nil, err
		}
	}
	ids, err := s.querySongIDs(ctx)
	if err != nil {
		return nil, err
	}
	s.idsCache.put(rootMtimeNS, ids)
	return ids, nil
}

// GetSongFileNames implements 4.A get_song_file_names, memoized by
// component B's 2048-entry LRU.
func (s *Store) GetSongFileNames(ctx context.Context, songID string, dirMtimeNS int64) ([]string, error) {
	key := nameKey{songID: songID, dirMtimeNS: dirMtimeNS}
	if names, ok := s.nameCache.get(key); ok {
		return names, nil
	}
	stored, hasRow, err := s.storedDirMtime(ctx, songID)
	if err != nil {
		return nil, err
	}
	if !hasRow || stored != dirMtimeNS {
		if err := s.SyncSong(ctx, songID, &dirMtimeNS); err != nil {
			return nil, err
		}
	}
	names, err := s.queryFileNames(ctx, songID)
	if err != nil {
		return nil, err
	}
	s.nameCache.put(key, names)
	return names, nil
}

// GetSongFileMD5 implements 4.A get_song_file_md5, memoized by component
// B's 8192-entry LRU. The returned bool is false when the file has no
// recoverable hash (absent, or vanished mid-read).
func (s *Store) GetSongFileMD5(ctx context.Context, songID, fileName string, fileMtimeNS, fileSize int64) (string, bool, error) {
	key := hashKey{songID: songID, fileName: fileName, mtimeNS: fileMtimeNS, size: fileSize}
	if v, ok := s.hashCache.get(key); ok {
		metrics.HashCacheHits.Inc()
		return v.md5, v.ok, nil
	}
	metrics.HashCacheMisses.Inc()
	md5sum, ok, err := s.getSongFileMD5Uncached(ctx, songID, fileName, fileMtimeNS, fileSize)
	if err != nil {
		return "", false, err
	}
	s.hashCache.put(key, hashResult{md5: md5sum, ok: ok})
	return md5sum, ok, nil
}

func (s *Store) getSongFileMD5Uncached(ctx context.Context, songID, fileName string, fileMtimeNS, fileSize int64) (string, bool, error) {
	fullPath := filepath.Join(s.root, songID, fileName)
	if _, err := os.Stat(fullPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			_, _ = s.db.ExecContext(ctx, `DELETE FROM files WHERE song_id=? AND file_name=?`, songID, fileName)
			return "", false, nil
		}
		return "", false, fmt.Errorf("cache: stat %s: %w", fullPath, err)
	}

	var storedSize, storedMtime sql.NullInt64
	var storedMD5 sql.NullString
	row := s.db.QueryRowContext(ctx,
		`SELECT size, mtime_ns, md5 FROM files WHERE song_id=? AND file_name=?`, songID, fileName)
	err := row.Scan(&storedSize, &storedMtime, &storedMD5)
	if err == nil && storedSize.Int64 == fileSize && storedMtime.Int64 == fileMtimeNS && storedMD5.Valid {
		now := time.Now().Unix()
		_, _ = s.db.ExecContext(ctx, `UPDATE files SET last_seen=? WHERE song_id=? AND file_name=?`, now, songID, fileName)
		return storedMD5.String, true, nil
	}

	sum, herr := s.hashFile(ctx, fullPath)
	if herr != nil {
		return "", false, nil // vanished mid-read
	}

	now := time.Now().Unix()
	if err := s.ensureSongRow(ctx, songID); err != nil {
		return "", false, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO files(song_id, file_name, size, mtime_ns, md5, last_seen) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(song_id, file_name) DO UPDATE SET size=excluded.size, mtime_ns=excluded.mtime_ns, md5=excluded.md5, last_seen=excluded.last_seen`,
		songID, fileName, fileSize, fileMtimeNS, sum, now)
	if err != nil {
		return "", false, fmt.Errorf("cache: upsert file %s/%s: %w", songID, fileName, err)
	}
	return sum, true, nil
}

func (s *Store) ensureSongRow(ctx context.Context, songID string) error {
	dirPath := filepath.Join(s.root, songID)
	fi, err := os.Stat(dirPath)
	if err != nil {
		return nil
	}
	now := time.Now().Unix()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO songs(song_id, dir_mtime_ns, last_scan) VALUES (?, ?, ?)
		 ON CONFLICT(song_id) DO NOTHING`,
		songID, fi.ModTime().UnixNano(), now)
	return err
}

func (s *Store) hashFile(ctx context.Context, path string) (string, error) {
	if s.hashLimiter != nil {
		if err := s.hashLimiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *Store) pruneSong(ctx context.Context, songID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE song_id=?`, songID); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE song_id=?`, songID)
	return err
}

func (s *Store) pruneUnretainedFiles(ctx context.Context, songID string, retained map[string]struct{}) error {
	names, err := s.queryFileNames(ctx, songID)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, ok := retained[name]; !ok {
			if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE song_id=? AND file_name=?`, songID, name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) pruneUnseenSongs(ctx context.Context, seen map[string]struct{}) error {
	ids, err := s.querySongIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			if err := s.pruneSong(ctx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Store) deleteAllRows(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files`); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM songs`)
	return err
}

func (s *Store) storedDirMtime(ctx context.Context, songID string) (int64, bool, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT dir_mtime_ns FROM songs WHERE song_id=?`, songID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

func (s *Store) querySongIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT song_id FROM songs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, rows.Err()
}

func (s *Store) queryFileNames(ctx context.Context, songID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT file_name FROM files WHERE song_id=?`, songID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, rows.Err()
}

func (s *Store) metaValue(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (s *Store) setMetaValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}
