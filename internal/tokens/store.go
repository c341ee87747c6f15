package tokens

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snapetech/songdl/internal/metrics"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS download_token (
	user_id   TEXT NOT NULL,
	song_id   TEXT NOT NULL,
	file_name TEXT NOT NULL,
	token     TEXT NOT NULL,
	time      BIGINT NOT NULL,
	PRIMARY KEY (user_id, song_id, file_name)
);
CREATE INDEX IF NOT EXISTS download_token_lookup_idx ON download_token (song_id, file_name, token);
`

// Store is the primary-database surface component E is granted: narrow
// query/insert access to download_token, nothing else.
type Store struct {
	pool *pgxpool.Pool
}

// Connect opens a pgx pool against dsn and ensures the download_token
// schema exists.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("tokens: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tokens: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("tokens: ensure schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// IssueBatch implements 4.E batch persistence: delete rows older than
// gapLimit, then upsert every issued token in one round trip, keyed by
// (user_id, song_id, file_name) so repeated requests replace old tokens
// in-place. Both steps run over one pooled connection.
func (s *Store) IssueBatch(ctx context.Context, issued []Issued, gapLimit time.Duration) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("tokens: acquire connection: %w", err)
	}
	defer conn.Release()

	now := time.Now().Unix()
	cutoff := now - int64(gapLimit.Seconds())
	if _, err := conn.Exec(ctx, `DELETE FROM download_token WHERE time < $1`, cutoff); err != nil {
		return fmt.Errorf("tokens: prune expired: %w", err)
	}
	if len(issued) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, tok := range issued {
		batch.Queue(
			`INSERT INTO download_token (user_id, song_id, file_name, token, time)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (user_id, song_id, file_name)
			 DO UPDATE SET token = excluded.token, time = excluded.time`,
			tok.UserID, tok.SongID, tok.FileName, tok.Token, tok.TokenTime)
	}
	results := conn.SendBatch(ctx, batch)
	defer results.Close()
	for range issued {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("tokens: upsert batch: %w", err)
		}
	}
	metrics.TokensIssued.Add(float64(len(issued)))
	return nil
}

// Lookup implements the read half of the validation contract 4.E grants
// the byte-serving handler.
func (s *Store) Lookup(ctx context.Context, songID, fileName, token string) (Record, error) {
	var rec Record
	rec.SongID = songID
	rec.FileName = fileName
	rec.Token = token
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, time FROM download_token WHERE song_id=$1 AND file_name=$2 AND token=$3`,
		songID, fileName, token).Scan(&rec.UserID, &rec.TokenTime)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("tokens: lookup: %w", err)
	}
	return rec, nil
}
