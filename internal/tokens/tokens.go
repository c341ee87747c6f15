// Package tokens implements the opaque download-token issuer (component E):
// token generation and the pgx-backed download_token batch store.
package tokens

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound means the (song_id, file_name, token) tuple has no row.
var ErrNotFound = errors.New("tokens: not found")

// Issued is one generated token, not yet persisted.
type Issued struct {
	UserID    string
	SongID    string
	FileName  string
	Token     string
	TokenTime int64
}

// Generate implements 4.E generate_token: token_time is now in unix
// seconds, token is md5(user_id || song_id || file_name || token_time ||
// 8 random bytes).
func Generate(userID, songID, fileName string) (Issued, error) {
	tokenTime := time.Now().Unix()
	random := make([]byte, 8)
	if _, err := rand.Read(random); err != nil {
		return Issued{}, fmt.Errorf("tokens: read random bytes: %w", err)
	}
	h := md5.New()
	h.Write([]byte(userID))
	h.Write([]byte(songID))
	h.Write([]byte(fileName))
	fmt.Fprintf(h, "%d", tokenTime)
	h.Write(random)
	return Issued{
		UserID:    userID,
		SongID:    songID,
		FileName:  fileName,
		Token:     hex.EncodeToString(h.Sum(nil)),
		TokenTime: tokenTime,
	}, nil
}

// Record is one row of download_token as read back for validation.
type Record struct {
	UserID    string
	SongID    string
	FileName  string
	Token     string
	TokenTime int64
}

// Valid reports whether the record is within its validity window as of now
// (closed interval [token_time, token_time+gapLimit], per testable
// property 7).
func (r Record) Valid(now time.Time, gapLimit time.Duration) bool {
	age := now.Unix() - r.TokenTime
	return age >= 0 && age <= int64(gapLimit.Seconds())
}

// ValidationResult is the outcome of the byte-serving handler's contract
// validation path (4.E "Validation path").
type ValidationResult struct {
	Record    Record
	Valid     bool
	OverLimit bool
}
