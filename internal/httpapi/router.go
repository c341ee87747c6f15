// Package httpapi wires the download-list builder to an HTTP transport:
// routing, request correlation, compression, and the error-class mapping
// spec.md §7 assigns to the request layer.
package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/snapetech/songdl/internal/catalog"
	"github.com/snapetech/songdl/internal/manifest"
	"github.com/snapetech/songdl/internal/metrics"
	"github.com/snapetech/songdl/internal/ratelimit"
	"github.com/snapetech/songdl/internal/tokens"
	"github.com/snapetech/songdl/internal/urlbuilder"
)

// UserProvider resolves entitlement data for a user_id. The primary
// user/auth database is out of scope for this service; a real deployment
// implements this against that database or a trusted upstream claim.
type UserProvider interface {
	Lookup(ctx context.Context, userID string) (*catalog.User, error)
}

// LookupFunc adapts a plain function to UserProvider.
type LookupFunc func(ctx context.Context, userID string) (*catalog.User, error)

func (f LookupFunc) Lookup(ctx context.Context, userID string) (*catalog.User, error) {
	return f(ctx, userID)
}

// Service holds everything a request handler needs: the builder
// (components A/B/C composed), the catalogue registry, the rate limiter,
// the token store, and the URL prefix/route choice.
type Service struct {
	Builder      *manifest.Builder
	Catalog      *catalog.Registry
	Limiter      ratelimit.Limiter
	Tokens       *tokens.Store
	Users        UserProvider
	LinkPrefix   string
	GapLimit     time.Duration
	ForbidNoItem bool
}

// Routes registers this service's endpoints on r, following the
// Routes(r chi.Router) registration idiom.
func (s *Service) Routes(r chi.Router) {
	r.Use(requestID, brotliCompress)
	r.Get("/v1/downloads/{user_id}", s.handleDownloadList)
}

func (s *Service) handleDownloadList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "missing user_id", http.StatusBadRequest)
		return
	}

	urlFlag := r.URL.Query().Get("url") == "true"
	var songIDs []string
	if raw := r.URL.Query().Get("song_ids"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				songIDs = append(songIDs, id)
			}
		}
	}

	if urlFlag {
		ok, err := s.Limiter.Hit(ctx, userID)
		if err != nil {
			log.Printf("httpapi: rate limiter error for %s: %v", userID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			metrics.RateLimitRejections.Inc()
			http.Error(w, "download quota exceeded", http.StatusTooManyRequests)
			return
		}
	}

	var user *catalog.User
	if s.Users != nil {
		u, err := s.Users.Lookup(ctx, userID)
		if err != nil {
			log.Printf("httpapi: user lookup error for %s: %v", userID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		user = u
	}

	var ub urlbuilder.Builder
	if s.LinkPrefix != "" {
		ub = urlbuilder.Prefix{Prefix: s.LinkPrefix}
	} else {
		ub = urlbuilder.ChiRoute{Request: r}
	}

	result, issued, err := s.Builder.Build(ctx, manifest.BuildRequest{
		User:       user,
		UserID:     userID,
		SongIDs:    songIDs,
		URLFlag:    urlFlag,
		Snapshot:   s.Catalog.Current(),
		URLBuilder: ub,
	})
	if err != nil {
		log.Printf("httpapi: build manifest for %s: %v", userID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if urlFlag && s.Tokens != nil {
		if err := s.Tokens.IssueBatch(ctx, issued, s.GapLimit); err != nil {
			log.Printf("httpapi: issue token batch for %s: %v", userID, err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-Id", requestIDFromContext(ctx))
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("httpapi: encode response for %s: %v", userID, err)
	}
}

// ValidateDownload implements the byte-serving handler's contract
// validation path (4.E): confirm the token exists, is within the gap
// window, and the issuing user is not currently over their daily quota.
// Serving the bytes themselves is out of scope.
func (s *Service) ValidateDownload(ctx context.Context, songID, fileName, token string) (tokens.ValidationResult, error) {
	rec, err := s.Tokens.Lookup(ctx, songID, fileName, token)
	if err != nil {
		return tokens.ValidationResult{}, err
	}
	valid := rec.Valid(time.Now(), s.GapLimit)
	overLimit := false
	if s.Limiter != nil {
		ok, lerr := s.Limiter.Test(ctx, rec.UserID)
		if lerr == nil {
			overLimit = !ok
		}
	}
	return tokens.ValidationResult{Record: rec, Valid: valid, OverLimit: overLimit}, nil
}
