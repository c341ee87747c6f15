// Package manifest implements the download-list builder (component F):
// composing the file-metadata cache, catalogue, and token issuer into a
// per-request JSON manifest. The rate limiter is not consulted here.
package manifest

import (
	"context"
	"fmt"
	"sort"

	"github.com/snapetech/songdl/internal/cache"
	"github.com/snapetech/songdl/internal/catalog"
	"github.com/snapetech/songdl/internal/tokens"
	"github.com/snapetech/songdl/internal/urlbuilder"
)

// Entry is one {checksum, url?} pair routed into a manifest.
type Entry struct {
	Checksum string `json:"checksum"`
	URL      string `json:"url,omitempty"`
}

// AdditionalFile is one routed extra asset.
type AdditionalFile struct {
	FileName string `json:"file_name"`
	Checksum string `json:"checksum"`
	URL      string `json:"url,omitempty"`
}

// Audio holds the base audio checksum/url plus an optional rating-class-3
// override, matching manifest.audio's shape.
type Audio struct {
	Entry
	Three *Entry `json:"3,omitempty"`
}

// SongManifest is one song's manifest entry in the response.
type SongManifest struct {
	Audio           *Audio            `json:"audio,omitempty"`
	Chart           map[string]*Entry `json:"chart,omitempty"`
	AdditionalFiles []AdditionalFile  `json:"additional_files,omitempty"`
}

// Result is the full per-request manifest, keyed by song_id.
type Result map[string]*SongManifest

// Builder composes components A/B (via *cache.Store), C (via a catalogue
// snapshot), and E (via tokens.Generate + a url builder) into manifests.
type Builder struct {
	Cache              *cache.Store
	FreePackName       string
	SinglePackName     string
	ForbidWhenNoItem   bool
	GapLimitSeconds    int64
}

// BuildRequest carries one request's parameters.
type BuildRequest struct {
	User       *catalog.User
	UserID     string
	SongIDs    []string // empty means "all songs"
	URLFlag    bool
	Snapshot   *catalog.Snapshot
	URLBuilder urlbuilder.Builder
}

// Build implements 4.F's algorithm. When req.URLFlag is true, newly issued
// tokens are returned for the caller to persist via a token store
// (component E) in the same batch the original algorithm describes; this
// package does not itself hold a primary-database connection.
func (b *Builder) Build(ctx context.Context, req BuildRequest) (Result, []tokens.Issued, error) {
	songIDs := req.SongIDs
	snap := req.Snapshot
	if snap == nil {
		snap = catalog.Empty(b.FreePackName, b.SinglePackName)
	}

	if len(songIDs) == 0 {
		ids, err := b.Cache.GetAllSongIDs(ctx, b.Cache.RootMtimeNS())
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: list all songs: %w", err)
		}
		songIDs = ids
		if b.ForbidWhenNoItem && snap.HasSonglist() {
			songIDs = intersectWithUnlocks(songIDs, snap.GetUserUnlocks(req.User))
		}
	} else if b.ForbidWhenNoItem && snap.HasSonglist() {
		songIDs = intersectWithUnlocks(songIDs, snap.GetUserUnlocks(req.User))
		songIDs = b.filterOnDisk(ctx, songIDs)
	}

	sort.Strings(songIDs)

	result := make(Result)
	var issued []tokens.Issued
	for _, songID := range songIDs {
		sm, tok, err := b.addOneSong(ctx, songID, req.UserID, req.URLFlag, req.URLBuilder)
		if err != nil {
			return nil, nil, err
		}
		if sm != nil {
			result[songID] = sm
		}
		issued = append(issued, tok...)
	}
	return result, issued, nil
}

func intersectWithUnlocks(ids []string, unlocks map[string]struct{}) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := unlocks[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func (b *Builder) filterOnDisk(ctx context.Context, ids []string) []string {
	all, err := b.Cache.GetAllSongIDs(ctx, b.Cache.RootMtimeNS())
	if err != nil {
		return nil
	}
	onDisk := make(map[string]struct{}, len(all))
	for _, id := range all {
		onDisk[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := onDisk[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// addOneSong implements 4.F add_one_song.
func (b *Builder) addOneSong(ctx context.Context, songID, userID string, urlFlag bool, ub urlbuilder.Builder) (*SongManifest, []tokens.Issued, error) {
	dirMtimeNS, err := b.Cache.DirMtimeNS(songID)
	if err != nil {
		return nil, nil, nil // song directory vanished; silently omit, per 4.A's prune-on-missing policy
	}
	names, err := b.Cache.GetSongFileNames(ctx, songID, dirMtimeNS)
	if err != nil {
		return nil, nil, fmt.Errorf("manifest: list files for %s: %w", songID, err)
	}
	if len(names) == 0 {
		return nil, nil, nil
	}

	sm := &SongManifest{Chart: make(map[string]*Entry)}
	var issued []tokens.Issued

	for _, fileName := range names {
		fi, ok := b.statFile(songID, fileName)
		if !ok {
			continue
		}
		checksum, ok, err := b.Cache.GetSongFileMD5(ctx, songID, fileName, fi.mtimeNS, fi.size)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest: hash %s/%s: %w", songID, fileName, err)
		}
		if !ok {
			continue
		}

		entry := &Entry{Checksum: checksum}
		if urlFlag {
			issuedTok, err := tokens.Generate(userID, songID, fileName)
			if err != nil {
				return nil, nil, err
			}
			if ub != nil {
				entry.URL = ub.BuildURL(songID, fileName, issuedTok.Token)
			}
			issued = append(issued, issuedTok)
		}

		routeFile(sm, fileName, entry)
	}

	if sm.Audio == nil && len(sm.Chart) == 0 && len(sm.AdditionalFiles) == 0 {
		return nil, issued, nil
	}
	if len(sm.Chart) == 0 {
		sm.Chart = nil
	}
	return sm, issued, nil
}

func routeFile(sm *SongManifest, fileName string, entry *Entry) {
	switch fileName {
	case "base.ogg":
		if sm.Audio == nil {
			sm.Audio = &Audio{}
		}
		sm.Audio.Entry = *entry
	case "3.ogg":
		if sm.Audio == nil {
			sm.Audio = &Audio{}
		}
		sm.Audio.Three = entry
	case "video.mp4", "video_audio.ogg", "video_720.mp4", "video_1080.mp4":
		sm.AdditionalFiles = append(sm.AdditionalFiles, AdditionalFile{
			FileName: fileName,
			Checksum: entry.Checksum,
			URL:      entry.URL,
		})
	default:
		// The .aff chart files; keyed by their leading rating-class digit.
		if len(fileName) > 0 {
			sm.Chart[string(fileName[0])] = entry
		}
	}
}

type fileStat struct {
	mtimeNS int64
	size    int64
}

func (b *Builder) statFile(songID, fileName string) (fileStat, bool) {
	fi, err := b.Cache.StatSongFile(songID, fileName)
	if err != nil {
		return fileStat{}, false
	}
	return fileStat{mtimeNS: fi.ModTime().UnixNano(), size: fi.Size()}, true
}
