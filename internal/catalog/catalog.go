// Package catalog interprets the songlist JSON catalogue into per-song file
// bitmaps and entitlement indexes, and publishes them as an immutable
// snapshot (component C).
package catalog

import (
	"encoding/json"
	"os"
	"strings"
	"sync/atomic"

	"github.com/snapetech/songdl/internal/cache"
)

// Bit positions into a per-song bitmap, matching cache.FileNames by index.
const (
	BitChart0 = 1 << iota
	BitChart1
	BitChart2
	BitChart3
	BitChart4
	BitBaseOgg
	BitAudioOverride
	BitVideoMP4
	BitVideoAudioOgg
	BitVideo720
	BitVideo1080
)

var additionalFileBits = map[string]uint16{
	"video.mp4":       BitVideoMP4,
	"video_audio.ogg": BitVideoAudioOgg,
	"video_720.mp4":   BitVideo720,
	"video_1080.mp4":  BitVideo1080,
}

// Difficulty is one entry of a song's difficulties array.
type Difficulty struct {
	RatingClass   int  `json:"ratingClass"`
	AudioOverride bool `json:"audioOverride"`
}

// AdditionalFile names an extra downloadable asset.
type AdditionalFile struct {
	FileName string `json:"file_name"`
}

// Song is one entry of the catalogue's top-level "songs" array.
type Song struct {
	ID              string           `json:"id"`
	Set             string           `json:"set"`
	Purchase        string           `json:"purchase"`
	RemoteDL        bool             `json:"remote_dl"`
	WorldUnlock     bool             `json:"world_unlock"`
	Difficulties    []Difficulty     `json:"difficulties"`
	AdditionalFiles []AdditionalFile `json:"additional_files"`
}

type document struct {
	Songs []Song `json:"songs"`
}

// Snapshot is the immutable, atomically-published result of one catalogue
// parse. HasSonglist==false means "unfiltered deployment": every
// well-known file name is allowed for every song. Its methods need a
// non-nil receiver; manifest.Builder substitutes Empty for a nil *Snapshot.
type Snapshot struct {
	bitmaps     map[string]uint16
	packInfo    map[string]map[string]struct{}
	freeSongs   map[string]struct{}
	worldSongs  map[string]struct{}
	hasSonglist bool

	freePackName   string
	singlePackName string
}

// User carries the entitlement sets a catalogue snapshot checks requests
// against.
type User struct {
	Packs       map[string]struct{}
	Singles     map[string]struct{}
	WorldSongs  map[string]struct{}
}

// Empty returns an unfiltered snapshot (has_songlist=false).
func Empty(freePackName, singlePackName string) *Snapshot {
	return &Snapshot{
		bitmaps:        make(map[string]uint16),
		packInfo:       make(map[string]map[string]struct{}),
		freeSongs:      make(map[string]struct{}),
		worldSongs:     make(map[string]struct{}),
		hasSonglist:    false,
		freePackName:   freePackName,
		singlePackName: singlePackName,
	}
}

// Parse implements 4.C parse(path). A missing file yields an unfiltered
// Empty snapshot, not an error, matching the catalogue-parse-failure class
// in the error taxonomy.
func Parse(path, freePackName, singlePackName string) (*Snapshot, error) {
	snap := Empty(freePackName, singlePackName)
	if path == "" {
		return snap, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return snap, nil
		}
		return snap, nil // malformed/unreadable: proceed unfiltered, same class
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return snap, nil
	}
	snap.hasSonglist = true
	for _, song := range doc.Songs {
		snap.parseOne(song)
		snap.parseOneUnlock(song)
	}
	return snap, nil
}

// parseOne fills the per-song file bitmap (4.C parse_one).
func (s *Snapshot) parseOne(song Song) {
	if song.ID == "" {
		return
	}
	var bits uint16
	if song.RemoteDL {
		bits |= BitBaseOgg
		for _, d := range song.Difficulties {
			if d.RatingClass >= 0 && d.RatingClass <= 4 {
				bits |= 1 << uint(d.RatingClass)
			}
			if d.RatingClass == 3 && d.AudioOverride {
				bits |= BitAudioOverride
			}
		}
	} else {
		for _, d := range song.Difficulties {
			if d.RatingClass == 3 {
				bits |= BitChart3
				if d.AudioOverride {
					bits |= BitAudioOverride
				}
			}
		}
	}
	for _, af := range song.AdditionalFiles {
		if bit, ok := additionalFileBits[af.FileName]; ok {
			bits |= bit
		}
	}
	// byd_local_unlock: left unimplemented per open product question; no
	// field on Song carries it and no behavior is inferred from it.
	s.bitmaps[song.ID] = bits
}

// parseOneUnlock fills the entitlement indexes (4.C parse_one_unlock).
func (s *Snapshot) parseOneUnlock(song Song) {
	if song.ID == "" || song.Set == "" {
		return
	}
	if song.Set == s.freePackName {
		if hasRatingClass3(song.Difficulties) {
			s.worldSongs[song.ID+"3"] = struct{}{}
		}
		s.freeSongs[song.ID] = struct{}{}
		return
	}
	if song.WorldUnlock {
		s.worldSongs[song.ID] = struct{}{}
	}
	if song.Purchase == "" {
		return
	}
	pack, ok := s.packInfo[song.Set]
	if !ok {
		pack = make(map[string]struct{})
		s.packInfo[song.Set] = pack
	}
	pack[song.ID] = struct{}{}
}

func hasRatingClass3(diffs []Difficulty) bool {
	for _, d := range diffs {
		if d.RatingClass == 3 {
			return true
		}
	}
	return false
}

// IsAvailableFile implements 4.C is_available_file and satisfies
// cache.FileFilter.
func (s *Snapshot) IsAvailableFile(songID, fileName string) bool {
	bits, known := s.bitmaps[songID]
	if !known {
		for _, n := range cache.FileNames {
			if n == fileName {
				return true
			}
		}
		return false
	}
	idx := fileNameIndex(fileName)
	if idx < 0 {
		return false
	}
	return bits&(1<<uint(idx)) != 0
}

func fileNameIndex(name string) int {
	for i, n := range cache.FileNames {
		if n == name {
			return i
		}
	}
	return -1
}

// HasSonglist reports whether a catalogue file was successfully loaded.
func (s *Snapshot) HasSonglist() bool {
	return s.hasSonglist
}

// GetUserUnlocks implements 4.C get_user_unlocks. A nil user yields the
// empty set union'd with free_songs (still returns free_songs).
func (s *Snapshot) GetUserUnlocks(u *User) map[string]struct{} {
	out := make(map[string]struct{})
	for id := range s.freeSongs {
		out[id] = struct{}{}
	}
	if u == nil {
		return out
	}
	for pack := range u.Packs {
		for id := range s.packInfo[pack] {
			out[id] = struct{}{}
		}
	}
	if singlePack, ok := s.packInfo[s.singlePackName]; ok {
		for id := range singlePack {
			if _, ok := u.Singles[id]; ok {
				out[id] = struct{}{}
			}
		}
	}
	for id := range s.worldSongs {
		if _, ok := u.WorldSongs[id]; ok {
			out[strings.TrimSuffix(id, "3")] = struct{}{}
		}
	}
	return out
}

// Registry holds the currently-published Snapshot, swapped atomically by
// Initialize/Clear (spec.md §9's "immutable snapshot object" discipline).
type Registry struct {
	ptr atomic.Pointer[Snapshot]

	freePackName   string
	singlePackName string
}

func NewRegistry(freePackName, singlePackName string) *Registry {
	r := &Registry{freePackName: freePackName, singlePackName: singlePackName}
	empty := Empty(freePackName, singlePackName)
	r.ptr.Store(empty)
	return r
}

// Initialize parses path and publishes the result atomically.
func (r *Registry) Initialize(path string) error {
	snap, err := Parse(path, r.freePackName, r.singlePackName)
	if err != nil {
		return err
	}
	r.ptr.Store(snap)
	return nil
}

// Clear swaps in a fresh, unfiltered snapshot.
func (r *Registry) Clear() {
	r.ptr.Store(Empty(r.freePackName, r.singlePackName))
}

// Current returns the snapshot currently published. Callers should take
// one local reference for the duration of a request.
func (r *Registry) Current() *Snapshot {
	return r.ptr.Load()
}
