package catalog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeCatalogue(t *testing.T, doc document) string {
	t.Helper()
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "songlist.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParse_missingFileIsUnfiltered(t *testing.T) {
	snap, err := Parse(filepath.Join(t.TempDir(), "missing.json"), "free", "single")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if snap.HasSonglist() {
		t.Error("expected HasSonglist false for missing file")
	}
	if !snap.IsAvailableFile("anything", "0.aff") {
		t.Error("expected unfiltered snapshot to allow known file names")
	}
	if snap.IsAvailableFile("anything", "not_a_real.txt") {
		t.Error("expected unfiltered snapshot to reject unknown file names")
	}
}

func TestParseOne_remoteDLSetsBits(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{{
		ID:           "abc",
		Set:          "free",
		Purchase:     "",
		RemoteDL:     true,
		Difficulties: []Difficulty{{RatingClass: 0}, {RatingClass: 3, AudioOverride: true}},
	}}})
	snap, err := Parse(path, "free", "single")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"0.aff", "3.aff", "base.ogg", "3.ogg"} {
		if !snap.IsAvailableFile("abc", name) {
			t.Errorf("expected %s available", name)
		}
	}
	if snap.IsAvailableFile("abc", "1.aff") {
		t.Error("expected 1.aff not available (no difficulty for it)")
	}
}

func TestParseOne_remoteDLFalseOnlyBit3(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{{
		ID:           "abc",
		Set:          "free",
		RemoteDL:     false,
		Difficulties: []Difficulty{{RatingClass: 0}, {RatingClass: 3}},
	}}})
	snap, err := Parse(path, "free", "single")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.IsAvailableFile("abc", "3.aff") {
		t.Error("expected 3.aff available under remote_dl=false")
	}
	if snap.IsAvailableFile("abc", "0.aff") {
		t.Error("expected 0.aff unavailable under remote_dl=false")
	}
	if snap.IsAvailableFile("abc", "base.ogg") {
		t.Error("expected base.ogg unavailable under remote_dl=false")
	}
}

func TestParseOneUnlock_freePack(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{{
		ID:           "abc",
		Set:          "free",
		Purchase:     "",
		Difficulties: []Difficulty{{RatingClass: 3}},
	}}})
	snap, err := Parse(path, "free", "single")
	if err != nil {
		t.Fatal(err)
	}
	unlocks := snap.GetUserUnlocks(nil)
	if _, ok := unlocks["abc"]; !ok {
		t.Error("expected free song in unlocks for nil user")
	}
}

func TestGetUserUnlocks_packsSinglesWorld(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{
		{ID: "pack-song", Set: "packA", Purchase: "packA"},
		{ID: "single-song", Set: "single", Purchase: "single-song"},
		{ID: "world-song", Set: "other", Purchase: "x", WorldUnlock: true},
		{ID: "always-free", Set: "free", Purchase: ""},
	}})
	snap, err := Parse(path, "free", "single")
	if err != nil {
		t.Fatal(err)
	}
	u := &User{
		Packs:      map[string]struct{}{"packA": {}},
		Singles:    map[string]struct{}{"single-song": {}},
		WorldSongs: map[string]struct{}{"world-song": {}},
	}
	unlocks := snap.GetUserUnlocks(u)
	for _, want := range []string{"pack-song", "single-song", "world-song", "always-free"} {
		if _, ok := unlocks[want]; !ok {
			t.Errorf("expected %s in unlocks, got %v", want, unlocks)
		}
	}
}

func TestGetUserUnlocks_worldRatingClass3Suffix(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{
		{ID: "free-song", Set: "free", Purchase: "", Difficulties: []Difficulty{{RatingClass: 3}}},
	}})
	snap, err := Parse(path, "free", "single")
	if err != nil {
		t.Fatal(err)
	}
	u := &User{WorldSongs: map[string]struct{}{"free-song3": {}}}
	unlocks := snap.GetUserUnlocks(u)
	if _, ok := unlocks["free-song"]; !ok {
		t.Errorf("expected free-song unlocked via world-unlock rstrip, got %v", unlocks)
	}
}

func TestGetUserUnlocks_entitlementClosureIncludesFree(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{
		{ID: "f1", Set: "free", Purchase: ""},
		{ID: "f2", Set: "free", Purchase: ""},
	}})
	snap, err := Parse(path, "free", "single")
	if err != nil {
		t.Fatal(err)
	}
	unlocks := snap.GetUserUnlocks(&User{})
	for _, id := range []string{"f1", "f2"} {
		if _, ok := unlocks[id]; !ok {
			t.Errorf("free_songs not subset of unlocks, missing %s", id)
		}
	}
}

func TestRegistry_initializeAndClear(t *testing.T) {
	path := writeCatalogue(t, document{Songs: []Song{{ID: "abc", Set: "free", RemoteDL: true}}})
	r := NewRegistry("free", "single")
	if r.Current().HasSonglist() {
		t.Error("expected fresh registry unfiltered")
	}
	if err := r.Initialize(path); err != nil {
		t.Fatal(err)
	}
	if !r.Current().HasSonglist() {
		t.Error("expected HasSonglist true after Initialize")
	}
	r.Clear()
	if r.Current().HasSonglist() {
		t.Error("expected HasSonglist false after Clear")
	}
}
