package manifest

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/snapetech/songdl/internal/cache"
	"github.com/snapetech/songdl/internal/catalog"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func newBuilder(t *testing.T, root string) (*Builder, *cache.Store) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "song_cache.db")
	store, err := cache.Open(dbPath, root, true, 0)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return &Builder{Cache: store, FreePackName: "free", SinglePackName: "single"}, store
}

func writeSong(t *testing.T, root, songID string, files map[string][]byte) {
	t.Helper()
	dir := filepath.Join(root, songID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBuild_emptyCatalogueOneSong(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "abc", map[string][]byte{"0.aff": []byte("chart0"), "base.ogg": []byte("audio")})
	b, store := newBuilder(t, root)
	ctx := context.Background()
	if err := store.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	result, _, err := b.Build(ctx, BuildRequest{UserID: "u1"})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	sm, ok := result["abc"]
	if !ok {
		t.Fatalf("expected abc in result, got %v", result)
	}
	if sm.Chart["0"] == nil || sm.Chart["0"].Checksum != md5Hex([]byte("chart0")) {
		t.Errorf("chart[0] = %+v", sm.Chart["0"])
	}
	if sm.Audio == nil || sm.Audio.Checksum != md5Hex([]byte("audio")) {
		t.Errorf("audio = %+v", sm.Audio)
	}
}

func catalogueWith(t *testing.T, songs []catalog.Song, freePack, singlePack string) *catalog.Snapshot {
	t.Helper()
	doc := struct {
		Songs []catalog.Song `json:"songs"`
	}{Songs: songs}
	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "songlist.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	snap, err := catalog.Parse(path, freePack, singlePack)
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

func TestBuild_catalogueRestrictsFiles(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "abc", map[string][]byte{"0.aff": []byte("c0"), "1.aff": []byte("c1"), "base.ogg": []byte("a")})
	b, store := newBuilder(t, root)
	ctx := context.Background()

	snap := catalogueWith(t, []catalog.Song{{
		ID: "abc", Set: "free", Purchase: "", RemoteDL: true,
		Difficulties: []catalog.Difficulty{{RatingClass: 0}},
	}}, "free", "single")
	store.SetFilter(snap)
	if err := store.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	result, _, err := b.Build(ctx, BuildRequest{UserID: "u1", Snapshot: snap})
	if err != nil {
		t.Fatal(err)
	}
	sm := result["abc"]
	if sm == nil {
		t.Fatal("expected abc in result")
	}
	if _, ok := sm.Chart["1"]; ok {
		t.Error("expected 1.aff filtered out")
	}
	if sm.Chart["0"] == nil {
		t.Error("expected 0.aff present")
	}
}

func TestBuild_ratingClass3AudioOverride(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "abc", map[string][]byte{
		"3.aff":    []byte("c3"),
		"3.ogg":    []byte("override"),
		"base.ogg": []byte("base"),
	})
	b, store := newBuilder(t, root)
	ctx := context.Background()

	snap := catalogueWith(t, []catalog.Song{{
		ID: "abc", Set: "free", Purchase: "", RemoteDL: true,
		Difficulties: []catalog.Difficulty{{RatingClass: 3, AudioOverride: true}},
	}}, "free", "single")
	store.SetFilter(snap)
	if err := store.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	result, _, err := b.Build(ctx, BuildRequest{UserID: "u1", Snapshot: snap})
	if err != nil {
		t.Fatal(err)
	}
	sm := result["abc"]
	if sm == nil {
		t.Fatal("expected abc present")
	}
	if sm.Audio == nil || sm.Audio.Checksum != md5Hex([]byte("base")) {
		t.Errorf("audio.checksum = %+v", sm.Audio)
	}
	if sm.Audio.Three == nil || sm.Audio.Three.Checksum != md5Hex([]byte("override")) {
		t.Errorf("audio[3] = %+v", sm.Audio.Three)
	}
	if sm.Chart["3"] == nil || sm.Chart["3"].Checksum != md5Hex([]byte("c3")) {
		t.Errorf("chart[3] = %+v", sm.Chart["3"])
	}
}

func TestBuild_remoteDLFalseOnlyChart3(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "abc", map[string][]byte{
		"0.aff": []byte("c0"),
		"3.aff": []byte("c3"),
	})
	b, store := newBuilder(t, root)
	ctx := context.Background()

	snap := catalogueWith(t, []catalog.Song{{
		ID: "abc", Set: "free", Purchase: "", RemoteDL: false,
		Difficulties: []catalog.Difficulty{{RatingClass: 0}, {RatingClass: 3}},
	}}, "free", "single")
	store.SetFilter(snap)
	if err := store.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	result, _, err := b.Build(ctx, BuildRequest{UserID: "u1", Snapshot: snap})
	if err != nil {
		t.Fatal(err)
	}
	sm := result["abc"]
	if sm == nil {
		t.Fatal("expected abc present")
	}
	if _, ok := sm.Chart["0"]; ok {
		t.Error("expected 0.aff filtered under remote_dl=false")
	}
	if sm.Chart["3"] == nil {
		t.Error("expected 3.aff present under remote_dl=false")
	}
}

func TestBuild_forbidWhenNoItemFiltersByEntitlement(t *testing.T) {
	root := t.TempDir()
	writeSong(t, root, "locked", map[string][]byte{"base.ogg": []byte("a")})
	writeSong(t, root, "free-song", map[string][]byte{"base.ogg": []byte("b")})
	b, store := newBuilder(t, root)
	b.ForbidWhenNoItem = true
	ctx := context.Background()

	snap := catalogueWith(t, []catalog.Song{
		{ID: "locked", Set: "packA", Purchase: "packA", RemoteDL: true},
		{ID: "free-song", Set: "free", Purchase: "", RemoteDL: true},
	}, "free", "single")
	store.SetFilter(snap)
	if err := store.SyncAll(ctx); err != nil {
		t.Fatal(err)
	}

	result, _, err := b.Build(ctx, BuildRequest{UserID: "u1", Snapshot: snap, User: &catalog.User{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := result["locked"]; ok {
		t.Error("expected locked song excluded without entitlement")
	}
	if _, ok := result["free-song"]; !ok {
		t.Error("expected free song included")
	}
}
