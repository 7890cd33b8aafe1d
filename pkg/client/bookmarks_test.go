package client

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBookmarkStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relaychat", "servers.yaml")

	bs := NewBookmarkStore(path)
	if err := bs.Load(); err != nil {
		t.Fatalf("Load missing file: %v", err)
	}
	if bs.MostRecent() != nil {
		t.Fatal("MostRecent on empty store should be nil")
	}

	if !bs.Add(Bookmark{Addr: "chat.example:1967", Name: "alice", LastUsed: 100}) {
		t.Fatal("first Add should report a new entry")
	}
	bs.Add(Bookmark{Addr: "127.0.0.1:1967", Name: "bob", LastUsed: 50})
	if bs.Add(Bookmark{Addr: "127.0.0.1:1967", Name: "bobby", LastUsed: 200}) {
		t.Fatal("Add for a known address should update in place")
	}
	if err := bs.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewBookmarkStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []Bookmark{
		{Addr: "chat.example:1967", Name: "alice", LastUsed: 100},
		{Addr: "127.0.0.1:1967", Name: "bobby", LastUsed: 200},
	}
	if diff := cmp.Diff(want, reloaded.Bookmarks); diff != "" {
		t.Fatalf("bookmarks (-want +got):\n%s", diff)
	}

	if got := reloaded.MostRecent(); got == nil || got.Name != "bobby" {
		t.Fatalf("MostRecent = %+v, want bobby", got)
	}
	if got := reloaded.FindByAddr("chat.example:1967"); got == nil || got.Name != "alice" {
		t.Fatalf("FindByAddr = %+v", got)
	}
	if reloaded.FindByAddr("nowhere:1") != nil {
		t.Fatal("FindByAddr should return nil for unknown address")
	}
}
