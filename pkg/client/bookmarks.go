package client

import (
	"cmp"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Bookmark represents a saved server and the name last used on it.
type Bookmark struct {
	Addr     string `yaml:"addr"`
	Name     string `yaml:"name"`
	LastUsed int64  `yaml:"last_used,omitempty"` // unix seconds
}

// BookmarkStore manages server bookmarks stored as YAML.
type BookmarkStore struct {
	path      string
	Bookmarks []Bookmark `yaml:"bookmarks"`
}

// DefaultBookmarkPath returns servers.yaml in the user config directory,
// falling back to the working directory.
func DefaultBookmarkPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "servers.yaml"
	}
	return filepath.Join(dir, "relaychat", "servers.yaml")
}

// NewBookmarkStore creates a bookmark store backed by the file at path.
func NewBookmarkStore(path string) *BookmarkStore {
	return &BookmarkStore{path: path}
}

// Load reads bookmarks from disk. A missing file yields an empty list.
func (bs *BookmarkStore) Load() error {
	data, err := os.ReadFile(bs.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			bs.Bookmarks = nil
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, bs)
}

// Save writes bookmarks to disk, creating the parent directory if needed.
func (bs *BookmarkStore) Save() error {
	data, err := yaml.Marshal(bs)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(bs.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(bs.path, data, 0o600)
}

// Add adds or updates the bookmark for b.Addr. Returns true if it was a new entry.
func (bs *BookmarkStore) Add(b Bookmark) bool {
	for i, existing := range bs.Bookmarks {
		if existing.Addr == b.Addr {
			bs.Bookmarks[i] = b
			return false
		}
	}
	bs.Bookmarks = append(bs.Bookmarks, b)
	return true
}

// FindByAddr returns the bookmark for addr, or nil.
func (bs *BookmarkStore) FindByAddr(addr string) *Bookmark {
	for _, b := range bs.Bookmarks {
		if b.Addr == addr {
			return &b
		}
	}
	return nil
}

// MostRecent returns the most recently used bookmark, or nil if there are none.
func (bs *BookmarkStore) MostRecent() *Bookmark {
	if len(bs.Bookmarks) == 0 {
		return nil
	}
	b := slices.MaxFunc(bs.Bookmarks, func(a, b Bookmark) int {
		return cmp.Compare(a.LastUsed, b.LastUsed)
	})
	return &b
}
