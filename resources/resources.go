// Package resources implements the mod catalog and the resource-sync
// streaming protocol (spec.md §4.4), including the legacy split-file
// downloader compatibility described in spec.md §9 "Split-file download
// compatibility".
//
// Grounded on the teacher's blob store (internal/blob/store.go), which
// paired sqlite metadata with on-disk blob files; here the metadata is an
// in-memory catalog built once at startup by scanning a directory tree,
// and the blobs are the mod files themselves rather than uploaded
// attachments.
package resources

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BeamMP/BeamMP-Server/gameerr"
)

// FileEntry is one (path, size) pair in the catalog (spec.md §3
// "ModCatalog").
type FileEntry struct {
	Path string // normalized to begin with '/'
	Size int64
}

// Catalog is the immutable-after-boot mod catalog plus the on-disk root it
// was built from, used to resolve and stream individual files.
type Catalog struct {
	root    string
	entries []FileEntry
}

// BuildCatalog walks root (the server's `Client/` directory) and returns a
// Catalog listing every regular file found, in a deterministic
// (lexicographic) order.
func BuildCatalog(root string) (*Catalog, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resources: resolve root %s: %w", root, err)
	}

	var entries []FileEntry
	err = filepath.Walk(absRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return err
		}
		normalized := "/" + filepath.ToSlash(rel)
		entries = append(entries, FileEntry{Path: normalized, Size: info.Size()})
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return &Catalog{root: absRoot}, nil
		}
		return nil, fmt.Errorf("resources: walk %s: %w", root, err)
	}
	return &Catalog{root: absRoot, entries: entries}, nil
}

// Entries returns the catalog's (path, size) pairs.
func (c *Catalog) Entries() []FileEntry { return c.entries }

// CatalogFrame builds the `SR` reply payload (spec.md §4.4): a single byte
// `-` when the catalog is empty, otherwise `path1;path2;…;size1;size2;…;`.
func (c *Catalog) CatalogFrame() []byte {
	if len(c.entries) == 0 {
		return []byte("-")
	}
	var b strings.Builder
	for _, e := range c.entries {
		b.WriteString(e.Path)
		b.WriteByte(';')
	}
	for _, e := range c.entries {
		fmt.Fprintf(&b, "%d;", e.Size)
	}
	return []byte(b.String())
}

// ErrNotFound is returned by Resolve when path is not present in the
// catalog.
var ErrNotFound = fmt.Errorf("resources: file not found in catalog")

// Resolve maps a client-requested catalog path to an absolute filesystem
// path, rejecting anything that canonicalizes outside the catalog root
// (spec.md §4.4 "path must resolve inside the server's client-resource
// directory after canonicalization; reject with a kick otherwise"; §9
// "refuse requests for mods whose canonicalized path escapes the
// client-resource root").
func (c *Catalog) Resolve(path string) (string, int64, error) {
	for _, e := range c.entries {
		if e.Path != path {
			continue
		}
		full := filepath.Join(c.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
		real, err := filepath.Abs(full)
		if err != nil {
			return "", 0, gameerr.New(gameerr.Resource, "resources.resolve", err)
		}
		if !strings.HasPrefix(real, c.root+string(filepath.Separator)) && real != c.root {
			return "", 0, gameerr.New(gameerr.Resource, "resources.escape", fmt.Errorf("path %q escapes resource root", path))
		}
		return real, e.Size, nil
	}
	return "", 0, gameerr.New(gameerr.Resource, "resources.missing", fmt.Errorf("%w: %s", ErrNotFound, path))
}

// Cursor is one player's split-file download position.
type Cursor struct {
	Path   string
	Offset int64
}

// Progress is the mod-progress map (player id → downloader cursor)
// described by spec.md §5 ("Mod-progress map ... mutex-guarded; touched
// by both the main task and 'D'-path downloader tasks") and §9 ("a
// per-player cursor shared between the main sync path and the 'D'
// downloader; updates are guarded by one lock").
type Progress struct {
	mu      sync.Mutex
	cursors map[uint8]Cursor
}

// NewProgress returns an empty Progress map.
func NewProgress() *Progress {
	return &Progress{cursors: make(map[uint8]Cursor)}
}

// Set records the cursor for a player's in-flight split download.
func (p *Progress) Set(pid uint8, path string, offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cursors[pid] = Cursor{Path: path, Offset: offset}
}

// Get returns the cursor recorded for pid, if any.
func (p *Progress) Get(pid uint8) (Cursor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.cursors[pid]
	return c, ok
}

// Clear removes the cursor recorded for pid (spec.md §4.9 "clear the
// mod-progress record" on disconnect).
func (p *Progress) Clear(pid uint8) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cursors, pid)
}

// ReadFirstHalf opens the file at realPath and returns the first half of
// its bytes (spec.md §4.4 "stream the first half of the file bytes").
// Half-sizing rounds up so the two halves always sum to the full size.
func ReadFirstHalf(realPath string, size int64) ([]byte, error) {
	f, err := os.Open(realPath)
	if err != nil {
		return nil, gameerr.New(gameerr.Resource, "resources.open", err)
	}
	defer f.Close()

	half := (size + 1) / 2
	buf := make([]byte, half)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, gameerr.New(gameerr.Resource, "resources.read", err)
	}
	return buf, nil
}

// ReadSecondHalf opens the file at realPath and returns the bytes from
// offset to the end (spec.md §4.4 "'D' legacy downloader ... stream the
// second half").
func ReadSecondHalf(realPath string, offset int64) ([]byte, error) {
	f, err := os.Open(realPath)
	if err != nil {
		return nil, gameerr.New(gameerr.Resource, "resources.open", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, gameerr.New(gameerr.Resource, "resources.seek", err)
	}
	return io.ReadAll(f)
}
