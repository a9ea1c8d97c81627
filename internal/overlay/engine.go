// Package overlay holds local edits to the files of an inspected build source
// and merges them with each fresh snapshot reported by the gateway.
package overlay

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/splax/faasdeck/internal/domain"
)

// ErrInvalidPath is returned for empty, absolute or escaping file paths.
var ErrInvalidPath = errors.New("invalid file path")

// Engine is the working set of source files for one source key. It is safe
// for concurrent use.
type Engine struct {
	mu       sync.Mutex
	key      string
	source   domain.SourceSpec
	files    []domain.SourceFile
	selected string
	removed  map[string]struct{}
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{removed: make(map[string]struct{})}
}

// Key returns the source key the overlay currently belongs to.
func (e *Engine) Key() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.key
}

// Source returns the descriptor recorded by the last Seed.
func (e *Engine) Source() domain.SourceSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source
}

// Seed reconciles snapshot, a fresh listing of the source identified by key,
// into the overlay. A different key discards all local state first. For the
// same key, modified files keep their content and removed paths stay removed.
func (e *Engine) Seed(key string, source domain.SourceSpec, snapshot []domain.SourceFile) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if key != e.key {
		e.resetLocked()
		e.key = key
	}
	e.source = source

	held := make(map[string]domain.SourceFile, len(e.files))
	for _, f := range e.files {
		held[f.Path] = f
	}

	merged := make(map[string]domain.SourceFile, len(snapshot)+len(held))
	for _, incoming := range snapshot {
		p, err := cleanPath(incoming.Path)
		if err != nil {
			continue
		}
		if _, gone := e.removed[p]; gone {
			continue
		}
		if local, ok := held[p]; ok && local.Modified {
			local.Editable = incoming.Editable
			local.FromSource = true
			merged[p] = local
			continue
		}
		merged[p] = domain.SourceFile{
			Path:            p,
			Content:         incoming.Content,
			OriginalContent: incoming.Content,
			Editable:        incoming.Editable,
			Modified:        false,
			FromSource:      true,
		}
	}
	for p, local := range held {
		if !local.Modified {
			continue
		}
		if _, ok := merged[p]; ok {
			continue
		}
		if _, gone := e.removed[p]; gone {
			continue
		}
		merged[p] = local
	}

	e.files = sortedFiles(merged)
	e.resolveSelectionLocked()
}

// AddOrSelect selects the file at p, creating an empty editable file when it
// does not exist yet. Creating a previously removed path un-removes it.
func (e *Engine) AddOrSelect(p string) (domain.SourceFile, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return domain.SourceFile{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexLocked(clean); i >= 0 {
		e.selected = clean
		return e.files[i], nil
	}
	f := domain.SourceFile{Path: clean, Editable: true, Modified: true}
	delete(e.removed, clean)
	e.files = append(e.files, f)
	sort.Slice(e.files, func(i, j int) bool { return e.files[i].Path < e.files[j].Path })
	e.selected = clean
	return f, nil
}

// Select marks p as selected. It reports false when no such file exists.
func (e *Engine) Select(p string) bool {
	clean, err := cleanPath(p)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.indexLocked(clean) < 0 {
		return false
	}
	e.selected = clean
	return true
}

// Selected returns the selected file.
func (e *Engine) Selected() (domain.SourceFile, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i := e.indexLocked(e.selected); e.selected != "" && i >= 0 {
		return e.files[i], true
	}
	return domain.SourceFile{}, false
}

// Edit replaces the content of p. It is a no-op reporting false when the file
// is missing or read-only.
func (e *Engine) Edit(p, content string) bool {
	clean, err := cleanPath(p)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(clean)
	if i < 0 || !e.files[i].Editable {
		return false
	}
	e.files[i].Content = content
	e.files[i].Modified = true
	return true
}

// Remove drops p from the working set. Files that came from the source are
// recorded as removed so later seeds do not bring them back.
func (e *Engine) Remove(p string) bool {
	clean, err := cleanPath(p)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	i := e.indexLocked(clean)
	if i < 0 {
		return false
	}
	if e.files[i].FromSource {
		e.removed[clean] = struct{}{}
	}
	e.files = append(e.files[:i], e.files[i+1:]...)
	e.resolveSelectionLocked()
	return true
}

// Files returns a copy of the working set sorted by path.
func (e *Engine) Files() []domain.SourceFile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.SourceFile(nil), e.files...)
}

// RemovedPaths returns the removed source paths, sorted.
func (e *Engine) RemovedPaths() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removedLocked()
}

// Payload returns the source descriptor and the change-set to submit with
// it: every modified file as an upsert and every removed path as a deletion.
func (e *Engine) Payload() (domain.SourceSpec, []domain.FileChange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var changes []domain.FileChange
	for _, f := range e.files {
		if f.Modified {
			changes = append(changes, domain.FileChange{Path: f.Path, Content: f.Content})
		}
	}
	for _, p := range e.removedLocked() {
		changes = append(changes, domain.FileChange{Path: p, Remove: true})
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return e.source, changes
}

// Reset discards all overlay state including the key.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetLocked()
	e.key = ""
	e.source = domain.SourceSpec{}
}

func (e *Engine) resetLocked() {
	e.files = nil
	e.selected = ""
	e.removed = make(map[string]struct{})
}

func (e *Engine) resolveSelectionLocked() {
	if e.selected != "" && e.indexLocked(e.selected) < 0 {
		e.selected = ""
	}
}

func (e *Engine) indexLocked(p string) int {
	for i := range e.files {
		if e.files[i].Path == p {
			return i
		}
	}
	return -1
}

func (e *Engine) removedLocked() []string {
	out := make([]string, 0, len(e.removed))
	for p := range e.removed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func sortedFiles(files map[string]domain.SourceFile) []domain.SourceFile {
	out := make([]domain.SourceFile, 0, len(files))
	for _, f := range files {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// cleanPath normalises p to a slash separated path relative to the source root.
func cleanPath(p string) (string, error) {
	raw := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if raw == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	if strings.HasPrefix(raw, "/") {
		return "", fmt.Errorf("%w: %q must be relative", ErrInvalidPath, p)
	}
	clean := path.Clean(raw)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q escapes the source root", ErrInvalidPath, p)
	}
	return clean, nil
}
