package stack

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"
)

// MemorySnapshot is a Snapshot held in memory.
type MemorySnapshot map[string]File

// File implements Snapshot.
func (m MemorySnapshot) File(path string) (File, bool) {
	f, ok := m[path]

	return f, ok
}

// MemoryRevision is a Revision held in memory.
type MemoryRevision struct {
	RevID   string
	Message string
	Files   MemorySnapshot
	// Copies maps a path to the path it was copied or renamed from.
	Copies  map[string]string
	Changed []string
}

// ID implements Revision.
func (r *MemoryRevision) ID() string { return r.RevID }

// Description implements Revision.
func (r *MemoryRevision) Description() string { return r.Message }

// File implements Revision.
func (r *MemoryRevision) File(path string) (File, bool) { return r.Files.File(path) }

// Paths implements Revision.
func (r *MemoryRevision) Paths() []string {
	return slices.Sorted(maps.Keys(r.Files))
}

// ChangedFiles implements Revision.
func (r *MemoryRevision) ChangedFiles() []string { return r.Changed }

// CopySource implements Revision.
func (r *MemoryRevision) CopySource(path string) (string, bool) {
	source, ok := r.Copies[path]

	return source, ok
}

// ChangedBetween lists the paths whose content or mode differ between two
// snapshots, including paths present in only one of them.
func ChangedBetween(parent, child MemorySnapshot) []string {
	var paths []string

	for path, f := range child {
		if previous, ok := parent[path]; !ok || !previous.Equal(f) {
			paths = append(paths, path)
		}
	}

	for path := range parent {
		if _, ok := child[path]; !ok {
			paths = append(paths, path)
		}
	}

	slices.Sort(paths)

	return paths
}

// MemoryRewriter records rewritten revisions without touching any repository.
// It is used for dry runs and tests.
type MemoryRewriter struct {
	mu        sync.Mutex
	revisions map[string]*MemoryRevision
	parents   map[string]string
	order     []string
}

// NewMemoryRewriter creates an empty MemoryRewriter.
func NewMemoryRewriter() *MemoryRewriter {
	return &MemoryRewriter{
		revisions: make(map[string]*MemoryRevision),
		parents:   make(map[string]string),
	}
}

// Rewrite implements Rewriter. New ids are "rewritten-N" in creation order.
func (m *MemoryRewriter) Rewrite(_ context.Context, rev Revision, parentID string, overrides map[string][]byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := make(MemorySnapshot)

	for _, path := range rev.Paths() {
		f, _ := rev.File(path)
		if content, ok := overrides[path]; ok {
			f.Content = content
		}

		files[path] = f
	}

	id := "rewritten-" + strconv.Itoa(len(m.order)+1)
	m.revisions[id] = &MemoryRevision{
		RevID:   id,
		Message: rev.Description(),
		Files:   files,
		Changed: slices.Sorted(maps.Keys(overrides)),
	}
	m.parents[id] = parentID
	m.order = append(m.order, id)

	return id, nil
}

// Revision returns a revision created by Rewrite.
func (m *MemoryRewriter) Revision(id string) (*MemoryRevision, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rev, ok := m.revisions[id]

	return rev, ok
}

// Parent returns the parent id a revision was created on.
func (m *MemoryRewriter) Parent(id string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.parents[id]
}

// Created returns the ids of the created revisions in creation order.
func (m *MemoryRewriter) Created() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return slices.Clone(m.order)
}
