package stack

import (
	"slices"

	"github.com/Sumatoshi-tech/absorb/pkg/fixup"
)

const (
	// baseIndex is the stack index of the immutable base revision.
	baseIndex = -1
	// emptyIndex marks the synthetic empty file used when a path is added
	// inside the stack.
	emptyIndex = -2
)

// fileID identifies one version of a file: the revision that introduced it
// and its path there. Unchanged files carried by later revisions share the id.
type fileID struct {
	index int
	path  string
}

// chainRef locates the file a stack revision holds for an absorbed path.
type chainRef struct {
	path     string
	position int
}

// chain is the file history of one absorbed path.
type chain struct {
	ids   []fileID
	files []File
	// refs maps mutable stack indexes to their file in the chain.
	refs map[int]chainRef
}

func (c *chain) entries() []fixup.Entry {
	entries := make([]fixup.Entry, len(c.files))
	for i, f := range c.files {
		entries[i] = fixup.Entry{Content: f.Content, Immutable: i == 0}
	}

	return entries
}

// revision returns the stack revision at index, or the base for baseIndex.
func (s *State) revision(index int) Revision {
	if index == baseIndex {
		return s.base
	}

	return s.revs[index]
}

// identity returns the id of the file at path in revision index.
func (s *State) identity(index int, path string) fileID {
	key := fileID{index: index, path: path}
	if id, ok := s.identities[key]; ok {
		return id
	}

	current, _ := s.revision(index).File(path)
	origin := index

	for origin > baseIndex {
		if _, copied := s.revs[origin].CopySource(path); copied {
			break
		}

		prev, ok := s.revision(origin - 1).File(path)
		if !ok || !prev.Equal(current) {
			break
		}

		origin--
	}

	id := fileID{index: origin, path: path}
	s.identities[key] = id

	return id
}

// buildChain walks the stack from the top and collects the versions of path,
// following renames but not copies. A version already claimed by an earlier
// path becomes the immutable base of this chain.
func (s *State) buildChain(path string, seen map[fileID]bool) *chain {
	c := &chain{refs: make(map[int]chainRef)}

	parent := baseIndex
	needBase := true

	for i := len(s.revs) - 1; i >= 0; i-- {
		rev := s.revs[i]

		f, ok := rev.File(path)
		if !ok {
			// Added by the next revision.
			parent = i

			break
		}

		id := s.identity(i, path)
		c.ids = append(c.ids, id)
		c.files = append(c.files, f)

		if seen[id] {
			needBase = false

			break
		}

		c.refs[i] = chainRef{path: path}

		source, renamed := rev.CopySource(path)
		if !renamed {
			continue
		}

		path = source
		if _, stillThere := rev.File(source); stillThere {
			// A copy: the source keeps its own history.
			parent = i - 1

			break
		}
	}

	if needBase {
		if f, ok := s.revision(parent).File(path); ok {
			c.ids = append(c.ids, s.identity(parent, path))
			c.files = append(c.files, f)
		} else {
			c.ids = append(c.ids, fileID{index: emptyIndex})
			c.files = append(c.files, File{})
		}
	}

	slices.Reverse(c.ids)
	slices.Reverse(c.files)
	c.dedup()

	for index, ref := range c.refs {
		ref.position = slices.Index(c.ids, s.identity(index, ref.path))
		c.refs[index] = ref
	}

	return c
}

// dedup drops repeated ids, keeping the first occurrence.
func (c *chain) dedup() {
	ids := c.ids[:0]
	files := c.files[:0]

	for i, id := range c.ids {
		if slices.Contains(ids, id) {
			continue
		}

		ids = append(ids, id)
		files = append(files, c.files[i])
	}

	c.ids = ids
	c.files = files
}

// introducer returns the stack index that introduced the file at chain
// position pos, or false for the base and the synthetic empty file.
func (c *chain) introducer(pos int) (int, bool) {
	index := c.ids[pos].index

	return index, index >= 0
}
