package source

import (
	"bytes"
	"io"
	"time"

	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/node"
	"github.com/warpfork/go-errcat"
)

// Memory - a Source held entirely in memory, built one revision at a time.
// Revision 0 is the empty tree.
type Memory struct {
	revs []*MemoryRevision
}

// NewMemory - repository containing only revision 0
func NewMemory() *Memory {
	m := &Memory{}
	m.revs = append(m.revs, &MemoryRevision{tree: &node.Node{}})
	return m
}

// Youngest - latest revision number
func (m *Memory) Youngest() (int, error) {
	return len(m.revs) - 1, nil
}

// Open - a committed revision
func (m *Memory) Open(rev int) (Revision, error) {
	if rev < 0 || rev >= len(m.revs) {
		return nil, errcat.Errorf(errkind.ErrSource, "no such revision r%d", rev)
	}
	return m.revs[rev], nil
}

// NewRevision starts a revision from a copy of the youngest tree
func (m *Memory) NewRevision(author string, date time.Time, log string) *MemoryRevision {
	prev := m.revs[len(m.revs)-1]
	r := &MemoryRevision{
		m:     m,
		rev:   len(m.revs),
		tree:  prev.tree.Clone(""),
		props: RevProps{Author: author, Date: date, Log: []byte(log)},
	}
	m.revs = append(m.revs, r)
	return r
}

// MemoryRevision - one revision of a Memory source
type MemoryRevision struct {
	m       *Memory
	rev     int
	tree    *node.Node
	props   RevProps
	changes []Change
}

func (r *MemoryRevision) record(c Change) {
	for i := range r.changes {
		if r.changes[i].Path == c.Path {
			if r.changes[i].Kind == Delete && c.Kind != Delete {
				c.Kind = Replace
			}
			r.changes[i] = c
			return
		}
	}
	r.changes = append(r.changes, c)
}

// AddFile adds or modifies a file
func (r *MemoryRevision) AddFile(path string, content string, props node.FileProps) *MemoryRevision {
	kind := Add
	if r.tree.FindFile(path) {
		kind = Modify
	}
	r.tree.AddFile(path, []byte(content), props)
	r.record(Change{Path: normPath(path), Kind: kind})
	return r
}

// AddDir adds an empty directory
func (r *MemoryRevision) AddDir(path string) *MemoryRevision {
	r.tree.AddDir(path)
	r.record(Change{Path: normPath(path), Kind: Add})
	return r
}

// Copy copies fromPath at fromRev to path
func (r *MemoryRevision) Copy(path string, fromPath string, fromRev int) *MemoryRevision {
	src := r.m.revs[fromRev].tree.Lookup(fromPath)
	if src == nil {
		panic("copy from missing path " + fromPath)
	}
	kind := Add
	if r.tree.Lookup(path) != nil {
		kind = Replace
	}
	r.tree.Graft(path, src)
	r.record(Change{Path: normPath(path), Kind: kind, CopyFromPath: normPath(fromPath), CopyFromRev: fromRev})
	return r
}

// Delete removes a file or directory
func (r *MemoryRevision) Delete(path string) *MemoryRevision {
	r.tree.Delete(path)
	r.record(Change{Path: normPath(path), Kind: Delete})
	return r
}

// Touch records a property change on an existing path
func (r *MemoryRevision) Touch(path string) *MemoryRevision {
	r.record(Change{Path: normPath(path), Kind: Modify})
	return r
}

func (r *MemoryRevision) Number() int {
	return r.rev
}

func (r *MemoryRevision) Changes() ([]Change, error) {
	result := make([]Change, len(r.changes))
	copy(result, r.changes)
	return result, nil
}

func (r *MemoryRevision) Props() (RevProps, error) {
	return r.props, nil
}

func (r *MemoryRevision) Exists(path string) (bool, error) {
	return r.tree.Lookup(path) != nil, nil
}

func (r *MemoryRevision) IsDir(path string) (bool, error) {
	n := r.tree.Lookup(path)
	return n != nil && !n.IsFile, nil
}

func (r *MemoryRevision) file(path string) (*node.Node, error) {
	n := r.tree.Lookup(path)
	if n == nil || !n.IsFile {
		return nil, errcat.Errorf(errkind.ErrSource, "no file %s in r%d", path, r.rev)
	}
	return n, nil
}

func (r *MemoryRevision) FileLength(path string) (int64, error) {
	n, err := r.file(path)
	if err != nil {
		return 0, err
	}
	return int64(len(n.Content)), nil
}

func (r *MemoryRevision) FileContents(path string) (io.ReadCloser, error) {
	n, err := r.file(path)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(n.Content)), nil
}

func (r *MemoryRevision) IsExecutable(path string) (bool, error) {
	n, err := r.file(path)
	if err != nil {
		return false, err
	}
	return n.Executable, nil
}

func (r *MemoryRevision) IsSymlink(path string) (bool, error) {
	n, err := r.file(path)
	if err != nil {
		return false, err
	}
	return n.Symlink, nil
}

func (r *MemoryRevision) List(path string) ([]Entry, error) {
	n := r.tree.Lookup(path)
	if n == nil || n.IsFile {
		return nil, errcat.Errorf(errkind.ErrSource, "no directory %s in r%d", path, r.rev)
	}
	entries := make([]Entry, 0)
	for _, c := range n.List() {
		entries = append(entries, Entry{Name: c.Name, IsDir: !c.IsFile})
	}
	return entries, nil
}
