// Package source reads subversion revisions: the changed paths, revision
// properties and file contents the exporter needs.
package source

import (
	"io"
	"time"
)

// ChangeKind - kind of change made to a path
type ChangeKind int

const (
	Add ChangeKind = iota
	Modify
	Delete
	Replace
	Reset
)

func (k ChangeKind) String() string {
	switch k {
	case Add:
		return "add"
	case Modify:
		return "modify"
	case Delete:
		return "delete"
	case Replace:
		return "replace"
	}
	return "reset"
}

// Change - one changed path in a revision. Path always starts with "/" and has no trailing "/".
type Change struct {
	Path         string
	Kind         ChangeKind
	CopyFromPath string // Empty unless copied
	CopyFromRev  int
}

// RevProps - revision properties
type RevProps struct {
	Author string
	Date   time.Time
	Log    []byte // As stored, possibly not UTF-8
}

// Entry - a directory entry
type Entry struct {
	Name  string
	IsDir bool
}

// Revision - read access to one revision's tree
type Revision interface {
	Number() int
	Changes() ([]Change, error)
	Props() (RevProps, error)
	// Exists is false for paths not present in this revision
	Exists(path string) (bool, error)
	IsDir(path string) (bool, error)
	FileLength(path string) (int64, error)
	FileContents(path string) (io.ReadCloser, error)
	IsExecutable(path string) (bool, error)
	IsSymlink(path string) (bool, error)
	// List returns the immediate children of a directory sorted by name
	List(path string) ([]Entry, error)
}

// Source - a subversion repository
type Source interface {
	Youngest() (int, error)
	Open(rev int) (Revision, error)
}
