// Package repository writes converted history into git repositories through
// git fast-import, keeping the per-branch mark history needed to create
// branches, infer merges and resume an interrupted conversion.
package repository

import (
	"io"
	"time"

	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/sirupsen/logrus"
	"github.com/warpfork/go-errcat"
)

// Mode - where fast-import commands go
type Mode int

const (
	ModeGit    Mode = iota // git fast-import into a bare repository
	ModeDump               // the stream is written to <name>.fi
	ModeDryRun             // nothing is written anywhere
)

// Options common to all repositories of a run
type Options struct {
	WorkDir        string
	Mode           Mode
	FastImportArgs []string // e.g. git fast-import
	CommitInterval int      // Commits between checkpoints
	CloseTimeout   time.Duration
	AddMetadata    bool
}

// Repository - a conversion target
type Repository interface {
	Name() string
	// EffectiveName is the repository actually written to, which differs for forwarding repositories
	EffectiveName() string
	HasPrefix() bool
	// SetupIncremental replays the protocol log, returning the first revision still to convert.
	// It may lower cutoff when the log is ahead of the marks git has saved.
	SetupIncremental(cutoff *int) (int, error)
	RestoreLog() error
	CreateBranch(branch string, revnum int, branchFrom string, revFrom int) error
	DeleteBranch(branch string, revnum int) error
	NewTransaction(branch string, svnprefix string, revnum int) (Transaction, error)
	CreateAnnotatedTag(ref string, svnprefix string, revnum int, author string, dt time.Time, log string)
	FinalizeTags() error
	// Commit writes the branch resets and deletions queued during the current revision
	Commit() error
}

// Transaction - changes to one branch of one repository in one svn revision
type Transaction interface {
	SetAuthor(author string)
	SetDateTime(dt time.Time)
	SetLog(log string)
	NoteCopyFromBranch(branchFrom string, branchRevNum int)
	DeleteFile(path string)
	// AddFile streams length bytes of content into a new blob
	AddFile(path string, mode libfastimport.Mode, length int64, content io.Reader) error
	Commit() error
}

// NewRepositories creates a repository per declaration, returned both by name
// and in declaration order. Forwarding repositories are created after their
// targets regardless of declaration order.
func NewRepositories(logger *logrus.Logger, decls []*rules.Repository, opts Options, cache *ProcessCache) (map[string]Repository, []Repository, error) {
	byName := make(map[string]Repository)
	for _, d := range decls {
		if d.ForwardTo != "" {
			continue
		}
		r, err := NewFastImport(logger, d, opts, cache)
		if err != nil {
			return nil, nil, err
		}
		byName[d.Name] = r
	}
	pending := make([]*rules.Repository, 0)
	for _, d := range decls {
		if d.ForwardTo != "" {
			pending = append(pending, d)
		}
	}
	for len(pending) > 0 {
		progress := false
		remaining := make([]*rules.Repository, 0)
		for _, d := range pending {
			target, ok := byName[d.ForwardTo]
			if !ok {
				remaining = append(remaining, d)
				continue
			}
			logger.Debugf("Repository %s forwards to %s with prefix '%s'", d.Name, d.ForwardTo, d.Prefix)
			byName[d.Name] = NewForwarding(d.Name, target, d.Prefix)
			progress = true
		}
		if !progress {
			return nil, nil, errcat.Errorf(errkind.ErrConfig, "repository %s forwards to %s which is never created", remaining[0].Name, remaining[0].ForwardTo)
		}
		pending = remaining
	}
	ordered := make([]Repository, 0, len(decls))
	for _, d := range decls {
		ordered = append(ordered, byName[d.Name])
	}
	return byName, ordered, nil
}
