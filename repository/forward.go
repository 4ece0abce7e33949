package repository

import (
	"io"
	"time"

	libfastimport "github.com/rcowham/go-libgitfastimport"
)

// Forwarding - a repository whose content goes into another one under a path prefix
type Forwarding struct {
	name   string
	target Repository
	prefix string
}

// NewForwarding - forward name to target, prefixing every file path with prefix
func NewForwarding(name string, target Repository, prefix string) *Forwarding {
	return &Forwarding{name: name, target: target, prefix: prefix}
}

func (f *Forwarding) Name() string {
	return f.name
}

func (f *Forwarding) EffectiveName() string {
	return f.target.EffectiveName()
}

func (f *Forwarding) HasPrefix() bool {
	return f.prefix != "" || f.target.HasPrefix()
}

// The target replays its own log
func (f *Forwarding) SetupIncremental(cutoff *int) (int, error) {
	return 1, nil
}

func (f *Forwarding) RestoreLog() error {
	return nil
}

func (f *Forwarding) CreateBranch(branch string, revnum int, branchFrom string, revFrom int) error {
	return f.target.CreateBranch(branch, revnum, branchFrom, revFrom)
}

func (f *Forwarding) DeleteBranch(branch string, revnum int) error {
	return f.target.DeleteBranch(branch, revnum)
}

func (f *Forwarding) NewTransaction(branch string, svnprefix string, revnum int) (Transaction, error) {
	t, err := f.target.NewTransaction(branch, svnprefix, revnum)
	if err != nil {
		return nil, err
	}
	return &forwardingTransaction{Transaction: t, prefix: f.prefix}, nil
}

func (f *Forwarding) CreateAnnotatedTag(ref string, svnprefix string, revnum int, author string, dt time.Time, log string) {
	f.target.CreateAnnotatedTag(ref, svnprefix, revnum, author, dt, log)
}

func (f *Forwarding) FinalizeTags() error {
	return nil
}

func (f *Forwarding) Commit() error {
	return nil
}

type forwardingTransaction struct {
	Transaction
	prefix string
}

func (t *forwardingTransaction) DeleteFile(path string) {
	t.Transaction.DeleteFile(t.prefix + path)
}

func (t *forwardingTransaction) AddFile(path string, mode libfastimport.Mode, length int64, content io.Reader) error {
	return t.Transaction.AddFile(t.prefix+path, mode, length, content)
}
