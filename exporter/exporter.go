// Package exporter turns subversion revisions into commits, branch resets and
// tags on the target repositories, as directed by the match rules.
package exporter

import (
	"fmt"
	"unicode/utf8"

	"github.com/emirpasic/gods/maps/linkedhashmap"
	"github.com/rcowham/svn2gitfi/config"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/repository"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/rcowham/svn2gitfi/source"
	"github.com/sirupsen/logrus"
	"github.com/warpfork/go-errcat"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

// Options for an Exporter
type Options struct {
	Identities     config.IdentityMap
	IdentityDomain string
	LogEncoding    string // IANA name used to decode log messages which are not UTF-8
	DryRun         bool   // File contents are not read
	DebugRules     bool
}

// Exporter - converts revisions one at a time, in order
type Exporter struct {
	logger  *logrus.Logger
	src     source.Source
	engine  *rules.Engine
	repos   map[string]repository.Repository
	ordered []repository.Repository
	opts    Options
	decoder *encoding.Decoder
	Stats   *ContentStats
}

// NewExporter - repos and ordered are as returned by repository.NewRepositories
func NewExporter(logger *logrus.Logger, src source.Source, engine *rules.Engine,
	repos map[string]repository.Repository, ordered []repository.Repository, opts Options) (*Exporter, error) {
	e := &Exporter{
		logger:  logger,
		src:     src,
		engine:  engine,
		repos:   repos,
		ordered: ordered,
		opts:    opts,
		Stats:   newContentStats(),
	}
	if e.opts.IdentityDomain == "" {
		e.opts.IdentityDomain = config.DefaultIdentityDomain
	}
	if opts.LogEncoding != "" {
		enc, err := ianaindex.IANA.Encoding(opts.LogEncoding)
		if err != nil || enc == nil {
			return nil, errcat.Errorf(errkind.ErrConfig, "unsupported log encoding %s", opts.LogEncoding)
		}
		e.decoder = enc.NewDecoder()
	}
	return e, nil
}

// revision - the state of one revision being exported
type revision struct {
	e           *Exporter
	revnum      int
	root        source.Revision
	prev        source.Revision
	changes     map[string]source.Change
	txns        *linkedhashmap.Map // repository + branch -> repository.Transaction
	needCommit  bool
	propsLoaded bool
	author      string
	props       source.RevProps
	log         string
}

// ExportRevision converts one revision. Nothing is committed unless every
// changed path has been dispatched.
func (e *Exporter) ExportRevision(revnum int) error {
	root, err := e.src.Open(revnum)
	if err != nil {
		return err
	}
	changes, err := root.Changes()
	if err != nil {
		return err
	}
	sortChanges(changes)
	r := &revision{
		e:       e,
		revnum:  revnum,
		root:    root,
		changes: make(map[string]source.Change, len(changes)),
		txns:    linkedhashmap.New(),
	}
	for _, c := range changes {
		r.changes[c.Path] = c
	}
	for _, c := range changes {
		if err := r.exportEntry(c); err != nil {
			return err
		}
	}
	if !r.needCommit {
		e.logger.Infof("Exporting revision %d: nothing to do", revnum)
		return nil
	}
	if err := r.commit(); err != nil {
		return err
	}
	e.logger.Infof("Exporting revision %d: done", revnum)
	return nil
}

// previous returns the tree of the revision before this one
func (r *revision) previous() (source.Revision, error) {
	if r.prev == nil {
		prev, err := r.e.src.Open(r.revnum - 1)
		if err != nil {
			return nil, err
		}
		r.prev = prev
	}
	return r.prev, nil
}

// wasDir reports whether path was a directory in revision rev
func (r *revision) wasDir(rev int, path string) (bool, error) {
	if rev < 0 {
		return false, nil
	}
	var root source.Revision
	var err error
	if rev == r.revnum-1 {
		root, err = r.previous()
	} else {
		root, err = r.e.src.Open(rev)
	}
	if err != nil {
		return false, err
	}
	return root.IsDir(path)
}

// fetchRevProps loads author, date and log once per revision
func (r *revision) fetchRevProps() error {
	if r.propsLoaded {
		return nil
	}
	props, err := r.root.Props()
	if err != nil {
		return err
	}
	r.props = props
	r.log = r.e.decodeLog(props.Log)
	r.author = r.e.authorIdent(props.Author)
	r.propsLoaded = true
	return nil
}

func (e *Exporter) authorIdent(user string) string {
	if ident, ok := e.opts.Identities[user]; ok && ident != "" {
		return ident
	}
	if user == "" {
		return "nobody <nobody@localhost>"
	}
	return fmt.Sprintf("%s <%s@%s>", user, user, e.opts.IdentityDomain)
}

func (e *Exporter) decodeLog(log []byte) string {
	if utf8.Valid(log) || e.decoder == nil {
		return string(log)
	}
	decoded, err := e.decoder.Bytes(log)
	if err != nil {
		e.logger.Warnf("failed to decode log message: %v", err)
		return string(log)
	}
	return string(decoded)
}

func txnKey(repo string, branch string) string {
	return repo + "\x00" + branch
}

// transaction returns the open transaction for repo and branch, creating it if needed
func (r *revision) transaction(repo repository.Repository, repoName string, branch string, svnprefix string) (repository.Transaction, error) {
	key := txnKey(repoName, branch)
	if txn, found := r.txns.Get(key); found {
		return txn.(repository.Transaction), nil
	}
	txn, err := repo.NewTransaction(branch, svnprefix, r.revnum)
	if err != nil {
		return nil, err
	}
	r.txns.Put(key, txn)
	return txn, nil
}

// commit writes queued branch operations for every repository, then each transaction
func (r *revision) commit() error {
	if err := r.fetchRevProps(); err != nil {
		return err
	}
	for _, repo := range r.e.ordered {
		if err := repo.Commit(); err != nil {
			return err
		}
	}
	it := r.txns.Iterator()
	for it.Next() {
		txn := it.Value().(repository.Transaction)
		txn.SetAuthor(r.author)
		txn.SetDateTime(r.props.Date)
		txn.SetLog(r.log)
		if err := txn.Commit(); err != nil {
			return err
		}
	}
	return nil
}
