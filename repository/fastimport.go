package repository

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/journal"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/sirupsen/logrus"
	"github.com/warpfork/go-errcat"
	srcd_git "gopkg.in/src-d/go-git.v4"
)

const nullSha = "0000000000000000000000000000000000000000"

// AnnotatedTag - recorded during the run, written by FinalizeTags
type AnnotatedTag struct {
	SupportingRef string
	Svnprefix     string
	Revnum        int
	Author        string
	Date          time.Time
	Log           string
}

// FastImport - a repository written by its own fast-import process
type FastImport struct {
	logger          *logrus.Logger
	name            string
	description     string
	opts            Options
	cache           *ProcessCache
	branches        *BranchTable
	tags            map[string]*AnnotatedTag
	deletedBranches []libfastimport.Cmd
	resetBranches   []libfastimport.Cmd
	marks           markAllocator
	commitCount     int
	outstanding     int // Transactions not yet committed
	proc            *process
}

// NewFastImport - create the repository state, and in git mode the bare repository itself
func NewFastImport(logger *logrus.Logger, decl *rules.Repository, opts Options, cache *ProcessCache) (*FastImport, error) {
	if opts.CommitInterval <= 0 {
		opts.CommitInterval = 10000
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = 30 * time.Second
	}
	r := &FastImport{
		logger:      logger,
		name:        decl.Name,
		description: decl.Description,
		opts:        opts,
		cache:       cache,
		branches:    newBranchTable(),
		tags:        make(map[string]*AnnotatedTag),
		marks:       newMarkAllocator(),
	}
	for _, b := range decl.Branches {
		r.branches.Declare(b)
	}
	r.branches.Declare("master")
	if opts.Mode == ModeGit {
		if err := r.initRepository(); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func sanitize(name string) string {
	return strings.ReplaceAll(name, "/", "_")
}

func (r *FastImport) repoDir() string {
	return filepath.Join(r.opts.WorkDir, r.name)
}

func (r *FastImport) marksFileName() string {
	return filepath.Join(r.repoDir(), "marks-"+sanitize(r.name))
}

func (r *FastImport) logFileName() string {
	return filepath.Join(r.opts.WorkDir, "log-"+sanitize(r.name))
}

func (r *FastImport) dumpFileName() string {
	return filepath.Join(r.opts.WorkDir, sanitize(r.name)+".fi")
}

func (r *FastImport) initRepository() error {
	dir := r.repoDir()
	if _, err := os.Stat(dir); err == nil {
		return nil
	}
	r.logger.Infof("Creating new repository %s", dir)
	if _, err := srcd_git.PlainInit(dir, true); err != nil {
		return errcat.Errorf(errkind.ErrBackend, "failed to create repository %s: %v", dir, err)
	}
	if r.description != "" {
		if err := os.WriteFile(filepath.Join(dir, "description"), []byte(r.description+"\n"), 0644); err != nil {
			return errcat.Errorf(errkind.ErrBackend, "failed to write description for %s: %v", dir, err)
		}
	}
	// fast-import refuses to import a marks file that does not exist
	f, err := os.Create(r.marksFileName())
	if err != nil {
		return errcat.Errorf(errkind.ErrBackend, "failed to create marks file for %s: %v", dir, err)
	}
	return f.Close()
}

func (r *FastImport) Name() string {
	return r.name
}

func (r *FastImport) EffectiveName() string {
	return r.name
}

func (r *FastImport) HasPrefix() bool {
	return false
}

// Branches - the branch table, for inspection
func (r *FastImport) Branches() *BranchTable {
	return r.branches
}

// LastCommitMark - highest commit mark allocated
func (r *FastImport) LastCommitMark() int {
	return r.marks.lastCommitMark
}

func (r *FastImport) backendError(err error) error {
	return errcat.Errorf(errkind.ErrBackend, "fast-import for repository %s: %v", r.name, err)
}

// do sends commands to fast-import and the protocol log
func (r *FastImport) do(cmds ...libfastimport.Cmd) error {
	if err := r.startFastImport(); err != nil {
		return err
	}
	for _, cmd := range cmds {
		if err := r.proc.backend.Do(cmd); err != nil {
			return r.backendError(err)
		}
		if err := r.proc.log.Do(cmd); err != nil {
			return err
		}
	}
	if err := r.proc.w.Flush(); err != nil {
		return r.backendError(err)
	}
	return nil
}

// writeBlob streams content to fast-import only; blobs are not logged.
// In dry-run mode content is not read and may be nil.
func (r *FastImport) writeBlob(mark int, length int64, content io.Reader) error {
	if r.opts.Mode == ModeDryRun {
		return nil
	}
	if err := r.startFastImport(); err != nil {
		return err
	}
	w := r.proc.w
	if _, err := fmt.Fprintf(w, "blob\nmark :%d\ndata %d\n", mark, length); err != nil {
		return r.backendError(err)
	}
	n, err := io.CopyN(w, content, length)
	if err != nil {
		if err == io.EOF {
			return errcat.Errorf(errkind.ErrSource, "blob :%d for repository %s: expected %d bytes, got %d", mark, r.name, length, n)
		}
		return r.backendError(err)
	}
	if _, err := w.WriteString("\n"); err != nil {
		return r.backendError(err)
	}
	if err := w.Flush(); err != nil {
		return r.backendError(err)
	}
	return nil
}

func (r *FastImport) CreateBranch(branch string, revnum int, branchFrom string, revFrom int) error {
	mark, desc, found := r.branches.ResolveMark(branchFrom, revFrom)
	desc = "from branch " + branchFrom + desc
	if !found {
		return errcat.Errorf(errkind.ErrMissingBranch,
			"%s in repository %s is branching from branch %s but the latter doesn't exist at r%d", branch, r.name, branchFrom, revFrom)
	}
	resetTo := fmt.Sprintf(":%d", mark)
	if mark == 0 {
		r.logger.Warnf("%s in repository %s is branching but no exported commits exist in repository, creating an empty branch", branch, r.name)
		resetTo = branchRef(branchFrom)
		desc += ", deleted/unknown"
	}
	r.logger.Debugf("Creating branch: %s from %s (%d %s)", branch, branchFrom, revFrom, desc)
	r.resetBranch(branch, revnum, mark, resetTo, desc)
	return nil
}

func (r *FastImport) DeleteBranch(branch string, revnum int) error {
	r.resetBranch(branch, revnum, 0, nullSha, "delete")
	return nil
}

// resetBranch records the new tip and queues the reset, backing up an older
// tip that would otherwise be lost
func (r *FastImport) resetBranch(branch string, revnum int, mark int, resetTo string, comment string) {
	ref := branchRef(branch)
	br := r.branches.get(branch)
	cmds := make([]libfastimport.Cmd, 0, 3)
	if br.Created != 0 && br.Created != revnum && br.live() {
		backup := fmt.Sprintf("%s_%d", ref, revnum)
		r.logger.Warnf("backing up branch %s to %s", branch, backup)
		cmds = append(cmds, libfastimport.CmdReset{RefName: backup, CommitIsh: ref})
	}
	br.Created = revnum
	br.record(revnum, mark)
	cmds = append(cmds,
		libfastimport.CmdReset{RefName: ref, CommitIsh: resetTo},
		libfastimport.CmdProgress{Str: fmt.Sprintf("SVN r%d branch %s = :%d # %s", revnum, branch, mark, comment)})
	if comment == "delete" {
		r.deletedBranches = append(r.deletedBranches, cmds...)
	} else {
		r.resetBranches = append(r.resetBranches, cmds...)
	}
}

func (r *FastImport) Commit() error {
	if len(r.deletedBranches) == 0 && len(r.resetBranches) == 0 {
		return nil
	}
	cmds := append(r.deletedBranches, r.resetBranches...)
	r.deletedBranches = nil
	r.resetBranches = nil
	return r.do(cmds...)
}

func (r *FastImport) NewTransaction(branch string, svnprefix string, revnum int) (Transaction, error) {
	if !r.branches.Exists(branch) {
		r.logger.Warnf("Transaction: %s is not a known branch in repository %s, going to create it automatically", branch, r.name)
	}
	r.commitCount++
	if r.commitCount%r.opts.CommitInterval == 0 {
		r.logger.Debugf("checkpoint for repository %s after %d commits", r.name, r.commitCount)
		if err := r.do(libfastimport.CmdCheckpoint{}); err != nil {
			return nil, err
		}
	}
	r.outstanding++
	return newTransaction(r, branch, svnprefix, revnum), nil
}

func (r *FastImport) forgetTransaction() {
	r.outstanding--
	if r.outstanding == 0 {
		r.marks.resetFileMarks()
	}
}

func formatMetadataMessage(svnprefix string, revnum int, tag string) string {
	msg := fmt.Sprintf("svn path=%s; revision=%d", svnprefix, revnum)
	if tag != "" {
		msg += "; tag=" + tag
	}
	return msg + "\n"
}

func (r *FastImport) CreateAnnotatedTag(ref string, svnprefix string, revnum int, author string, dt time.Time, log string) {
	tagName := strings.TrimPrefix(ref, "refs/tags/")
	if _, ok := r.tags[tagName]; !ok {
		r.logger.Infof("Creating annotated tag %s (%s)", tagName, ref)
	} else {
		r.logger.Infof("Re-creating annotated tag %s", tagName)
	}
	r.tags[tagName] = &AnnotatedTag{SupportingRef: ref, Svnprefix: svnprefix, Revnum: revnum, Author: author, Date: dt, Log: log}
}

func (r *FastImport) FinalizeTags() error {
	if len(r.tags) == 0 {
		return nil
	}
	r.logger.Infof("Finalising %d tags for %s", len(r.tags), r.name)
	names := make([]string, 0, len(r.tags))
	for k := range r.tags {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, tagName := range names {
		tag := r.tags[tagName]
		msg := tag.Log
		if !strings.HasSuffix(msg, "\n") {
			msg += "\n"
		}
		if r.opts.AddMetadata {
			msg += "\n" + formatMetadataMessage(tag.Svnprefix, tag.Revnum, tagName)
		}
		ref := branchRef(tag.SupportingRef)
		err := r.do(
			libfastimport.CmdProgress{Str: fmt.Sprintf("Creating annotated tag %s from ref %s", tagName, ref)},
			libfastimport.CmdTag{RefName: tagName, CommitIsh: ref, Tagger: parseIdent(tag.Author, tag.Date), Data: msg})
		if err != nil {
			return err
		}
	}
	return nil
}

// parseIdent splits "Name <email>"
func parseIdent(author string, dt time.Time) libfastimport.Ident {
	ident := libfastimport.Ident{Name: author, Time: time.Unix(dt.Unix(), 0).UTC()}
	lt := strings.LastIndex(author, "<")
	gt := strings.LastIndex(author, ">")
	if lt >= 0 && gt > lt {
		ident.Name = strings.TrimSpace(author[:lt])
		ident.Email = author[lt+1 : gt]
	}
	return ident
}

// process - a running fast-import, or its stand-in for dump and dry-run modes
type process struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	w       *bufio.Writer
	backend *libfastimport.Backend
	log     *journal.Journal
	pipes   []io.Closer
	done    chan struct{}
	waitErr error
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Close only flushes, the stream underneath stays open until the process is closed
type flushingWriter struct {
	w *bufio.Writer
}

func (f flushingWriter) Write(p []byte) (int, error) {
	return f.w.Write(p)
}

func (f flushingWriter) Close() error {
	return f.w.Flush()
}

func (p *process) exited() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (r *FastImport) startFastImport() error {
	if err := r.cache.Touch(r); err != nil {
		return err
	}
	if r.proc != nil {
		if r.proc.exited() {
			return errcat.Errorf(errkind.ErrBackend, "fast-import for repository %s has been started once and crashed: %v", r.name, r.proc.waitErr)
		}
		return nil
	}
	p := &process{}
	switch r.opts.Mode {
	case ModeGit:
		marks := r.marksFileName()
		args := append(append([]string{}, r.opts.FastImportArgs...), "--import-marks="+marks, "--export-marks="+marks, "--force")
		r.logger.Debugf("Starting: %s in %s", shellquote.Join(args...), r.repoDir())
		p.cmd = exec.Command(args[0], args[1:]...)
		p.cmd.Dir = r.repoDir()
		stdin, err := p.cmd.StdinPipe()
		if err != nil {
			return r.backendError(err)
		}
		outLog := r.logger.WriterLevel(logrus.DebugLevel)
		errLog := r.logger.WriterLevel(logrus.WarnLevel)
		p.cmd.Stdout = outLog
		p.cmd.Stderr = errLog
		p.pipes = []io.Closer{outLog, errLog}
		if err := p.cmd.Start(); err != nil {
			return r.backendError(errors.Wrapf(err, "failed to start %s", shellquote.Join(args...)))
		}
		p.done = make(chan struct{})
		go func() {
			p.waitErr = p.cmd.Wait()
			close(p.done)
		}()
		p.stdin = stdin
	case ModeDump:
		f, err := os.OpenFile(r.dumpFileName(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return r.backendError(err)
		}
		p.stdin = f
	default:
		p.stdin = nopWriteCloser{io.Discard}
	}
	p.w = bufio.NewWriter(p.stdin)
	p.backend = libfastimport.NewBackend(flushingWriter{p.w}, nil, nil)
	if r.opts.Mode == ModeDryRun {
		p.log = &journal.Journal{}
		p.log.SetWriter(nopWriteCloser{io.Discard})
	} else {
		log, err := journal.CreateJournal(r.logFileName())
		if err != nil {
			p.stdin.Close()
			return err
		}
		p.log = log
	}
	r.proc = p
	return r.reloadBranches()
}

// reloadBranches tells a new fast-import where every live branch is
func (r *FastImport) reloadBranches() error {
	cmds := make([]libfastimport.Cmd, 0)
	for _, name := range r.branches.Names() {
		br := r.branches.Get(name)
		if !br.live() {
			continue
		}
		ref := branchRef(name)
		cmds = append(cmds,
			libfastimport.CmdReset{RefName: ref, CommitIsh: fmt.Sprintf(":%d", br.tip())},
			libfastimport.CmdProgress{Str: fmt.Sprintf("Branch %s reloaded", ref)})
	}
	if len(cmds) == 0 {
		return nil
	}
	return r.do(cmds...)
}

// closeFastImport checkpoints and stops the process. It may be restarted later.
func (r *FastImport) closeFastImport() error {
	defer r.cache.Remove(r)
	p := r.proc
	if p == nil {
		return nil
	}
	r.proc = nil
	var result error
	if !p.exited() {
		if err := p.backend.Do(libfastimport.CmdCheckpoint{}); err != nil {
			result = r.backendError(err)
		} else if err := p.log.Do(libfastimport.CmdCheckpoint{}); err != nil {
			result = err
		}
		if err := p.w.Flush(); err != nil && result == nil {
			result = r.backendError(err)
		}
	}
	if err := p.stdin.Close(); err != nil && result == nil {
		result = r.backendError(err)
	}
	if p.cmd != nil {
		select {
		case <-p.done:
		case <-time.After(r.opts.CloseTimeout):
			r.logger.Warnf("fast-import for repository %s did not finish in %v, killing it", r.name, r.opts.CloseTimeout)
			p.cmd.Process.Kill()
			select {
			case <-p.done:
			case <-time.After(200 * time.Millisecond):
				r.logger.Warnf("fast-import for repository %s did not die", r.name)
			}
		}
		if p.exited() && p.waitErr != nil && result == nil {
			result = r.backendError(errors.Wrap(p.waitErr, "fast-import failed"))
		}
	}
	for _, c := range p.pipes {
		c.Close()
	}
	if err := p.log.Close(); err != nil && result == nil {
		result = err
	}
	return result
}
