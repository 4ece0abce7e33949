package source

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/pkg/errors"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/sirupsen/logrus"
	"github.com/warpfork/go-errcat"
)

// Runs svnlook, either collecting or streaming its stdout
type commandRunner interface {
	Output(args ...string) ([]byte, error)
	Stream(args ...string) (io.ReadCloser, error)
}

type execRunner struct {
	logger  *logrus.Logger
	command string
}

func (r *execRunner) Output(args ...string) ([]byte, error) {
	r.logger.Debugf("Running: %s %s", r.command, shellquote.Join(args...))
	cmd := exec.Command(r.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s: %s", r.command, shellquote.Join(args...), strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

type cmdReader struct {
	io.ReadCloser
	cmd *exec.Cmd
}

func (c *cmdReader) Close() error {
	// Drain so the process is not blocked writing when we stop early
	io.Copy(io.Discard, c.ReadCloser)
	c.ReadCloser.Close()
	return c.cmd.Wait()
}

func (r *execRunner) Stream(args ...string) (io.ReadCloser, error) {
	r.logger.Debugf("Streaming: %s %s", r.command, shellquote.Join(args...))
	cmd := exec.Command(r.command, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", r.command, shellquote.Join(args...))
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "%s %s", r.command, shellquote.Join(args...))
	}
	return &cmdReader{ReadCloser: out, cmd: cmd}, nil
}

// SvnLook - a Source reading a local repository with the svnlook tool
type SvnLook struct {
	logger *logrus.Logger
	repo   string
	run    commandRunner
}

// NewSvnLook - reader for the repository at repoPath
func NewSvnLook(logger *logrus.Logger, repoPath string) *SvnLook {
	return &SvnLook{logger: logger, repo: repoPath, run: &execRunner{logger: logger, command: "svnlook"}}
}

func sourceError(err error, format string, args ...interface{}) error {
	return errcat.Errorf(errkind.ErrSource, "%s: %v", fmt.Sprintf(format, args...), err)
}

// Youngest - latest revision number
func (s *SvnLook) Youngest() (int, error) {
	out, err := s.run.Output("youngest", s.repo)
	if err != nil {
		return 0, sourceError(err, "failed to read youngest revision of %s", s.repo)
	}
	rev, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, sourceError(err, "unexpected youngest output %q", out)
	}
	return rev, nil
}

// Open - a revision of the repository
func (s *SvnLook) Open(rev int) (Revision, error) {
	return &svnLookRevision{s: s, rev: rev, dirs: make(map[string]bool)}, nil
}

type svnLookRevision struct {
	s       *SvnLook
	rev     int
	dirs    map[string]bool // Kinds learnt from the changed list
	changes []Change
}

func (r *svnLookRevision) Number() int {
	return r.rev
}

func (r *svnLookRevision) revArg() string {
	return strconv.Itoa(r.rev)
}

var reCopyFrom = regexp.MustCompile(`^\s+\(from (.*):r(\d+)\)$`)

func normPath(p string) string {
	p = strings.TrimSuffix(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// parseChanged parses "svnlook changed --copy-info" output, returning the
// changes sorted by path and the directory flag of each non-deleted path.
func parseChanged(out []byte) ([]Change, map[string]bool, error) {
	changes := make([]Change, 0)
	dirs := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if m := reCopyFrom.FindStringSubmatch(line); m != nil {
			if len(changes) == 0 {
				return nil, nil, errors.Errorf("copy source without change: %q", line)
			}
			c := &changes[len(changes)-1]
			c.CopyFromPath = normPath(m[1])
			c.CopyFromRev, _ = strconv.Atoi(m[2])
			continue
		}
		if len(line) < 5 {
			return nil, nil, errors.Errorf("malformed changed line: %q", line)
		}
		var kind ChangeKind
		switch line[0] {
		case 'A':
			kind = Add
		case 'D':
			kind = Delete
		case 'U', '_':
			kind = Modify
		case 'R':
			kind = Replace
		default:
			return nil, nil, errors.Errorf("unknown change status in %q", line)
		}
		raw := line[4:]
		path := normPath(raw)
		if kind != Delete {
			dirs[path] = strings.HasSuffix(raw, "/")
		}
		changes = append(changes, Change{Path: path, Kind: kind})
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	sort.SliceStable(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
	return changes, dirs, nil
}

func (r *svnLookRevision) Changes() ([]Change, error) {
	if r.changes != nil {
		return r.changes, nil
	}
	out, err := r.s.run.Output("changed", "--copy-info", "-r", r.revArg(), r.s.repo)
	if err != nil {
		return nil, sourceError(err, "failed to list changes in r%d", r.rev)
	}
	changes, dirs, err := parseChanged(out)
	if err != nil {
		return nil, sourceError(err, "failed to parse changes in r%d", r.rev)
	}
	for k, v := range dirs {
		r.dirs[k] = v
	}
	r.changes = changes
	return changes, nil
}

func (r *svnLookRevision) revprop(name string) ([]byte, error) {
	out, err := r.s.run.Output("propget", "--revprop", "-r", r.revArg(), r.s.repo, name)
	if err != nil {
		// Unset properties are reported as errors
		r.s.logger.Debugf("r%d has no %s: %v", r.rev, name, err)
		return nil, nil
	}
	return out, nil
}

func (r *svnLookRevision) Props() (RevProps, error) {
	var props RevProps
	author, _ := r.revprop("svn:author")
	props.Author = strings.TrimSpace(string(author))
	date, _ := r.revprop("svn:date")
	if d := strings.TrimSpace(string(date)); d != "" {
		t, err := time.Parse(time.RFC3339Nano, d)
		if err != nil {
			return props, sourceError(err, "invalid svn:date %q in r%d", d, r.rev)
		}
		props.Date = t
	}
	props.Log, _ = r.revprop("svn:log")
	return props, nil
}

// tree returns the "svnlook tree -N --full-paths" lines for path, nil if absent
func (r *svnLookRevision) tree(path string) ([]string, error) {
	out, err := r.s.run.Output("tree", "-N", "--full-paths", "-r", r.revArg(), r.s.repo, strings.TrimPrefix(path, "/"))
	if err != nil {
		r.s.logger.Debugf("tree of %s in r%d: %v", path, r.rev, err)
		return nil, nil
	}
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	return lines, nil
}

func (r *svnLookRevision) Exists(path string) (bool, error) {
	if _, ok := r.dirs[normPath(path)]; ok {
		return true, nil
	}
	lines, err := r.tree(path)
	return len(lines) > 0, err
}

func (r *svnLookRevision) IsDir(path string) (bool, error) {
	p := normPath(path)
	if d, ok := r.dirs[p]; ok {
		return d, nil
	}
	if p == "/" {
		return true, nil
	}
	lines, err := r.tree(path)
	if err != nil || len(lines) == 0 {
		return false, err
	}
	isDir := strings.HasSuffix(lines[0], "/")
	r.dirs[p] = isDir
	return isDir, nil
}

func (r *svnLookRevision) List(path string) ([]Entry, error) {
	lines, err := r.tree(path)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0)
	if len(lines) < 2 {
		return entries, nil
	}
	for _, l := range lines[1:] {
		l = strings.TrimSpace(l)
		isDir := strings.HasSuffix(l, "/")
		l = strings.TrimSuffix(l, "/")
		name := l[strings.LastIndex(l, "/")+1:]
		if name == "" {
			continue
		}
		entries = append(entries, Entry{Name: name, IsDir: isDir})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (r *svnLookRevision) FileLength(path string) (int64, error) {
	out, err := r.s.run.Output("filesize", "-r", r.revArg(), r.s.repo, strings.TrimPrefix(path, "/"))
	if err != nil {
		return 0, sourceError(err, "failed to read size of %s in r%d", path, r.rev)
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, sourceError(err, "unexpected filesize output %q", out)
	}
	return n, nil
}

func (r *svnLookRevision) FileContents(path string) (io.ReadCloser, error) {
	rc, err := r.s.run.Stream("cat", "-r", r.revArg(), r.s.repo, strings.TrimPrefix(path, "/"))
	if err != nil {
		return nil, sourceError(err, "failed to read %s in r%d", path, r.rev)
	}
	return rc, nil
}

func (r *svnLookRevision) hasProp(path string, prop string) (bool, error) {
	out, err := r.s.run.Output("proplist", "-r", r.revArg(), r.s.repo, strings.TrimPrefix(path, "/"))
	if err != nil {
		return false, sourceError(err, "failed to list properties of %s in r%d", path, r.rev)
	}
	for _, l := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(l) == prop {
			return true, nil
		}
	}
	return false, nil
}

func (r *svnLookRevision) IsExecutable(path string) (bool, error) {
	return r.hasProp(path, "svn:executable")
}

func (r *svnLookRevision) IsSymlink(path string) (bool, error) {
	return r.hasProp(path, "svn:special")
}
