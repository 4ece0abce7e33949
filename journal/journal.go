// Package journal keeps the per-repository protocol log: a copy of every
// fast-import command sent to a repository except blobs. The progress
// records in it are what an interrupted conversion resumes from.
package journal

// Example of a logged commit for 2 svn revisions, the second of which
// creates a branch:
//
// commit refs/heads/master
// mark :1
// committer jdoe <jdoe@localhost> 1363872228 +0000
// data 4
// add
// M 100644 :1048575 src/file.txt
//
// progress SVN r5 branch master = :1
// reset refs/heads/v1
// from :1
//
// progress SVN r6 branch v1 = :1 # from branch master at r5 => r5

import (
	"bufio"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/warpfork/go-errcat"
)

type bufferedFile struct {
	f *os.File
	w *bufio.Writer
}

func (b *bufferedFile) Write(p []byte) (int, error) {
	return b.w.Write(p)
}

func (b *bufferedFile) Close() error {
	if err := b.w.Flush(); err != nil {
		b.f.Close()
		return err
	}
	return b.f.Close()
}

// Journal - protocol log writer
type Journal struct {
	filename string
	wc       io.WriteCloser
	backend  *libfastimport.Backend
}

// CreateJournal opens filename for appending, creating it if needed
func CreateJournal(filename string) (*Journal, error) {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrBackend, "failed to open log %s: %v", filename, err)
	}
	j := &Journal{filename: filename}
	j.SetWriter(&bufferedFile{f: f, w: bufio.NewWriter(f)})
	return j, nil
}

// SetWriter - log to w instead of a file
func (j *Journal) SetWriter(w io.WriteCloser) {
	j.wc = w
	j.backend = libfastimport.NewBackend(w, nil, nil)
}

// Filename of the log, empty if writing elsewhere
func (j *Journal) Filename() string {
	return j.filename
}

// Do logs one command
func (j *Journal) Do(cmd libfastimport.Cmd) error {
	if err := j.backend.Do(cmd); err != nil {
		return errcat.Errorf(errkind.ErrBackend, "failed to write log %s: %v", j.filename, err)
	}
	return nil
}

// Close flushes and closes the log
func (j *Journal) Close() error {
	if j.wc == nil {
		return nil
	}
	err := j.wc.Close()
	j.wc = nil
	if err != nil {
		return errcat.Errorf(errkind.ErrBackend, "failed to close log %s: %v", j.filename, err)
	}
	return nil
}

// Progress - one "progress SVN rN branch B = :M" record
type Progress struct {
	Rev    int
	Branch string
	Mark   int
	Offset int64 // Position of the start of the record's line
	End    int64 // Position just past the record's line
}

var reProgress = regexp.MustCompile(`^progress SVN r(\d+) branch (.*) = :(\d+)$`)
var reData = regexp.MustCompile(`^data (\d+)$`)

// ParseProgress parses a "progress SVN rN branch B = :M" line, ignoring any trailing comment
func ParseProgress(line string) (Progress, bool) {
	if hash := strings.IndexByte(line, '#'); hash != -1 {
		line = line[:hash]
	}
	m := reProgress.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Progress{}, false
	}
	p := Progress{Branch: m[2]}
	p.Rev, _ = strconv.Atoi(m[1])
	p.Mark, _ = strconv.Atoi(m[3])
	return p, true
}

// Scan reads a protocol log calling fn for every progress record in order,
// stopping early when fn returns false. The contents of data sections are
// skipped so messages cannot be mistaken for records.
func Scan(r io.Reader, fn func(p Progress) bool) error {
	br := bufio.NewReader(r)
	var offset int64
	for {
		line, err := br.ReadString('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "failed to read log")
		}
		lineOffset := offset
		offset += int64(len(line))
		text := strings.TrimRight(line, "\n")

		if m := reData.FindStringSubmatch(text); m != nil {
			n, _ := strconv.ParseInt(m[1], 10, 64)
			skipped, err := br.Discard(int(n))
			offset += int64(skipped)
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return errors.Wrap(err, "failed to read log")
			}
			continue
		}

		if p, ok := ParseProgress(text); ok {
			p.Offset, p.End = lineOffset, offset
			if !fn(p) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
	}
}

// Tag is a tag command as written to a fast-import stream
type Tag struct {
	Name string
	From string
	Text []byte
}

// ScanTags returns the tag commands of a fast-import stream in order.
// Other commands are skipped.
func ScanTags(r io.Reader) ([]Tag, error) {
	br := bufio.NewReader(r)
	tags := make([]Tag, 0)
	var cur *Tag
	for {
		line, err := br.ReadString('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return tags, nil
			}
			return nil, errors.Wrap(err, "failed to read stream")
		}
		text := strings.TrimRight(line, "\n")
		if strings.HasPrefix(text, "tag ") {
			cur = &Tag{Name: strings.TrimPrefix(text, "tag ")}
		}
		if cur != nil {
			cur.Text = append(cur.Text, line...)
			if strings.HasPrefix(text, "from ") {
				cur.From = strings.TrimPrefix(text, "from ")
			}
		}
		if m := reData.FindStringSubmatch(text); m != nil {
			n, _ := strconv.Atoi(m[1])
			if cur == nil {
				if _, err := br.Discard(n); err != nil {
					return nil, errors.Wrap(err, "truncated data in stream")
				}
				continue
			}
			body := make([]byte, n)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, errors.Wrap(err, "truncated data in stream")
			}
			cur.Text = append(cur.Text, body...)
			if next, err := br.Peek(1); err == nil && next[0] == '\n' {
				br.Discard(1)
				cur.Text = append(cur.Text, '\n')
			}
			tags = append(tags, *cur)
			cur = nil
			continue
		}
		if err == io.EOF {
			return tags, nil
		}
	}
}

// LastValidMark returns the highest mark N in a fast-import marks file such
// that marks 1..N are all present. Duplicated, unsorted or malformed entries
// make the whole file untrustworthy and give 0, as does a missing file.
func LastValidMark(filename string) int {
	f, err := os.Open(filename)
	if err != nil {
		return 0
	}
	defer f.Close()
	return lastValidMark(f)
}

func lastValidMark(r io.Reader) int {
	prev := 0
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ":") {
			return 0
		}
		fields := strings.Fields(line[1:])
		if len(fields) != 2 || len(fields[1]) < 40 {
			return 0
		}
		mark, err := strconv.Atoi(fields[0])
		if err != nil || mark <= prev {
			return 0
		}
		if mark != prev+1 {
			break // gap
		}
		prev = mark
	}
	if scanner.Err() != nil {
		return 0
	}
	return prev
}
