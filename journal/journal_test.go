package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/stretchr/testify/assert"
)

const sha1 = "0123456789012345678901234567890123456789"

func scanAll(t *testing.T, input string) []Progress {
	result := make([]Progress, 0)
	err := Scan(strings.NewReader(input), func(p Progress) bool {
		result = append(result, p)
		return true
	})
	assert.NoError(t, err)
	return result
}

func TestScan(t *testing.T) {
	input := `commit refs/heads/master
mark :1
committer jdoe <jdoe@localhost> 1363872228 +0000
data 37
progress SVN r99 branch fake = :42
x
M 100644 :1048575 a.txt

progress SVN r5 branch master = :1
reset refs/heads/v1
from :1

progress SVN r6 branch v1 = :1 # from branch master at r5 => r6
progress SVN r7 branch refs/tags/t1 = :0 # delete
`
	ps := scanAll(t, input)
	assert.Equal(t, 3, len(ps))
	assert.Equal(t, Progress{Rev: 5, Branch: "master", Mark: 1,
		Offset: int64(strings.Index(input, "progress SVN r5")),
		End:    int64(strings.Index(input, "reset refs/heads/v1"))}, ps[0])
	assert.Equal(t, 6, ps[1].Rev)
	assert.Equal(t, "v1", ps[1].Branch)
	assert.Equal(t, "refs/tags/t1", ps[2].Branch)
	assert.Equal(t, 0, ps[2].Mark)
	assert.Equal(t, int64(strings.Index(input, "progress SVN r7")), ps[2].Offset)
	assert.Equal(t, int64(len(input)), ps[2].End)
}

func TestScanTags(t *testing.T) {
	input := `commit refs/heads/master
mark :1
committer jdoe <jdoe@localhost> 1363872228 +0000
data 11
tag v9
x
y

progress Creating annotated tag 1.0 from ref refs/tags/1.0
tag 1.0
from refs/tags/1.0
tagger jdoe <jdoe@localhost> 1363872228 +0000
data 8
release

tag 2.0
from refs/tags/2.0
tagger jdoe <jdoe@localhost> 1363872228 +0000
data 4
last`
	tags, err := ScanTags(strings.NewReader(input))
	assert.NoError(t, err)
	assert.Equal(t, 2, len(tags))
	assert.Equal(t, "1.0", tags[0].Name)
	assert.Equal(t, "refs/tags/1.0", tags[0].From)
	assert.Equal(t, "tag 1.0\nfrom refs/tags/1.0\ntagger jdoe <jdoe@localhost> 1363872228 +0000\ndata 8\nrelease\n\n", string(tags[0].Text))
	assert.Equal(t, "refs/tags/2.0", tags[1].From)
	assert.True(t, strings.HasSuffix(string(tags[1].Text), "data 4\nlast"))
}

func TestScanStops(t *testing.T) {
	input := "progress SVN r1 branch master = :1\nprogress SVN r2 branch master = :2\n"
	count := 0
	err := Scan(strings.NewReader(input), func(p Progress) bool {
		count++
		return false
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestScanNoTrailingNewline(t *testing.T) {
	ps := scanAll(t, "progress SVN r3 branch master = :2")
	assert.Equal(t, 1, len(ps))
	assert.Equal(t, 3, ps[0].Rev)
}

func TestParseProgress(t *testing.T) {
	p, ok := ParseProgress("progress SVN r10 branch v1 = :3 # merge from :1 :2")
	assert.True(t, ok)
	assert.Equal(t, Progress{Rev: 10, Branch: "v1", Mark: 3}, p)
	_, ok = ParseProgress("progress Branch refs/heads/v1 reloaded")
	assert.False(t, ok)
}

func TestJournalRoundTrip(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "log-proj")
	j, err := CreateJournal(fname)
	assert.NoError(t, err)
	ident := libfastimport.Ident{Name: "jdoe", Email: "jdoe@localhost", Time: time.Unix(1363872228, 0).UTC()}
	assert.NoError(t, j.Do(libfastimport.CmdCommit{Ref: "refs/heads/master", Mark: 1, Committer: ident, Msg: "add\nprogress SVN r9 branch x = :9\n"}))
	assert.NoError(t, j.Do(libfastimport.FileModify{Mode: libfastimport.ModeFil, Path: libfastimport.Path("a.txt"), DataRef: ":1048575"}))
	assert.NoError(t, j.Do(libfastimport.CmdCommitEnd{}))
	assert.NoError(t, j.Do(libfastimport.CmdProgress{Str: "SVN r5 branch master = :1"}))
	assert.NoError(t, j.Close())

	// Appends on reopen
	j, err = CreateJournal(fname)
	assert.NoError(t, err)
	assert.NoError(t, j.Do(libfastimport.CmdProgress{Str: "SVN r6 branch master = :2"}))
	assert.NoError(t, j.Close())

	f, err := os.Open(fname)
	assert.NoError(t, err)
	defer f.Close()
	ps := make([]Progress, 0)
	assert.NoError(t, Scan(f, func(p Progress) bool {
		ps = append(ps, p)
		return true
	}))
	assert.Equal(t, 2, len(ps))
	assert.Equal(t, 5, ps[0].Rev)
	assert.Equal(t, 6, ps[1].Rev)
	assert.Equal(t, 2, ps[1].Mark)
}

func TestLastValidMark(t *testing.T) {
	assert.Equal(t, 3, lastValidMark(strings.NewReader(":1 "+sha1+"\n:2 "+sha1+"\n:3 "+sha1+"\n")))
	// Blob marks after a gap are ignored
	assert.Equal(t, 2, lastValidMark(strings.NewReader(":1 "+sha1+"\n:2 "+sha1+"\n:1048575 "+sha1+"\n")))
	assert.Equal(t, 0, lastValidMark(strings.NewReader(":1 "+sha1+"\n:1 "+sha1+"\n")))
	assert.Equal(t, 0, lastValidMark(strings.NewReader(":2 "+sha1+"\n:1 "+sha1+"\n")))
	assert.Equal(t, 0, lastValidMark(strings.NewReader("garbage\n")))
	assert.Equal(t, 0, lastValidMark(strings.NewReader("")))
	assert.Equal(t, 0, LastValidMark(filepath.Join(t.TempDir(), "missing")))
}
