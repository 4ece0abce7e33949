package main

import (
	"bytes"
	"flag"
	"fmt"
	"strings"
	"testing"
	"time"

	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var debug bool = false

func init() {
	flag.BoolVar(&debug, "debug", false, "Set to have debug logging for tests.")
}

func createLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if debug {
		logger.Level = logrus.DebugLevel
	}
	return logger
}

type logBuilder struct {
	t       *testing.T
	buf     bytes.Buffer
	backend *libfastimport.Backend
}

func newLogBuilder(t *testing.T) *logBuilder {
	b := &logBuilder{t: t}
	b.backend = libfastimport.NewBackend(nopWriteCloser{&b.buf}, nil, nil)
	return b
}

// nopWriteCloser adapts a bytes.Buffer to io.WriteCloser for the backend
type nopWriteCloser struct{ *bytes.Buffer }

func (nopWriteCloser) Close() error { return nil }

func (b *logBuilder) do(cmds ...libfastimport.Cmd) {
	for _, cmd := range cmds {
		require.NoError(b.t, b.backend.Do(cmd))
	}
}

func (b *logBuilder) commit(rev int, branch string, mark int, merges ...int) {
	c := libfastimport.CmdCommit{
		Ref:       "refs/heads/" + branch,
		Mark:      mark,
		Committer: libfastimport.Ident{Name: "jdoe", Email: "jdoe@localhost", Time: time.Unix(1644399073, 0).UTC()},
		Msg:       fmt.Sprintf("r%d\n", rev),
	}
	for _, m := range merges {
		c.Merge = append(c.Merge, fmt.Sprintf(":%d", m))
	}
	b.do(c,
		libfastimport.FileModify{Mode: libfastimport.ModeFil, Path: "a.txt", DataRef: ":1048575"},
		libfastimport.CmdCommitEnd{},
		libfastimport.CmdProgress{Str: fmt.Sprintf("SVN r%d branch %s = :%d", rev, branch, mark)})
}

func (b *logBuilder) branch(rev int, branch string, mark int) {
	b.do(libfastimport.CmdReset{RefName: "refs/heads/" + branch, CommitIsh: fmt.Sprintf(":%d", mark)},
		libfastimport.CmdProgress{Str: fmt.Sprintf("SVN r%d branch %s = :%d # from branch", rev, branch, mark)})
}

// testLog - master and a branch merged back, then two more commits on master
func testLog(t *testing.T) string {
	b := newLogBuilder(t)
	b.commit(2, "master", 1)
	b.commit(3, "master", 2)
	b.branch(4, "v1", 2)
	b.commit(5, "v1", 3)
	b.commit(6, "master", 4, 3)
	b.do(libfastimport.CmdCheckpoint{})
	// As written after a restart
	b.do(libfastimport.CmdReset{RefName: "refs/heads/master", CommitIsh: ":4"},
		libfastimport.CmdProgress{Str: "Branch refs/heads/master reloaded"})
	b.commit(7, "master", 5)
	b.commit(8, "master", 6)
	return b.buf.String()
}

func parseLog(t *testing.T, input string, opts GraphOption) *LogGraph {
	g := NewLogGraph(createLogger(), &opts)
	require.NoError(t, g.ParseLog(strings.NewReader(input)))
	g.BuildGraph()
	return g
}

func TestParseLog(t *testing.T) {
	g := parseLog(t, testLog(t), GraphOption{})
	assert.Equal(t, 6, len(g.commits))
	assert.Equal(t, 1, g.commits[2].parent)
	assert.Equal(t, 2, g.commits[3].parent)
	assert.Equal(t, "v1", g.commits[3].branch)
	assert.Equal(t, 5, g.commits[3].rev)
	assert.Equal(t, 2, g.commits[4].parent)
	assert.Equal(t, []int{3}, g.commits[4].merges)
	assert.Equal(t, 4, g.commits[5].parent)
	assert.Equal(t, 2, g.commits[2].childCount)
	assert.Equal(t, 1, g.commits[2].branchCount)
	assert.Equal(t, 1, g.commits[3].mergeCount)
	require.Equal(t, 1, len(g.branchPoints))
	assert.Equal(t, branchPoint{branch: "v1", mark: 2, rev: 4}, *g.branchPoints[0])

	out := g.String()
	assert.Contains(t, out, "r5 v1 :3")
	assert.Contains(t, out, "r4 branch v1")
	// 5 parent edges, 1 merge and 1 branch point
	assert.Equal(t, 7, strings.Count(out, "->"))
}

func TestSquash(t *testing.T) {
	g := parseLog(t, testLog(t), GraphOption{squash: true})
	out := g.String()
	assert.NotContains(t, out, "r7 master :5")
	assert.Contains(t, out, "r8 master :6")
	assert.Contains(t, out, `"p1"`)
	assert.Equal(t, 6, strings.Count(out, "->"))
}

func TestRevisionRange(t *testing.T) {
	g := parseLog(t, testLog(t), GraphOption{firstRev: 5, lastRev: 6})
	out := g.String()
	assert.NotContains(t, out, "r8 master :6")
	assert.NotContains(t, out, "r4 branch v1")
	assert.Contains(t, out, "r6 master :4")
}

func TestMaxCommits(t *testing.T) {
	g := parseLog(t, testLog(t), GraphOption{maxCommits: 2})
	assert.Equal(t, 2, len(g.commits))
	assert.Equal(t, 0, len(g.branchPoints))
}
