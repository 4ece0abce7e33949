package exporter

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rcowham/svn2gitfi/config"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/node"
	"github.com/rcowham/svn2gitfi/repository"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/rcowham/svn2gitfi/source"
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

var testDate = time.Date(2021, 3, 4, 12, 34, 56, 0, time.UTC)

const standardRules = `
create repository proj
end repository

match /trunk/
  repository proj
  branch master
end match
match /branches/([^/]+)/
  repository proj
  branch \1
end match
match /tags/([^/]+)/
  repository proj
  branch refs/tags/\1
  annotated true
end match
`

type testEnv struct {
	t     *testing.T
	dir   string
	src   *source.Memory
	cache *repository.ProcessCache
	repos map[string]repository.Repository
	exp   *Exporter
}

func newTestEnv(t *testing.T, opts Options, rulesTexts ...string) *testEnv {
	logger := createLogger()
	dir := t.TempDir()
	sets := make([]*rules.RuleSet, 0)
	for i, text := range rulesTexts {
		fname := filepath.Join(dir, "rules"+string(rune('a'+i)))
		require.NoError(t, os.WriteFile(fname, []byte(text), 0644))
		rs, err := rules.LoadFile(fname)
		require.NoError(t, err)
		sets = append(sets, rs)
	}
	decls, err := rules.Merge(sets)
	require.NoError(t, err)
	cache := repository.NewProcessCache(logger, 10)
	repos, ordered, err := repository.NewRepositories(logger, decls, repository.Options{WorkDir: dir, Mode: repository.ModeDump}, cache)
	require.NoError(t, err)
	src := source.NewMemory()
	exp, err := NewExporter(logger, src, rules.NewEngine(logger, sets, debug), repos, ordered, opts)
	require.NoError(t, err)
	return &testEnv{t: t, dir: dir, src: src, cache: cache, repos: repos, exp: exp}
}

func (env *testEnv) rev(log string) *source.MemoryRevision {
	return env.src.NewRevision("jdoe", testDate, log)
}

// exportAll exports every revision not yet exported, starting at from
func (env *testEnv) exportAll(from int) int {
	youngest, err := env.src.Youngest()
	require.NoError(env.t, err)
	for rev := from; rev <= youngest; rev++ {
		require.NoError(env.t, env.exp.ExportRevision(rev))
	}
	return youngest + 1
}

func (env *testEnv) output(name string) string {
	require.NoError(env.t, env.cache.CloseAll())
	buf, err := os.ReadFile(filepath.Join(env.dir, name+".fi"))
	require.NoError(env.t, err)
	return string(buf)
}

func countLines(text string, prefix string) int {
	count := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, prefix) {
			count++
		}
	}
	return count
}

func TestAddFile(t *testing.T) {
	env := newTestEnv(t, Options{}, standardRules)
	env.rev("layout").AddDir("/trunk").AddDir("/branches").AddDir("/tags")
	env.rev("empty")
	env.rev("empty")
	env.rev("empty")
	env.rev("add a").AddFile("/trunk/a.txt", "0123456789", node.FileProps{})
	env.exportAll(1)

	fi := env.output("proj")
	assert.Contains(t, fi, "blob\nmark :1048575\ndata 10\n0123456789\n")
	assert.Contains(t, fi, "commit refs/heads/master\nmark :1\n")
	assert.Contains(t, fi, "committer jdoe <jdoe@localhost> ")
	assert.Contains(t, fi, "M 100644 :1048575 a.txt")
	assert.Contains(t, fi, "progress SVN r5 branch master = :1")
	assert.Equal(t, 1, countLines(fi, "commit "))
	assert.Equal(t, 1, env.exp.Stats.Files[KindText])
	assert.Equal(t, int64(10), env.exp.Stats.Bytes[KindText])
}

func TestBranchTagMergeDelete(t *testing.T) {
	env := newTestEnv(t, Options{}, standardRules)
	env.rev("layout").AddDir("/trunk").AddDir("/branches").AddDir("/tags")
	env.rev("empty")
	env.rev("empty")
	env.rev("empty")
	env.rev("add a").AddFile("/trunk/a.txt", "0123456789", node.FileProps{})
	env.rev("add b").AddFile("/trunk/b.txt", "b", node.FileProps{})
	env.rev("empty")
	env.rev("empty")
	env.rev("empty")
	next := env.exportAll(1)

	// r10 branches trunk as it was at r9
	env.rev("branch v1").Copy("/branches/v1", "/trunk", 9)
	next = env.exportAll(next)
	v1 := env.repos["proj"].(*repository.FastImport).Branches().Get("v1")
	require.NotNil(t, v1)
	assert.Equal(t, 10, v1.Created)
	assert.Equal(t, []int{2}, v1.Marks)

	env.rev("tag 1.0").Copy("/tags/1.0", "/trunk", 10)
	env.rev("change v1").AddFile("/branches/v1/c.txt", "c", node.FileProps{})
	env.rev("merge c").Copy("/trunk/c.txt", "/branches/v1/c.txt", 12)
	env.rev("drop v1").Delete("/branches/v1")
	env.exportAll(next)
	require.NoError(t, env.repos["proj"].FinalizeTags())

	fi := env.output("proj")
	assert.Contains(t, fi, "reset refs/heads/v1\nfrom :2\n")
	assert.Contains(t, fi, "progress SVN r10 branch v1 = :2 # from branch master at r9 => r6")
	// Branch creation does not commit
	assert.Equal(t, 4, countLines(fi, "commit "))

	assert.Contains(t, fi, "reset refs/tags/1.0\nfrom :2\n")
	assert.Contains(t, fi, "progress Creating annotated tag 1.0 from ref refs/tags/1.0")

	assert.Contains(t, fi, "progress SVN r12 branch v1 = :3")
	assert.Contains(t, fi, "merge :3\n")
	assert.Contains(t, fi, "progress SVN r13 branch master = :4 # merge from :3")

	assert.Contains(t, fi, "reset refs/heads/v1\nfrom 0000000000000000000000000000000000000000\n")
	assert.Contains(t, fi, "progress SVN r14 branch v1 = :0 # delete")
}

func TestUnmappedPath(t *testing.T) {
	env := newTestEnv(t, Options{}, standardRules)
	env.rev("stray").AddFile("/trunk/a.txt", "a", node.FileProps{}).AddFile("/zzz/x.txt", "x", node.FileProps{})
	err := env.exp.ExportRevision(1)
	assert.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrUnmappedPath))
	assert.Equal(t, errkind.ExitUnmappedPath, errkind.Exit(err))
	assert.Contains(t, err.Error(), "/zzz/x.txt")

	fi := env.output("proj")
	assert.Contains(t, fi, "blob\n")
	assert.Equal(t, 0, countLines(fi, "commit "))
}

func TestCopiedDirectoryUnmapped(t *testing.T) {
	rulesText := `
create repository proj
end repository
match /stuff/
  action ignore
  max revision 1
end match
match /trunk/
  repository proj
  branch master
end match
`
	env := newTestEnv(t, Options{}, rulesText)
	env.rev("stuff").AddFile("/stuff/x.txt", "x", node.FileProps{})
	env.rev("trunk").AddFile("/trunk/a.txt", "a", node.FileProps{})
	env.exportAll(1)

	env.rev("copy").Copy("/other", "/stuff", 1)
	err := env.exp.ExportRevision(3)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.ErrUnmappedPath))
	assert.Contains(t, err.Error(), "/other/x.txt rev 3 did not match any rules")

	fi := env.output("proj")
	assert.Equal(t, 1, countLines(fi, "commit "))
}

func TestRulePrecedence(t *testing.T) {
	rulesText := `
create repository proj
end repository
match /trunk/docs/
  action ignore
end match
match /trunk/
  repository proj
  branch master
end match
`
	env := newTestEnv(t, Options{}, rulesText)
	env.rev("add").AddFile("/trunk/docs/d.txt", "d", node.FileProps{}).AddFile("/trunk/a.txt", "a", node.FileProps{})
	env.exportAll(1)

	fi := env.output("proj")
	assert.Contains(t, fi, "M 100644 :1048575 a.txt")
	assert.NotContains(t, fi, "d.txt")
}

func TestUnknownRepositoryDelete(t *testing.T) {
	rulesText := `
create repository proj
end repository
match /old/
  repository gone
  branch master
  min revision 2
end match
match /old/
  action ignore
end match
match /trunk/
  repository proj
  branch master
end match
`
	env := newTestEnv(t, Options{}, rulesText)
	env.rev("add").AddFile("/old/x.txt", "x", node.FileProps{})
	env.rev("delete").Delete("/old")
	env.exportAll(1)

	env.rev("add again").AddFile("/old/y.txt", "y", node.FileProps{})
	err := env.exp.ExportRevision(3)
	assert.True(t, errkind.Is(err, errkind.ErrUnknownRepo))
	env.cache.CloseAll()
}

func TestFileModes(t *testing.T) {
	env := newTestEnv(t, Options{}, standardRules)
	env.rev("add").
		AddFile("/trunk/run.sh", "#!/bin/sh\n", node.FileProps{Executable: true}).
		AddFile("/trunk/link", "link target", node.FileProps{Symlink: true}).
		AddFile("/trunk/odd", "special", node.FileProps{Symlink: true})
	env.exportAll(1)

	fi := env.output("proj")
	assert.Contains(t, fi, "data 6\ntarget\n")
	assert.Contains(t, fi, "M 120000 :1048575 link")
	assert.Contains(t, fi, "M 100644 :1048574 odd")
	assert.Contains(t, fi, "M 100755 :1048573 run.sh")
}

func TestDirectoryCopyWithoutSource(t *testing.T) {
	rulesText := `
create repository proj
end repository
match /vendor/
  action ignore
end match
match /trunk/
  repository proj
  branch master
end match
`
	env := newTestEnv(t, Options{}, rulesText)
	env.rev("vendor").AddFile("/vendor/lib/a.c", "a", node.FileProps{}).AddFile("/vendor/lib/sub/b.c", "b", node.FileProps{})
	env.rev("import").Copy("/trunk/lib", "/vendor/lib", 1)
	env.exportAll(1)

	fi := env.output("proj")
	assert.Contains(t, fi, "D lib\n")
	assert.Contains(t, fi, " lib/a.c\n")
	assert.Contains(t, fi, " lib/sub/b.c\n")
	assert.Equal(t, 1, countLines(fi, "commit "))
}

func TestDirectoryDeleteAutoRecurse(t *testing.T) {
	rulesText := `
create repository proj
end repository
match /project/trunk/
  repository proj
  branch master
end match
`
	env := newTestEnv(t, Options{}, rulesText)
	env.rev("add").AddFile("/project/trunk/a.txt", "a", node.FileProps{})
	env.rev("remove").Delete("/project")
	env.exportAll(1)

	fi := env.output("proj")
	assert.Contains(t, fi, "progress SVN r2 branch master = :0 # delete")
}

func TestMultipleRuleSets(t *testing.T) {
	docsRules := `
create repository docs
end repository
match /docs/
  repository docs
  branch master
end match
`
	env := newTestEnv(t, Options{}, standardRules, docsRules)
	env.rev("add").AddFile("/docs/a.txt", "a", node.FileProps{}).AddFile("/trunk/b.txt", "b", node.FileProps{})
	env.exportAll(1)
	require.NoError(t, env.cache.CloseAll())

	docs := env.output("docs")
	assert.Contains(t, docs, " a.txt\n")
	proj := env.output("proj")
	assert.Contains(t, proj, " b.txt\n")
	assert.NotContains(t, proj, "a.txt")
}

func TestForwardedRepository(t *testing.T) {
	rulesText := `
create repository proj
end repository
create repository lib
  repository proj
  prefix lib/
end repository
match /lib/trunk/
  repository lib
  branch master
end match
`
	env := newTestEnv(t, Options{}, rulesText)
	env.rev("add").AddFile("/lib/trunk/a.c", "a", node.FileProps{})
	env.exportAll(1)

	fi := env.output("proj")
	assert.Contains(t, fi, "M 100644 :1048575 lib/a.c")
}

func TestIdentities(t *testing.T) {
	ids, err := config.ParseIdentityMap(strings.NewReader("jdoe John Doe <john@example.com>\n"))
	require.NoError(t, err)
	env := newTestEnv(t, Options{Identities: ids, IdentityDomain: "example.org", LogEncoding: "ISO-8859-1"}, standardRules)
	assert.Equal(t, "John Doe <john@example.com>", env.exp.authorIdent("jdoe"))
	assert.Equal(t, "fred <fred@example.org>", env.exp.authorIdent("fred"))
	assert.Equal(t, "nobody <nobody@localhost>", env.exp.authorIdent(""))
	assert.Equal(t, "café", env.exp.decodeLog([]byte("caf\xe9")))
	assert.Equal(t, "café", env.exp.decodeLog([]byte("café")))

	env.rev("add").AddFile("/trunk/a.txt", "a", node.FileProps{})
	env.exportAll(1)
	fi := env.output("proj")
	assert.Contains(t, fi, "committer John Doe <john@example.com> ")
}

func TestBadLogEncoding(t *testing.T) {
	_, err := NewExporter(createLogger(), source.NewMemory(), rules.NewEngine(createLogger(), nil, false), nil, nil, Options{LogEncoding: "no-such-charset"})
	assert.True(t, errkind.Is(err, errkind.ErrConfig))
}

func TestClassify(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0}
	assert.Equal(t, KindImage, classify(png))
	zip := []byte{0x50, 0x4B, 0x03, 0x04, 0, 0, 0, 0}
	assert.Equal(t, KindArchive, classify(zip))
	assert.Equal(t, KindText, classify([]byte("hello world")))
}
