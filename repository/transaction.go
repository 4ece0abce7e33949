package repository

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	orderedset "github.com/emirpasic/gods/sets/linkedhashset"
	libfastimport "github.com/rcowham/go-libgitfastimport"
)

// at most this many merge lines are written for one commit
const maxMerges = 16

type transaction struct {
	repo         *FastImport
	branch       string
	svnprefix    string
	revnum       int
	author       string
	datetime     time.Time
	log          string
	deletedFiles []string
	modified     []libfastimport.Cmd
	merges       *orderedset.Set // Inferred merge parent marks in order noted
}

func newTransaction(repo *FastImport, branch string, svnprefix string, revnum int) *transaction {
	return &transaction{
		repo:      repo,
		branch:    branch,
		svnprefix: svnprefix,
		revnum:    revnum,
		merges:    orderedset.New(),
	}
}

func (t *transaction) SetAuthor(author string) {
	t.author = author
}

func (t *transaction) SetDateTime(dt time.Time) {
	t.datetime = dt
}

func (t *transaction) SetLog(log string) {
	t.log = log
}

func (t *transaction) NoteCopyFromBranch(branchFrom string, branchRevNum int) {
	logger := t.repo.logger
	if t.branch == branchFrom {
		logger.Warnf("Cannot merge inside a branch")
		return
	}
	mark, _, found := t.repo.branches.ResolveMark(branchFrom, branchRevNum)
	if !found {
		logger.Warnf("%s is copying from branch %s but the latter doesn't exist. Continuing, assuming the files exist.", t.branch, branchFrom)
		return
	}
	if mark == 0 {
		logger.Warnf("Unknown revision r%d. Continuing, assuming the files exist.", branchRevNum)
		return
	}
	logger.Warnf("repository %s branch %s has some files copied from %s@%d", t.repo.name, t.branch, branchFrom, branchRevNum)
	if t.merges.Contains(mark) {
		logger.Debugf("merge point already recorded")
		return
	}
	t.merges.Add(mark)
	logger.Debugf("adding %s@%d : %d as a merge point", branchFrom, branchRevNum, mark)
}

func (t *transaction) DeleteFile(path string) {
	t.deletedFiles = append(t.deletedFiles, strings.TrimSuffix(path, "/"))
}

func (t *transaction) AddFile(path string, mode libfastimport.Mode, length int64, content io.Reader) error {
	mark, err := t.repo.marks.nextFile()
	if err != nil {
		return err
	}
	t.modified = append(t.modified, libfastimport.FileModify{
		Mode:    mode,
		Path:    libfastimport.Path(path),
		DataRef: fmt.Sprintf(":%d", mark),
	})
	return t.repo.writeBlob(mark, length, content)
}

// mergeParents picks the merge lines for a commit whose first parent is parentMark (0 for none)
func (t *transaction) mergeParents(parentMark int) []int {
	noted := make([]int, 0, t.merges.Size())
	for _, v := range t.merges.Values() {
		noted = append(noted, v.(int))
	}
	if strings.Contains(t.log, "This commit was manufactured by cvs2svn") && len(noted) > 1 {
		sort.Ints(noted)
		t.repo.logger.Warnf("Discarding all but the highest merge point as a workaround for cvs2svn created branch/tag. Discarded marks: %v", noted[:len(noted)-1])
		return noted[len(noted)-1:]
	}
	result := make([]int, 0, len(noted))
	for i, m := range noted {
		if m == parentMark {
			t.repo.logger.Debugf("Skipping marking %d as a merge point as it matches the parent", m)
			continue
		}
		if len(result) == maxMerges {
			t.repo.logger.Warnf("too many merge parents for r%d on branch %s in repository %s, dropping %v",
				t.revnum, t.branch, t.repo.name, noted[i:])
			break
		}
		result = append(result, m)
	}
	return result
}

func (t *transaction) Commit() error {
	defer t.repo.forgetTransaction()
	mark, err := t.repo.marks.nextCommit()
	if err != nil {
		return err
	}
	msg := t.log
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	if t.repo.opts.AddMetadata {
		msg += "\n" + formatMetadataMessage(t.svnprefix, t.revnum, "")
	}

	br := t.repo.branches.get(t.branch)
	parentMark := 0
	if br.live() {
		parentMark = br.tip()
	} else if br.Created == 0 {
		t.repo.logger.Warnf("Branch %s in repository %s doesn't exist at revision %d -- did you resume from the wrong revision?", t.branch, t.repo.name, t.revnum)
		br.Created = t.revnum
	}
	br.record(t.revnum, mark)

	merges := t.mergeParents(parentMark)
	desc := ""
	commit := libfastimport.CmdCommit{
		Ref:       branchRef(t.branch),
		Mark:      mark,
		Committer: parseIdent(t.author, t.datetime),
		Msg:       msg,
	}
	for _, m := range merges {
		commit.Merge = append(commit.Merge, fmt.Sprintf(":%d", m))
		desc += fmt.Sprintf(" :%d", m)
	}
	cmds := []libfastimport.Cmd{commit}
	deleteAll := false
	for _, df := range t.deletedFiles {
		if df == "" {
			deleteAll = true
		}
	}
	if deleteAll {
		cmds = append(cmds, libfastimport.FileDeleteAll{})
	} else {
		for _, df := range t.deletedFiles {
			cmds = append(cmds, libfastimport.FileDelete{Path: libfastimport.Path(df)})
		}
	}
	cmds = append(cmds, t.modified...)
	cmds = append(cmds, libfastimport.CmdCommitEnd{})
	progress := fmt.Sprintf("SVN r%d branch %s = :%d", t.revnum, t.branch, mark)
	if desc != "" {
		progress += " # merge from" + desc
	}
	cmds = append(cmds, libfastimport.CmdProgress{Str: progress})
	t.repo.logger.Infof("r%d: %d modifications from SVN %s to %s/%s", t.revnum, len(t.deletedFiles)+len(t.modified), t.svnprefix, t.repo.name, t.branch)
	return t.repo.do(cmds...)
}
