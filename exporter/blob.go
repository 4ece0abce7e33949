package exporter

import (
	"bufio"
	"io"
	"strings"

	libfastimport "github.com/rcowham/go-libgitfastimport"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/repository"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/rcowham/svn2gitfi/source"
	"github.com/warpfork/go-errcat"
)

// Subversion stores a symlink as a special file containing "link <target>"
const linkPrefix = "link "

func (r *revision) pathMode(svnPath string) (libfastimport.Mode, error) {
	special, err := r.root.IsSymlink(svnPath)
	if err != nil {
		return 0, err
	}
	if special {
		return libfastimport.ModeSym, nil
	}
	exe, err := r.root.IsExecutable(svnPath)
	if err != nil {
		return 0, err
	}
	if exe {
		return libfastimport.ModeExe, nil
	}
	return libfastimport.ModeFil, nil
}

// dumpBlob streams one file into txn as path
func (r *revision) dumpBlob(txn repository.Transaction, svnPath string, path string) error {
	mode, err := r.pathMode(svnPath)
	if err != nil {
		return err
	}
	length, err := r.root.FileLength(svnPath)
	if err != nil {
		return err
	}
	if r.e.opts.DryRun {
		return txn.AddFile(path, mode, length, nil)
	}
	rc, err := r.root.FileContents(svnPath)
	if err != nil {
		return err
	}
	defer rc.Close()
	br := bufio.NewReaderSize(rc, 4096)
	if mode == libfastimport.ModeSym {
		head, _ := br.Peek(len(linkPrefix))
		if string(head) == linkPrefix {
			br.Discard(len(linkPrefix))
			length -= int64(len(linkPrefix))
		} else {
			r.e.logger.Debugf("%s is special but not a link", svnPath)
			mode = libfastimport.ModeFil
		}
	}
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return errcat.Errorf(errkind.ErrSource, "failed to read %s in r%d: %v", svnPath, r.revnum, err)
	}
	r.e.Stats.add(head, length)
	return txn.AddFile(path, mode, length, br)
}

// recursiveDumpDir adds every file below svnPath to txn under path, which ends in "/" or is empty.
// Sub-directories that are not exported to the same repository are left to their own rules.
func (r *revision) recursiveDumpDir(txn repository.Transaction, svnPath string, path string, repoName string, rs *rules.RuleSet) error {
	children, err := r.root.List(svnPath)
	if err != nil {
		return err
	}
	for _, child := range children {
		childPath := strings.TrimSuffix(svnPath, "/") + "/" + child.Name
		if !child.IsDir {
			if c, ok := r.changes[childPath]; ok && c.Kind != source.Delete {
				r.e.logger.Debugf("%s is in the change-list, deferring to that one", childPath)
				continue
			}
			if err := r.dumpBlob(txn, childPath, path+child.Name); err != nil {
				return err
			}
			continue
		}
		m := rules.FindMatchRule(rs.Matches, r.revnum, childPath+"/", rules.AnyRule)
		if m == nil {
			continue
		}
		if _, childRepo, _, _ := m.SplitPath(childPath + "/"); m.Action != rules.Export || childRepo != repoName {
			if r.e.opts.DebugRules {
				r.e.logger.Debugf("recursiveDumpDir: %s/ skip entry for different/ignored repository", childPath)
			}
			continue
		}
		if err := r.recursiveDumpDir(txn, childPath, path+child.Name+"/", repoName, rs); err != nil {
			return err
		}
	}
	return nil
}
