package exporter

import (
	"sort"
	"strings"

	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/rules"
	"github.com/rcowham/svn2gitfi/source"
	"github.com/warpfork/go-errcat"
)

// Paths are processed in byte order so conversions are repeatable
func sortChanges(changes []source.Change) {
	sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
}

// entry - a path being dispatched, either a changed path or one found by recursion
type entry struct {
	path     string // No trailing "/"
	kind     source.ChangeKind
	copyFrom string // Empty if not copied
	revFrom  int
}

// current is the path rules are matched against
func (en *entry) current(isDir bool) string {
	if isDir {
		return en.path + "/"
	}
	return en.path
}

func (r *revision) exportEntry(c source.Change) error {
	logger := r.e.logger
	en := &entry{path: c.Path, kind: c.Kind, copyFrom: c.CopyFromPath, revFrom: c.CopyFromRev}

	isDir := false
	var err error
	if c.Kind == source.Delete {
		// Gone from this revision, so look at the one before
		if isDir, err = r.wasDir(r.revnum-1, c.Path); err != nil {
			return err
		}
	} else {
		if isDir, err = r.root.IsDir(c.Path); err != nil {
			return err
		}
		if isDir {
			switch c.Kind {
			case source.Add, source.Modify:
				if en.copyFrom == "" {
					// New directory or property change: git only tracks files
					return nil
				}
				logger.Debugf("%s was copied from %s rev %d", c.Path, en.copyFrom, en.revFrom)
			case source.Replace:
				if en.copyFrom == "" {
					logger.Debugf("%s was replaced", c.Path)
				} else {
					logger.Debugf("%s was replaced from %s rev %d", c.Path, en.copyFrom, en.revFrom)
				}
			default:
				return errcat.Errorf(errkind.ErrSource, "%s was reset in r%d, panic!", c.Path, r.revnum)
			}
		}
	}
	current := en.current(isDir)

	handled := false
	for _, rs := range r.e.engine.Sets {
		m := r.e.engine.Find(rs, r.revnum, current, rules.AnyRule)
		switch {
		case m != nil:
			if err := r.exportDispatch(en, current, m, rs); err != nil {
				return err
			}
			handled = true
		case isDir && en.copyFrom != "":
			logger.Debugf("%s is a copy-with-history, auto-recursing", current)
			if err := r.recurse(en, rs); err != nil {
				return err
			}
			handled = true
		case isDir && c.Kind == source.Delete:
			logger.Debugf("%s deleted, auto-recursing", current)
			if err := r.recurse(en, rs); err != nil {
				return err
			}
			handled = true
		}
	}
	if handled {
		return nil
	}
	wasDir, err := r.wasDir(r.revnum-1, c.Path)
	if err != nil {
		return err
	}
	if wasDir {
		logger.Debugf("%s was a directory; ignoring", current)
		return nil
	}
	if c.Kind == source.Delete {
		logger.Debugf("%s is being deleted but I don't know anything about it; ignoring", current)
		return nil
	}
	return errcat.Errorf(errkind.ErrUnmappedPath, "%s did not match any rules in r%d; cannot continue", current, r.revnum)
}

func (r *revision) exportDispatch(en *entry, current string, m *rules.Match, rs *rules.RuleSet) error {
	switch m.Action {
	case rules.Ignore:
		return nil
	case rules.Recurse:
		return r.recurse(en, rs)
	}
	err := r.exportInternal(en, current, m, rs)
	if err == nil {
		return nil
	}
	if en.kind != source.Delete || !errkind.Is(err, errkind.ErrUnknownRepo) {
		return err
	}
	// Recursing can only ignore or delete further, which is safe for a deletion
	r.e.logger.Warnf("deleting unknown path %s; auto-recursing", current)
	return r.recurse(en, rs)
}

func (r *revision) exportInternal(en *entry, current string, m *rules.Match, rs *rules.RuleSet) error {
	logger := r.e.logger
	r.needCommit = true
	svnprefix, repoName, branch, path := m.SplitPath(current)
	repo, ok := r.e.repos[repoName]
	if !ok {
		return errcat.Errorf(errkind.ErrUnknownRepo, "rule %s references unknown repository %s", m, repoName)
	}

	if en.kind == source.Delete && current == svnprefix && path == "" && !repo.HasPrefix() {
		logger.Debugf("repository %s branch %s deleted", repoName, branch)
		return repo.DeleteBranch(branch, r.revnum)
	}

	copyFrom := en.copyFrom
	var previous, prevSvnprefix, prevRepoName, prevBranch, prevPath string
	if copyFrom != "" {
		wasDir, err := r.wasDir(en.revFrom, copyFrom)
		if err != nil {
			return err
		}
		previous = copyFrom
		if wasDir {
			previous += "/"
		}
		pm := r.e.engine.Find(rs, en.revFrom, previous, rules.NoIgnoreRule)
		if pm != nil {
			prevSvnprefix, prevRepoName, prevBranch, prevPath = pm.SplitPath(previous)
		} else {
			logger.Warnf("SVN reports a \"copy from\" @%d from %s @%d but no matching rules found! Ignoring copy, treating as a modification",
				r.revnum, copyFrom, en.revFrom)
			copyFrom = ""
		}
	}

	// current == svnprefix means this is the whole of a branch
	if copyFrom != "" && current == svnprefix && path == "" {
		effective := repo.EffectiveName()
		prevEffective := prevRepoName
		if prevRepo, ok := r.e.repos[prevRepoName]; ok {
			prevEffective = prevRepo.EffectiveName()
		}
		switch {
		case previous != prevSvnprefix:
			logger.Debugf("%s is a partial branch of repository %s branch %s subdir %s", current, prevRepoName, prevBranch, prevPath)
		case prevEffective != effective:
			logger.Warnf("%s rev %d is a cross-repository copy (from repository %s branch %s path %s rev %d)",
				current, r.revnum, prevRepoName, prevBranch, prevPath, en.revFrom)
		case path != prevPath:
			logger.Debugf("%s is a branch copy which renames base directory of all contents %s to %s", current, prevPath, path)
		default:
			if prevBranch == branch {
				logger.Debugf("%s rev %d is reseating branch %s to an earlier revision %s rev %d", current, r.revnum, branch, previous, en.revFrom)
			} else {
				logger.Debugf("%s: branch %s is branching from %s", repoName, branch, prevBranch)
			}
			if err := repo.CreateBranch(branch, r.revnum, prevBranch, en.revFrom); err != nil {
				return err
			}
			if m.Annotate {
				if err := r.fetchRevProps(); err != nil {
					return err
				}
				repo.CreateAnnotatedTag(branch, svnprefix, r.revnum, r.author, r.props.Date, r.log)
			}
			return nil
		}
	}

	txn, err := r.transaction(repo, repoName, branch, svnprefix)
	if err != nil {
		return err
	}
	// Copies are the only record of merges, so treat copies between
	// branches of one repository as merge points
	if copyFrom != "" && prevRepoName == repoName && prevBranch != branch {
		if r.e.opts.DebugRules {
			logger.Debugf("copy from branch %s to branch %s @rev %d", prevBranch, branch, en.revFrom)
		}
		txn.NoteCopyFromBranch(prevBranch, en.revFrom)
	}

	if en.kind == source.Replace && copyFrom == "" {
		txn.DeleteFile(path)
	}
	switch {
	case en.kind == source.Delete:
		txn.DeleteFile(path)
		return nil
	case !strings.HasSuffix(current, "/"):
		return r.dumpBlob(txn, en.path, path)
	default:
		// Clear out whatever was there, the directory may have been replaced
		txn.DeleteFile(path)
		return r.recursiveDumpDir(txn, en.path, path, repoName, rs)
	}
}

// recurse dispatches the children of a directory which has no rule of its own
func (r *revision) recurse(en *entry, rs *rules.RuleSet) error {
	logger := r.e.logger
	root := r.root
	if en.kind == source.Delete {
		prev, err := r.previous()
		if err != nil {
			return err
		}
		root = prev
	}
	exists, err := root.Exists(en.path)
	if err != nil {
		return err
	}
	if !exists {
		logger.Warnf("Trying to recurse using a nonexistent path %s, ignoring", en.path)
		return nil
	}
	isDir, err := root.IsDir(en.path)
	if err != nil {
		return err
	}
	if !isDir {
		logger.Warnf("Trying to recurse using a non-directory path %s, ignoring", en.path)
		return nil
	}
	children, err := root.List(en.path)
	if err != nil {
		return err
	}
	for _, child := range children {
		childPath := strings.TrimSuffix(en.path, "/") + "/" + child.Name
		if other, ok := r.changes[childPath]; ok && other.Kind == source.Add {
			logger.Debugf("%s rev %d is in the change-list, deferring to that one", childPath, r.revnum)
			continue
		}
		childEntry := &entry{path: childPath, kind: en.kind, revFrom: en.revFrom}
		if en.copyFrom != "" {
			childEntry.copyFrom = strings.TrimSuffix(en.copyFrom, "/") + "/" + child.Name
		}
		current := childEntry.current(child.IsDir)
		m := r.e.engine.Find(rs, r.revnum, current, rules.AnyRule)
		if m != nil {
			if err := r.exportDispatch(childEntry, current, m, rs); err != nil {
				return err
			}
			continue
		}
		if child.IsDir {
			logger.Debugf("%s rev %d did not match any rules; auto-recursing", current, r.revnum)
			if err := r.recurse(childEntry, rs); err != nil {
				return err
			}
			continue
		}
		if en.kind != source.Delete {
			return errcat.Errorf(errkind.ErrUnmappedPath, "%s rev %d did not match any rules; cannot continue", current, r.revnum)
		}
	}
	return nil
}
