package repository

import (
	"bytes"
	"io"
	"math"
	"os"

	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/rcowham/svn2gitfi/journal"
	"github.com/termie/go-shutil"
	"github.com/warpfork/go-errcat"
)

func (r *FastImport) backupLogFileName() string {
	return r.logFileName() + ".old"
}

func (r *FastImport) backupDumpFileName() string {
	return r.dumpFileName() + ".old"
}

// SetupIncremental rebuilds the branch table from the protocol log. Records at
// or beyond cutoff are dropped by truncating the log, after saving it as
// log-<name>.old. In dump mode <name>.fi is cut back to the same revision.
// A record whose mark git never saved moves cutoff back to that record's
// revision. Returns the first revision not yet converted.
func (r *FastImport) SetupIncremental(cutoff *int) (int, error) {
	logFile := r.logFileName()
	f, err := os.Open(logFile)
	if os.IsNotExist(err) {
		return 1, nil
	}
	if err != nil {
		return 0, errcat.Errorf(errkind.ErrResume, "failed to open log %s: %v", logFile, err)
	}
	defer f.Close()

	lastValid := math.MaxInt
	if r.opts.Mode == ModeGit {
		lastValid = journal.LastValidMark(r.marksFileName())
	}
	lastRev := 0
	stopped := false
	var truncateAt int64
	err = journal.Scan(f, func(p journal.Progress) bool {
		if p.Rev >= *cutoff {
			stopped, truncateAt = true, p.Offset
			return false
		}
		if p.Rev < lastRev {
			r.logger.Warnf("%s revision numbers are not monotonic: got r%d and then r%d", r.name, lastRev, p.Rev)
		}
		if p.Mark > lastValid {
			r.logger.Warnf("%s unknown commit mark :%d found: rewinding -- did you hit Ctrl-C?", r.name, p.Mark)
			*cutoff = p.Rev
			stopped, truncateAt = true, p.Offset
			return false
		}
		lastRev = p.Rev
		if p.Mark > r.marks.lastCommitMark {
			r.marks.lastCommitMark = p.Mark
		}
		br := r.branches.get(p.Branch)
		if br.Created == 0 || p.Mark == 0 || !br.live() {
			br.Created = p.Rev
		}
		br.record(p.Rev, p.Mark)
		return true
	})
	if err != nil {
		return 0, errcat.Errorf(errkind.ErrResume, "failed to read log %s: %v", logFile, err)
	}
	f.Close()

	backup := r.backupLogFileName()
	if !stopped {
		next := lastRev + 1
		if next == *cutoff && r.opts.Mode != ModeDryRun && !isPrefix(logFile, backup) {
			// A stale backup would be restored by RestoreLog
			os.Remove(backup)
			os.Remove(r.backupDumpFileName())
		}
		return next, nil
	}

	r.logger.Infof("%s truncating history to revision %d", r.name, *cutoff)
	if r.opts.Mode == ModeDryRun {
		return *cutoff, nil
	}
	// Set up again after a rewind: the backup already holds the whole log
	keepBackup := isPrefix(logFile, backup)
	if err := truncateFile(logFile, backup, truncateAt, keepBackup); err != nil {
		return 0, err
	}
	if r.opts.Mode == ModeDump {
		if err := r.truncateDump(*cutoff, keepBackup); err != nil {
			return 0, err
		}
	}
	return *cutoff, nil
}

// truncateDump cuts <name>.fi after the last record before cutoff. Annotated
// tags written after that point are kept when their branch still exists, as
// they are only written again if their revision is converted again.
func (r *FastImport) truncateDump(cutoff int, keepBackup bool) error {
	dump := r.dumpFileName()
	f, err := os.Open(dump)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to open %s: %v", dump, err)
	}
	defer f.Close()
	var keep int64
	err = journal.Scan(f, func(p journal.Progress) bool {
		if p.Rev >= cutoff {
			return false
		}
		keep = p.End
		return true
	})
	if err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to read %s: %v", dump, err)
	}
	if _, err := f.Seek(keep, io.SeekStart); err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to read %s: %v", dump, err)
	}
	tags, err := journal.ScanTags(f)
	if err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to read %s: %v", dump, err)
	}
	f.Close()

	if err := truncateFile(dump, r.backupDumpFileName(), keep, keepBackup); err != nil {
		return err
	}
	live := make(map[string]bool)
	for _, name := range r.branches.Names() {
		if r.branches.Get(name).live() {
			live[branchRef(name)] = true
		}
	}
	out, err := os.OpenFile(dump, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to open %s: %v", dump, err)
	}
	for _, tag := range tags {
		if !live[tag.From] {
			r.logger.Debugf("%s dropping tag %s as %s is not there yet", r.name, tag.Name, tag.From)
			continue
		}
		if _, err := out.Write(tag.Text); err != nil {
			out.Close()
			return errcat.Errorf(errkind.ErrResume, "failed to write %s: %v", dump, err)
		}
	}
	if err := out.Close(); err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to write %s: %v", dump, err)
	}
	return nil
}

// truncateFile saves name as backup, unless keepBackup and one exists, and cuts it to size
func truncateFile(name, backup string, size int64, keepBackup bool) error {
	if _, err := os.Stat(backup); !keepBackup || err != nil {
		os.Remove(backup)
		if err := shutil.CopyFile(name, backup, false); err != nil {
			return errcat.Errorf(errkind.ErrResume, "failed to back up %s: %v", name, err)
		}
	}
	if err := os.Truncate(name, size); err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to truncate %s: %v", name, err)
	}
	return nil
}

// isPrefix reports whether backup starts with the whole contents of name
func isPrefix(name, backup string) bool {
	a, err := os.Open(name)
	if err != nil {
		return false
	}
	defer a.Close()
	b, err := os.Open(backup)
	if err != nil {
		return false
	}
	defer b.Close()
	bufA := make([]byte, 64*1024)
	bufB := make([]byte, len(bufA))
	for {
		n, err := io.ReadFull(a, bufA)
		if n > 0 {
			if m, _ := io.ReadFull(b, bufB[:n]); m != n || !bytes.Equal(bufA[:n], bufB[:n]) {
				return false
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return true
		}
		if err != nil {
			return false
		}
	}
}

// RestoreLog puts back the files saved by a truncating SetupIncremental
func (r *FastImport) RestoreLog() error {
	if err := r.restoreFile(r.logFileName(), r.backupLogFileName()); err != nil {
		return err
	}
	return r.restoreFile(r.dumpFileName(), r.backupDumpFileName())
}

func (r *FastImport) restoreFile(name, backup string) error {
	if _, err := os.Stat(backup); err != nil {
		return nil
	}
	r.logger.Infof("%s restoring %s from %s", r.name, name, backup)
	os.Remove(name)
	if err := os.Rename(backup, name); err != nil {
		return errcat.Errorf(errkind.ErrResume, "failed to restore %s: %v", name, err)
	}
	return nil
}
