package repository

import (
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/warpfork/go-errcat"
)

// MaxMark - blob marks count down from here, commit marks up from 1
const MaxMark = (1 << 20) - 1

type markAllocator struct {
	lastCommitMark int
	nextFileMark   int
}

func newMarkAllocator() markAllocator {
	return markAllocator{nextFileMark: MaxMark}
}

func (m *markAllocator) exhausted() error {
	return errcat.Errorf(errkind.ErrMarkExhausted,
		"mark space exhausted: next file mark %d, last commit mark %d", m.nextFileMark, m.lastCommitMark)
}

func (m *markAllocator) nextCommit() (int, error) {
	m.lastCommitMark++
	if m.nextFileMark <= m.lastCommitMark+1 {
		return 0, m.exhausted()
	}
	return m.lastCommitMark, nil
}

func (m *markAllocator) nextFile() (int, error) {
	mark := m.nextFileMark
	m.nextFileMark--
	if m.nextFileMark <= m.lastCommitMark+1 {
		return 0, m.exhausted()
	}
	return mark, nil
}

// Blob marks are only referenced by the commit that uses them
func (m *markAllocator) resetFileMarks() {
	m.nextFileMark = MaxMark
}
