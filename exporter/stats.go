package exporter

import (
	"sort"

	"github.com/h2non/filetype"
	"github.com/sirupsen/logrus"
)

// Content kinds, from the magic numbers at the start of a file
const (
	KindText     = "text"
	KindDocument = "document"
	KindImage    = "image"
	KindArchive  = "archive"
	KindMedia    = "media"
)

// filetype needs at most this many bytes to recognise a type
const sniffLen = 261

// ContentStats - bytes and files exported, by content kind
type ContentStats struct {
	Bytes map[string]int64
	Files map[string]int
}

func newContentStats() *ContentStats {
	return &ContentStats{Bytes: make(map[string]int64), Files: make(map[string]int)}
}

func classify(head []byte) string {
	if filetype.IsImage(head) {
		return KindImage
	}
	if filetype.IsVideo(head) || filetype.IsAudio(head) {
		return KindMedia
	}
	if filetype.IsArchive(head) {
		return KindArchive
	}
	if filetype.IsDocument(head) {
		return KindDocument
	}
	return KindText
}

func (s *ContentStats) add(head []byte, length int64) {
	kind := classify(head)
	s.Bytes[kind] += length
	s.Files[kind]++
}

// Log the totals
func (s *ContentStats) Log(logger *logrus.Logger) {
	kinds := make([]string, 0, len(s.Files))
	for k := range s.Files {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		logger.Infof("exported %d %s files, %d bytes", s.Files[k], k, s.Bytes[k])
	}
}
