package rules

import (
	"sort"

	"github.com/sirupsen/logrus"
)

// Mask - filters rule actions out of a lookup
type Mask int

const (
	AnyRule       Mask = 0
	NoIgnoreRule  Mask = 1
	NoRecurseRule Mask = 2
)

// FindMatchRule returns the first rule applicable at rev that matches path
// from its start, or nil.
func FindMatchRule(matches []*Match, rev int, path string, mask Mask) *Match {
	for _, m := range matches {
		if m.MinRevision > rev {
			continue
		}
		if m.MaxRevision != 0 && m.MaxRevision < rev {
			continue
		}
		if mask&NoIgnoreRule != 0 && m.Action == Ignore {
			continue
		}
		if mask&NoRecurseRule != 0 && m.Action == Recurse {
			continue
		}
		if m.Rx.MatchString(path) {
			return m
		}
	}
	return nil
}

// SplitPath divides path into the part consumed by the rule's pattern and the
// target repository, branch and in-repository path the rule maps it to.
// The rule must match path.
func (m *Match) SplitPath(path string) (svnprefix, repository, branch, repoPath string) {
	loc := m.Rx.FindStringSubmatchIndex(path)
	if loc == nil {
		return "", "", "", path
	}
	svnprefix = path[:loc[1]]
	repository = string(m.Rx.ExpandString(nil, m.Repository, path, loc))
	branch = string(m.Rx.ExpandString(nil, m.Branch, path, loc))
	repoPath = string(m.Rx.ExpandString(nil, m.Prefix, path, loc)) + path[loc[1]:]
	return svnprefix, repository, branch, repoPath
}

// Engine - matches paths against every loaded ruleset, counting matches
type Engine struct {
	logger     *logrus.Logger
	Sets       []*RuleSet
	debugRules bool
}

// NewEngine - create an engine over rulesets in command line order
func NewEngine(logger *logrus.Logger, sets []*RuleSet, debugRules bool) *Engine {
	return &Engine{logger: logger, Sets: sets, debugRules: debugRules}
}

// Find - FindMatchRule with rule tracing and match counting
func (e *Engine) Find(rs *RuleSet, rev int, path string, mask Mask) *Match {
	m := FindMatchRule(rs.Matches, rev, path, mask)
	if m == nil {
		if e.debugRules {
			e.logger.Debugf("rev %d: %s matched no rule in %s", rev, path, rs.Filename)
		}
		return nil
	}
	m.Matches++
	if e.debugRules {
		e.logger.Debugf("rev %d: %s matched rule %s action %s", rev, path, m, m.Action)
	}
	return m
}

// LogStats reports how often each rule matched and which rules never did
func (e *Engine) LogStats() {
	unused := make([]*Match, 0)
	for _, rs := range e.Sets {
		for _, m := range rs.Matches {
			if m.Matches == 0 {
				unused = append(unused, m)
				continue
			}
			e.logger.Infof("rule %s matched %d times", m, m.Matches)
		}
	}
	sort.SliceStable(unused, func(i, j int) bool {
		if unused[i].File != unused[j].File {
			return unused[i].File < unused[j].File
		}
		return unused[i].Line < unused[j].Line
	})
	for _, m := range unused {
		e.logger.Warnf("rule %s was never matched", m)
	}
}
