// Package rules loads svn-to-git rules files and matches subversion paths
// against them.
//
// A rules file declares the target repositories and an ordered list of match
// rules. The first rule whose regular expression matches a path (anchored at
// the start of the path) decides what happens to it.
package rules

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/rcowham/svn2gitfi/errkind"
	"github.com/warpfork/go-errcat"
)

// Action - what to do with a matched path
type Action int

const (
	Ignore Action = iota
	Export
	Recurse
)

func (a Action) String() string {
	switch a {
	case Export:
		return "export"
	case Recurse:
		return "recurse"
	}
	return "ignore"
}

// Location of a declaration, used in diagnostics
type Location struct {
	File string
	Line int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Repository - a "create repository" block
type Repository struct {
	Name        string
	ForwardTo   string // Other repository receiving this one's commits, if any
	Prefix      string // Path prefix inside the forwarded repository
	Branches    []string
	Description string
	Location
}

// Match - a "match" block
type Match struct {
	Pattern     string
	Rx          *regexp.Regexp // Pattern anchored at start of path
	Repository  string         // Template, may reference capture groups
	Branch      string         // Template, may reference capture groups
	Prefix      string         // Template, may reference capture groups
	MinRevision int            // Inclusive, 0 means no lower bound
	MaxRevision int            // Inclusive, 0 means no upper bound
	Action      Action
	Annotate    bool
	Location
	Matches int // Number of times this rule decided a path, for --stats

	actionSet bool
}

func (m *Match) String() string {
	return fmt.Sprintf("%s (%s)", m.Pattern, m.Location)
}

// RuleSet - the contents of one rules file including its includes
type RuleSet struct {
	Filename     string
	Repositories []*Repository
	Matches      []*Match
}

var (
	reRepoLine       = regexp.MustCompile(`(?i)^create repository\s+(\S+)$`)
	reRepoBranch     = regexp.MustCompile(`(?i)^branch\s+(\S+)$`)
	reRepoForward    = regexp.MustCompile(`(?i)^repository\s+(\S+)$`)
	reRepoPrefix     = regexp.MustCompile(`(?i)^prefix\s+(\S+)$`)
	reRepoDesc       = regexp.MustCompile(`(?i)^description\s+(.+)$`)
	reMatchLine      = regexp.MustCompile(`(?i)^match\s+(.*)$`)
	reMatchAction    = regexp.MustCompile(`(?i)^action\s+(\w+)$`)
	reMatchRepo      = regexp.MustCompile(`(?i)^repository\s+(\S+)$`)
	reMatchBranch    = regexp.MustCompile(`(?i)^branch\s+(\S+)$`)
	reMatchPrefix    = regexp.MustCompile(`(?i)^prefix\s+(\S*)$`)
	reMatchRev       = regexp.MustCompile(`(?i)^(min|max) revision (\d+)$`)
	reMatchAnnotate  = regexp.MustCompile(`(?i)^annotated\s+(\S+)$`)
	reDeclareLine    = regexp.MustCompile(`(?i)^declare\s+([A-Za-z_][A-Za-z0-9_]*)\s*=\s*(.*)$`)
	reIncludeLine    = regexp.MustCompile(`(?i)^include\s+(.+)$`)
	reVariable       = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)
	reBackReference  = regexp.MustCompile(`\\(\d)`)
	reEndRepository  = regexp.MustCompile(`(?i)^end repository$`)
	reEndMatch       = regexp.MustCompile(`(?i)^end match$`)
	defaultBranch    = "master"
	maxIncludeDepth  = 32
	readingNone      = 0
	readingRepo      = 1
	readingMatchRule = 2
)

type loader struct {
	rs        *RuleSet
	variables map[string]string
	depth     int
}

// LoadFile reads a rules file and all files it includes
func LoadFile(filename string) (*RuleSet, error) {
	expanded, err := homedir.Expand(filename)
	if err != nil {
		return nil, errcat.Errorf(errkind.ErrConfig, "failed to expand %s: %v", filename, err)
	}
	l := &loader{rs: &RuleSet{Filename: expanded}, variables: make(map[string]string)}
	if err := l.load(expanded); err != nil {
		return nil, err
	}
	if err := l.rs.validate(); err != nil {
		return nil, err
	}
	return l.rs, nil
}

func (l *loader) load(filename string) error {
	if l.depth > maxIncludeDepth {
		return errcat.Errorf(errkind.ErrConfig, "includes nested too deeply at %s", filename)
	}
	f, err := os.Open(filename)
	if err != nil {
		return errcat.Errorf(errkind.ErrConfig, "failed to open rules file %s: %v", filename, err)
	}
	defer f.Close()

	state := readingNone
	var repo *Repository
	var match *Match
	lineNumber := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lineNumber++
		loc := Location{File: filename, Line: lineNumber}
		origLine := scanner.Text()
		line := origLine
		if hash := strings.IndexByte(line, '#'); hash != -1 {
			line = line[:hash]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		line, err = l.substitute(line, loc)
		if err != nil {
			return err
		}

		switch state {
		case readingRepo:
			if m := reRepoBranch.FindStringSubmatch(line); m != nil {
				repo.Branches = append(repo.Branches, m[1])
				continue
			} else if m := reRepoForward.FindStringSubmatch(line); m != nil {
				repo.ForwardTo = m[1]
				continue
			} else if m := reRepoPrefix.FindStringSubmatch(line); m != nil {
				repo.Prefix = m[1]
				continue
			} else if m := reRepoDesc.FindStringSubmatch(line); m != nil {
				repo.Description = m[1]
				continue
			} else if reEndRepository.MatchString(line) {
				l.rs.Repositories = append(l.rs.Repositories, repo)
				state = readingNone
				continue
			}
		case readingMatchRule:
			if m := reMatchRepo.FindStringSubmatch(line); m != nil {
				match.Repository = m[1]
				continue
			} else if m := reMatchBranch.FindStringSubmatch(line); m != nil {
				match.Branch = m[1]
				continue
			} else if m := reMatchPrefix.FindStringSubmatch(line); m != nil {
				match.Prefix = m[1]
				continue
			} else if m := reMatchRev.FindStringSubmatch(line); m != nil {
				n, _ := strconv.Atoi(m[2])
				if strings.EqualFold(m[1], "min") {
					match.MinRevision = n
				} else {
					match.MaxRevision = n
				}
				continue
			} else if m := reMatchAction.FindStringSubmatch(line); m != nil {
				switch strings.ToLower(m[1]) {
				case "export":
					match.Action = Export
				case "ignore":
					match.Action = Ignore
				case "recurse":
					match.Action = Recurse
				default:
					return errcat.Errorf(errkind.ErrConfig, "invalid action \"%s\" at %s", m[1], loc)
				}
				match.actionSet = true
				continue
			} else if m := reMatchAnnotate.FindStringSubmatch(line); m != nil {
				v, err := strconv.ParseBool(m[1])
				if err != nil {
					return errcat.Errorf(errkind.ErrConfig, "invalid annotated value \"%s\" at %s", m[1], loc)
				}
				match.Annotate = v
				continue
			} else if reEndMatch.MatchString(line) {
				if err := match.finish(); err != nil {
					return err
				}
				l.rs.Matches = append(l.rs.Matches, match)
				state = readingNone
				continue
			}
		}

		if state != readingNone {
			return errcat.Errorf(errkind.ErrConfig, "malformed line in rules file at %s: %s", loc, origLine)
		}
		if m := reRepoLine.FindStringSubmatch(line); m != nil {
			state = readingRepo
			repo = &Repository{Name: m[1], Location: loc}
		} else if m := reMatchLine.FindStringSubmatch(line); m != nil {
			rx, err := regexp.Compile(`^(?:` + m[1] + `)`)
			if err != nil {
				return errcat.Errorf(errkind.ErrConfig, "failed to parse '%s' as a regex at %s: %v", m[1], loc, err)
			}
			state = readingMatchRule
			match = &Match{Pattern: m[1], Rx: rx, Location: loc}
		} else if m := reDeclareLine.FindStringSubmatch(line); m != nil {
			l.variables[m[1]] = strings.TrimSpace(m[2])
		} else if m := reIncludeLine.FindStringSubmatch(line); m != nil {
			inc := strings.TrimSpace(m[1])
			if inc, err = homedir.Expand(inc); err != nil {
				return errcat.Errorf(errkind.ErrConfig, "failed to expand include at %s: %v", loc, err)
			}
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(filename), inc)
			}
			l.depth++
			err := l.load(inc)
			l.depth--
			if err != nil {
				return err
			}
		} else {
			return errcat.Errorf(errkind.ErrConfig, "malformed line in rules file at %s: %s", loc, origLine)
		}
	}
	if err := scanner.Err(); err != nil {
		return errcat.Errorf(errkind.ErrConfig, "failed to read rules file %s: %v", filename, err)
	}
	switch state {
	case readingRepo:
		return errcat.Errorf(errkind.ErrConfig, "missing 'end repository' for block at %s", repo.Location)
	case readingMatchRule:
		return errcat.Errorf(errkind.ErrConfig, "missing 'end match' for block at %s", match.Location)
	}
	return nil
}

// Replace ${NAME} references with declared values
func (l *loader) substitute(line string, loc Location) (string, error) {
	var missing string
	result := reVariable.ReplaceAllStringFunc(line, func(ref string) string {
		name := ref[2 : len(ref)-1]
		v, ok := l.variables[name]
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", errcat.Errorf(errkind.ErrConfig, "undeclared variable '%s' at %s", missing, loc)
	}
	return result, nil
}

// Convert \N back references into the ${N} form used by regexp.Expand
func expandTemplate(tmpl string) string {
	tmpl = strings.ReplaceAll(tmpl, "$", "$$")
	return reBackReference.ReplaceAllString(tmpl, "$${$1}")
}

func (m *Match) finish() error {
	if !m.actionSet {
		if m.Repository != "" {
			m.Action = Export
		} else {
			m.Action = Ignore
		}
	}
	if m.Action == Export && m.Repository == "" {
		return errcat.Errorf(errkind.ErrConfig, "rule %s exports but names no repository", m)
	}
	if m.Branch == "" {
		m.Branch = defaultBranch
	}
	if m.MaxRevision != 0 && m.MinRevision > m.MaxRevision {
		return errcat.Errorf(errkind.ErrConfig, "rule %s has min revision %d above max revision %d", m, m.MinRevision, m.MaxRevision)
	}
	m.Repository = expandTemplate(m.Repository)
	m.Branch = expandTemplate(m.Branch)
	m.Prefix = expandTemplate(m.Prefix)
	return nil
}

func (rs *RuleSet) validate() error {
	names := make(map[string]*Repository)
	for _, r := range rs.Repositories {
		if prev, ok := names[r.Name]; ok {
			return errcat.Errorf(errkind.ErrConfig, "repository %s at %s already declared at %s", r.Name, r.Location, prev.Location)
		}
		names[r.Name] = r
	}
	for _, r := range rs.Repositories {
		if r.ForwardTo == "" {
			if r.Prefix != "" {
				return errcat.Errorf(errkind.ErrConfig, "repository %s at %s has a prefix but does not forward to another repository", r.Name, r.Location)
			}
			continue
		}
		if _, ok := names[r.ForwardTo]; !ok {
			return errcat.Errorf(errkind.ErrConfig, "repository %s at %s forwards to undeclared repository %s", r.Name, r.Location, r.ForwardTo)
		}
	}
	return nil
}

// Merge combines repository declarations from several rule sets, rejecting
// conflicting duplicates.
func Merge(sets []*RuleSet) ([]*Repository, error) {
	result := make([]*Repository, 0)
	seen := make(map[string]*Repository)
	for _, rs := range sets {
		for _, r := range rs.Repositories {
			if prev, ok := seen[r.Name]; ok {
				if prev.ForwardTo != r.ForwardTo || prev.Prefix != r.Prefix {
					return nil, errcat.Errorf(errkind.ErrConfig, "repository %s at %s conflicts with declaration at %s", r.Name, r.Location, prev.Location)
				}
				prev.Branches = append(prev.Branches, r.Branches...)
				continue
			}
			cp := *r
			cp.Branches = append([]string{}, r.Branches...)
			seen[r.Name] = &cp
			result = append(result, &cp)
		}
	}
	return result, nil
}
