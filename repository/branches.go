package repository

import (
	"fmt"
	"sort"
	"strings"
)

// Branch - history of one branch. Commits[i] is the revision at which
// Marks[i] became the branch tip; a mark of 0 means the branch was deleted.
type Branch struct {
	Created int // Revision the branch came to life, 0 if it never has
	Commits []int
	Marks   []int
}

func (b *Branch) live() bool {
	return len(b.Marks) > 0 && b.Marks[len(b.Marks)-1] != 0
}

func (b *Branch) tip() int {
	if len(b.Marks) == 0 {
		return 0
	}
	return b.Marks[len(b.Marks)-1]
}

// Revisions stay strictly increasing: a second record in the same revision replaces the first
func (b *Branch) record(rev int, mark int) {
	n := len(b.Commits)
	if n > 0 && b.Commits[n-1] == rev {
		b.Marks[n-1] = mark
		return
	}
	b.Commits = append(b.Commits, rev)
	b.Marks = append(b.Marks, mark)
}

// BranchTable - the branches of one repository
type BranchTable struct {
	branches map[string]*Branch
}

func newBranchTable() *BranchTable {
	return &BranchTable{branches: make(map[string]*Branch)}
}

// Declare marks a branch as existing from revision 1
func (t *BranchTable) Declare(name string) {
	t.get(name).Created = 1
}

// Get a branch, nil if never seen
func (t *BranchTable) Get(name string) *Branch {
	return t.branches[name]
}

func (t *BranchTable) get(name string) *Branch {
	b, ok := t.branches[name]
	if !ok {
		b = &Branch{}
		t.branches[name] = b
	}
	return b
}

// Exists - branch is known and has been created
func (t *BranchTable) Exists(name string) bool {
	b, ok := t.branches[name]
	return ok && b.Created != 0
}

// Names sorted
func (t *BranchTable) Names() []string {
	names := make([]string, 0, len(t.branches))
	for k := range t.branches {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ResolveMark returns the tip of branch as of revision rev. found is false if
// the branch never existed or had no history that early. A mark of 0 means
// the branch was deleted or has no commits yet. desc describes the lookup
// for progress comments.
func (t *BranchTable) ResolveMark(branch string, rev int) (mark int, desc string, found bool) {
	desc = fmt.Sprintf(" at r%d", rev)
	b, ok := t.branches[branch]
	if !ok || b.Created == 0 {
		return 0, desc, false
	}
	if len(b.Commits) == 0 {
		return 0, desc, true
	}
	i := sort.SearchInts(b.Commits, rev+1) - 1
	if i < 0 {
		return 0, desc, false
	}
	if b.Commits[i] != rev {
		desc += fmt.Sprintf(" => r%d", b.Commits[i])
	}
	return b.Marks[i], desc, true
}

// Full ref name of a branch
func branchRef(branch string) string {
	if strings.HasPrefix(branch, "refs/") {
		return branch
	}
	return "refs/heads/" + branch
}
