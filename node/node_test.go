package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddAndList(t *testing.T) {
	n := &Node{}
	n.AddFile("trunk/src/a.c", []byte("a"), FileProps{})
	n.AddFile("trunk/src/b.sh", []byte("b"), FileProps{Executable: true})
	n.AddFile("trunk/README", []byte("r"), FileProps{})
	n.AddDir("branches")

	assert.Equal(t, []string{"trunk/README", "trunk/src/a.c", "trunk/src/b.sh"}, n.GetFiles(""))
	assert.Equal(t, []string{"trunk/src/a.c", "trunk/src/b.sh"}, n.GetFiles("trunk/src"))

	src := n.Lookup("trunk/src")
	assert.NotNil(t, src)
	assert.False(t, src.IsFile)
	assert.Equal(t, "trunk/src", src.Path)

	names := []string{}
	for _, c := range n.Lookup("trunk").List() {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"README", "src"}, names)

	assert.True(t, n.Lookup("trunk/src/b.sh").Executable)
	assert.True(t, n.FindFile("trunk/README"))
	assert.False(t, n.FindFile("trunk/src"))
	assert.NotNil(t, n.Lookup("branches"))
	assert.Nil(t, n.Lookup("trunk/README/x"))
}

func TestReplaceFile(t *testing.T) {
	n := &Node{}
	n.AddFile("a.txt", []byte("one"), FileProps{})
	n.AddFile("a.txt", []byte("two"), FileProps{})
	assert.Equal(t, 1, len(n.Children))
	assert.Equal(t, "two", string(n.Lookup("a.txt").Content))
}

func TestDelete(t *testing.T) {
	n := &Node{}
	n.AddFile("trunk/src/a.c", []byte("a"), FileProps{})
	n.AddFile("trunk/src/b.c", []byte("b"), FileProps{})
	assert.True(t, n.Delete("trunk/src/a.c"))
	assert.Equal(t, []string{"trunk/src/b.c"}, n.GetFiles(""))
	assert.True(t, n.Delete("trunk"))
	assert.Empty(t, n.GetFiles(""))
	assert.False(t, n.Delete("trunk"))
}

func TestCloneIsIndependent(t *testing.T) {
	n := &Node{}
	n.AddFile("trunk/a.c", []byte("a"), FileProps{})
	c := n.Clone("")
	c.AddFile("trunk/b.c", []byte("b"), FileProps{})
	c.Delete("trunk/a.c")
	assert.Equal(t, []string{"trunk/a.c"}, n.GetFiles(""))
	assert.Equal(t, []string{"trunk/b.c"}, c.GetFiles(""))
}

func TestGraft(t *testing.T) {
	n := &Node{}
	n.AddFile("trunk/src/a.c", []byte("a"), FileProps{Symlink: true})
	n.Graft("branches/v1", n.Lookup("trunk"))
	assert.Equal(t, []string{"branches/v1/src/a.c", "trunk/src/a.c"}, n.GetFiles(""))
	f := n.Lookup("branches/v1/src/a.c")
	assert.Equal(t, "a.c", f.Name)
	assert.True(t, f.Symlink)
	assert.Equal(t, "branches/v1", n.Lookup("branches/v1").Path)
}
