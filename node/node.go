package node

import (
	"sort"
	"strings"
)

// Node - tree structure recording the contents of one subversion revision.
// Files carry their content and properties; directories only children.
// Revisions share nothing: each one is a Clone of its predecessor.
type Node struct {
	Name       string
	Path       string
	IsFile     bool
	Content    []byte
	Executable bool
	Symlink    bool
	Children   []*Node
}

// FileProps - properties set on a file when it is added
type FileProps struct {
	Executable bool
	Symlink    bool
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (n *Node) child(name string) *Node {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (n *Node) addSub(fullPath string, parts []string, leaf *Node) {
	if len(parts) == 1 {
		for i, c := range n.Children {
			if c.Name == parts[0] {
				n.Children[i] = leaf // replaced
				return
			}
		}
		n.Children = append(n.Children, leaf)
		return
	}
	c := n.child(parts[0])
	if c == nil || c.IsFile {
		dirPath := strings.TrimSuffix(fullPath, strings.Join(parts[1:], "/"))
		c = &Node{Name: parts[0], Path: strings.TrimSuffix(dirPath, "/")}
		n.addSub(fullPath, parts[:1], c)
	}
	c.addSub(fullPath, parts[1:], leaf)
}

// AddFile adds or replaces a file, creating parent directories as required
func (n *Node) AddFile(path string, content []byte, props FileProps) {
	path = strings.Trim(path, "/")
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}
	leaf := &Node{Name: parts[len(parts)-1], Path: path, IsFile: true,
		Content: content, Executable: props.Executable, Symlink: props.Symlink}
	n.addSub(path, parts, leaf)
}

// AddDir adds an empty directory if nothing exists at path
func (n *Node) AddDir(path string) {
	path = strings.Trim(path, "/")
	parts := splitPath(path)
	if len(parts) == 0 || n.Lookup(path) != nil {
		return
	}
	n.addSub(path, parts, &Node{Name: parts[len(parts)-1], Path: path})
}

func (n *Node) deleteSub(parts []string) bool {
	if len(parts) == 1 {
		for i, c := range n.Children {
			if c.Name == parts[0] {
				n.Children = append(n.Children[:i], n.Children[i+1:]...)
				return true
			}
		}
		return false
	}
	if c := n.child(parts[0]); c != nil && !c.IsFile {
		return c.deleteSub(parts[1:])
	}
	return false
}

// Delete removes a file or a whole directory, returning false if absent
func (n *Node) Delete(path string) bool {
	parts := splitPath(path)
	if len(parts) == 0 {
		return false
	}
	return n.deleteSub(parts)
}

// Lookup returns the node at path, the receiver for "" or "/", else nil
func (n *Node) Lookup(path string) *Node {
	cur := n
	for _, p := range splitPath(path) {
		if cur.IsFile {
			return nil
		}
		cur = cur.child(p)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// Clone returns a deep copy with paths rebased from the receiver's path to newPath.
// File content is shared as it is never modified in place.
func (n *Node) Clone(newPath string) *Node {
	newPath = strings.Trim(newPath, "/")
	c := &Node{Name: n.Name, Path: newPath, IsFile: n.IsFile, Content: n.Content,
		Executable: n.Executable, Symlink: n.Symlink}
	if newPath != "" {
		parts := splitPath(newPath)
		c.Name = parts[len(parts)-1]
	}
	for _, ch := range n.Children {
		childPath := ch.Name
		if newPath != "" {
			childPath = newPath + "/" + ch.Name
		}
		c.Children = append(c.Children, ch.Clone(childPath))
	}
	return c
}

// Graft places a copy of src at path, replacing whatever was there
func (n *Node) Graft(path string, src *Node) {
	path = strings.Trim(path, "/")
	parts := splitPath(path)
	if len(parts) == 0 {
		return
	}
	n.addSub(path, parts, src.Clone(path))
}

// List returns the immediate children of a directory sorted by name
func (n *Node) List() []*Node {
	result := make([]*Node, len(n.Children))
	copy(result, n.Children)
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (n *Node) getChildFiles() []string {
	files := make([]string, 0)
	for _, c := range n.Children {
		if c.IsFile {
			files = append(files, c.Path)
		} else {
			files = append(files, c.getChildFiles()...)
		}
	}
	return files
}

// GetFiles - list of all files under a directory, sorted
func (n *Node) GetFiles(dirName string) []string {
	files := make([]string, 0)
	d := n.Lookup(dirName)
	if d == nil {
		return files
	}
	if d.IsFile {
		files = append(files, d.Path)
	} else {
		files = append(files, d.getChildFiles()...)
	}
	sort.Strings(files)
	return files
}

// FindFile returns true if a file (not a directory) exists at fileName
func (n *Node) FindFile(fileName string) bool {
	f := n.Lookup(fileName)
	return f != nil && f.IsFile
}
