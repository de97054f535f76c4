// Package filetree holds the flat path-keyed project file tree and its
// mutations. Paths are opaque keys: "src/app.js" is one key, not a
// directory walk.
package filetree

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// File is the payload of a file node.
type File struct {
	Contents string `json:"contents"`
}

// Directory is a placeholder directory node. It carries no children.
type Directory struct{}

// Node is exactly one of File or Directory.
type Node struct {
	File      *File      `json:"file,omitempty"`
	Directory *Directory `json:"directory,omitempty"`
}

// FileNode returns a file node with the given contents.
func FileNode(contents string) Node {
	return Node{File: &File{Contents: contents}}
}

// DirectoryNode returns an empty directory node.
func DirectoryNode() Node {
	return Node{Directory: &Directory{}}
}

// IsFile reports whether n is a file node.
func (n Node) IsFile() bool { return n.File != nil }

// IsDirectory reports whether n is a directory node.
func (n Node) IsDirectory() bool { return n.Directory != nil }

// Validate checks that exactly one variant is set.
func (n Node) Validate() error {
	switch {
	case n.File != nil && n.Directory != nil:
		return fmt.Errorf("node is both file and directory")
	case n.File == nil && n.Directory == nil:
		return fmt.Errorf("node is neither file nor directory")
	}
	return nil
}

// UnmarshalJSON decodes a node strictly: the object must have exactly one
// of "file" or "directory", and a file must carry a string "contents".
func (n *Node) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("node must be an object: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("node must be an object")
	}
	if len(raw) != 1 {
		return fmt.Errorf("node must have exactly one of file or directory")
	}

	if fileRaw, ok := raw["file"]; ok {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(fileRaw, &fields); err != nil || fields == nil {
			return fmt.Errorf("file must be an object")
		}
		contentsRaw, ok := fields["contents"]
		if !ok {
			return fmt.Errorf("file is missing contents")
		}
		var contents string
		if err := json.Unmarshal(contentsRaw, &contents); err != nil {
			return fmt.Errorf("file contents must be a string")
		}
		*n = FileNode(contents)
		return nil
	}

	if dirRaw, ok := raw["directory"]; ok {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(dirRaw, &fields); err != nil || fields == nil {
			return fmt.Errorf("directory must be an object")
		}
		*n = DirectoryNode()
		return nil
	}

	return fmt.Errorf("node must have exactly one of file or directory")
}

// Tree maps a path key to a node.
type Tree map[string]Node

// ValidPath reports whether path can be used as a tree key.
func ValidPath(path string) bool {
	return strings.TrimSpace(path) != ""
}

// Validate checks every key and node.
func (t Tree) Validate() error {
	for path, node := range t {
		if !ValidPath(path) {
			return fmt.Errorf("empty path key")
		}
		if err := node.Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}
	return nil
}

// Clone returns a copy of t that shares no node pointers.
func (t Tree) Clone() Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for path, node := range t {
		out[path] = node.clone()
	}
	return out
}

func (n Node) clone() Node {
	var out Node
	if n.File != nil {
		f := *n.File
		out.File = &f
	}
	if n.Directory != nil {
		out.Directory = &Directory{}
	}
	return out
}

// Merge returns t with every key of partial replaced by partial's node.
// Keys absent from partial are untouched. Applying the same partial twice
// gives the same result as applying it once.
func (t Tree) Merge(partial Tree) Tree {
	out := t.Clone()
	if out == nil {
		out = make(Tree, len(partial))
	}
	for path, node := range partial {
		out[path] = node.clone()
	}
	return out
}

// SetFile upserts a file node at path.
func (t Tree) SetFile(path, contents string) Tree {
	return t.Merge(Tree{path: FileNode(contents)})
}

// AddFolder upserts a directory node at path. Ancestors are not created.
func (t Tree) AddFolder(path string) Tree {
	return t.Merge(Tree{path: DirectoryNode()})
}

// Delete returns t without path. Deleting an absent path is a no-op.
func (t Tree) Delete(path string) Tree {
	out := t.Clone()
	delete(out, path)
	return out
}

// Paths returns the keys of t in lexical order.
func (t Tree) Paths() []string {
	paths := make([]string, 0, len(t))
	for path := range t {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Equal reports whether two trees hold the same keys and nodes.
func (t Tree) Equal(other Tree) bool {
	if len(t) != len(other) {
		return false
	}
	for path, node := range t {
		o, ok := other[path]
		if !ok {
			return false
		}
		if node.IsFile() != o.IsFile() || node.IsDirectory() != o.IsDirectory() {
			return false
		}
		if node.IsFile() && node.File.Contents != o.File.Contents {
			return false
		}
	}
	return true
}

// Parse decodes a JSON object into a tree, validating every node.
func Parse(data []byte) (Tree, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("file tree must be a JSON object")
	}
	var t Tree
	if err := json.Unmarshal(trimmed, &t); err != nil {
		return nil, err
	}
	if t == nil {
		t = Tree{}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// LocalPath resolves a tree key to a path below root. Keys that would
// escape root are rejected.
func LocalPath(root, key string) (string, error) {
	rel := filepath.FromSlash(strings.TrimPrefix(key, "/"))
	if rel == "" || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("path %q escapes the workspace", key)
	}
	return filepath.Join(root, rel), nil
}
