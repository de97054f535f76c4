package models

import (
	"slices"
	"time"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
)

// Project is a shared workspace: its members and its file tree.
type Project struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Members   []string      `json:"members"`
	FileTree  filetree.Tree `json:"fileTree"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// HasMember reports whether userID belongs to the project.
func (p *Project) HasMember(userID string) bool {
	return slices.Contains(p.Members, userID)
}

// Clone returns a deep copy so callers can hand it to another goroutine.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Members = slices.Clone(p.Members)
	out.FileTree = p.FileTree.Clone()
	return &out
}
