package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
)

const maxTreeBody = 8 << 20

type fileTreeRequest struct {
	FileTree json.RawMessage `json:"fileTree"`
}

type fileContentRequest struct {
	Path    string  `json:"path"`
	Content *string `json:"content"`
}

type pathRequest struct {
	Path string `json:"path"`
}

// bindTree decodes {"fileTree": {...}} strictly.
func bindTree(c *gin.Context) (filetree.Tree, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxTreeBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	var req fileTreeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return nil, false
	}
	if len(req.FileTree) == 0 || string(req.FileTree) == "null" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fileTree is required"})
		return nil, false
	}
	tree, err := filetree.Parse(req.FileTree)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fileTree: " + err.Error()})
		return nil, false
	}
	return tree, true
}

// ReplaceFileTree overwrites the project's tree.
func (h *ProjectHandler) ReplaceFileTree(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	tree, ok := bindTree(c)
	if !ok {
		return
	}
	updated, err := h.projectService.ReplaceTree(c.Request.Context(), project.ID, tree)
	h.changed(c, updated, err)
}

// MergeFileTree applies a partial tree on top of the stored one.
func (h *ProjectHandler) MergeFileTree(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	tree, ok := bindTree(c)
	if !ok {
		return
	}
	updated, err := h.projectService.MergeTree(c.Request.Context(), project.ID, tree)
	h.changed(c, updated, err)
}

// SetFileContent writes the contents of one file.
func (h *ProjectHandler) SetFileContent(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	var req fileContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.projectService.SetFileContent(c.Request.Context(), project.ID, req.Path, req.Content)
	h.changed(c, updated, err)
}

// CreateFile creates a file, empty unless content is given.
func (h *ProjectHandler) CreateFile(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	var req fileContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	content := ""
	if req.Content != nil {
		content = *req.Content
	}
	updated, err := h.projectService.CreateFile(c.Request.Context(), project.ID, req.Path, content)
	h.changed(c, updated, err)
}

// CreateFolder adds a directory node.
func (h *ProjectHandler) CreateFolder(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	var req pathRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	updated, err := h.projectService.CreateFolder(c.Request.Context(), project.ID, req.Path)
	h.changed(c, updated, err)
}

// DeleteFile removes one path. The path comes from the body or ?path=.
func (h *ProjectHandler) DeleteFile(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	path := c.Query("path")
	if path == "" {
		var req pathRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "path is required"})
			return
		}
		path = req.Path
	}
	updated, err := h.projectService.Delete(c.Request.Context(), project.ID, path)
	h.changed(c, updated, err)
}
