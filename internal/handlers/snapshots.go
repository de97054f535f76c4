package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/storage"
)

// SnapshotStore saves and restores file tree snapshots.
type SnapshotStore interface {
	Save(ctx context.Context, projectID string, tree filetree.Tree) (*storage.Snapshot, error)
	List(ctx context.Context, projectID string) ([]storage.Snapshot, error)
	Load(ctx context.Context, projectID, key string) (filetree.Tree, error)
}

// SnapshotHandler handles snapshot endpoints
type SnapshotHandler struct {
	projects  *ProjectHandler
	snapshots SnapshotStore
}

// NewSnapshotHandler creates a new SnapshotHandler
func NewSnapshotHandler(projects *ProjectHandler, snapshots SnapshotStore) *SnapshotHandler {
	return &SnapshotHandler{projects: projects, snapshots: snapshots}
}

type restoreRequest struct {
	Key string `json:"key"`
}

func (h *SnapshotHandler) fail(c *gin.Context, err error) {
	if errors.Is(err, storage.ErrDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	respondError(c, err)
}

// CreateSnapshot uploads the current tree and returns a download URL.
func (h *SnapshotHandler) CreateSnapshot(c *gin.Context) {
	project, ok := h.projects.authorize(c)
	if !ok {
		return
	}

	snap, err := h.snapshots.Save(c.Request.Context(), project.ID, project.FileTree)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, snap)
}

// ListSnapshots lists the project's snapshots, newest first.
func (h *SnapshotHandler) ListSnapshots(c *gin.Context) {
	project, ok := h.projects.authorize(c)
	if !ok {
		return
	}

	snaps, err := h.snapshots.List(c.Request.Context(), project.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, snaps)
}

// RestoreSnapshot replaces the project's tree with a stored snapshot.
func (h *SnapshotHandler) RestoreSnapshot(c *gin.Context) {
	project, ok := h.projects.authorize(c)
	if !ok {
		return
	}
	var req restoreRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}

	tree, err := h.snapshots.Load(c.Request.Context(), project.ID, req.Key)
	if err != nil {
		h.fail(c, err)
		return
	}

	updated, err := h.projects.projectService.ReplaceTree(c.Request.Context(), project.ID, tree)
	h.projects.changed(c, updated, err)
}
