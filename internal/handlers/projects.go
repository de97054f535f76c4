package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kartikbazzad/bunbase/collab/internal/middleware"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/services"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

// RoomUpdater pushes a changed project to the sessions joined to it.
type RoomUpdater interface {
	UpdateProject(roomID string, p *models.Project)
}

// ProjectHandler handles project endpoints
type ProjectHandler struct {
	projectService *services.ProjectService
	rooms          RoomUpdater
}

// NewProjectHandler creates a new ProjectHandler. rooms may be nil.
func NewProjectHandler(projectService *services.ProjectService, rooms RoomUpdater) *ProjectHandler {
	return &ProjectHandler{projectService: projectService, rooms: rooms}
}

// CreateProjectRequest represents a project creation request
type CreateProjectRequest struct {
	Name string `json:"name"`
}

// AddMembersRequest lists the user ids to add.
type AddMembersRequest struct {
	Users []string `json:"users"`
}

// ListProjects lists all projects for the authenticated user
func (h *ProjectHandler) ListProjects(c *gin.Context) {
	id, ok := middleware.RequireAuth(c)
	if !ok {
		return
	}

	projects, err := h.projectService.ListProjectsByUser(c.Request.Context(), id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}

	c.JSON(http.StatusOK, projects)
}

// CreateProject creates a new project
func (h *ProjectHandler) CreateProject(c *gin.Context) {
	id, ok := middleware.RequireAuth(c)
	if !ok {
		return
	}

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	project, err := h.projectService.CreateProject(c.Request.Context(), req.Name, id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, project)
}

// GetProject retrieves a project by ID
func (h *ProjectHandler) GetProject(c *gin.Context) {
	project, ok := h.authorize(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, project)
}

// AddMembers adds users to a project the caller belongs to.
func (h *ProjectHandler) AddMembers(c *gin.Context) {
	id, ok := middleware.RequireAuth(c)
	if !ok {
		return
	}

	var req AddMembersRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	project, err := h.projectService.AddMembers(c.Request.Context(), c.Param("id"), req.Users, id.UserID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, project)
}

// authorize loads the :id project and checks that the caller is a member.
// On failure it writes the response and returns false.
func (h *ProjectHandler) authorize(c *gin.Context) (*models.Project, bool) {
	id, ok := middleware.RequireAuth(c)
	if !ok {
		return nil, false
	}

	project, err := h.projectService.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if !project.HasMember(id.UserID) {
		respondError(c, apperrors.Forbidden("user does not belong to this project"))
		return nil, false
	}
	return project, true
}

// changed responds with the updated project and pushes it to live sessions.
func (h *ProjectHandler) changed(c *gin.Context, project *models.Project, err error) {
	if err != nil {
		respondError(c, err)
		return
	}
	if h.rooms != nil {
		h.rooms.UpdateProject(project.ID, project)
	}
	c.JSON(http.StatusOK, project)
}
