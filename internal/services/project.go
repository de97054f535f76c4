package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

const defaultReadme = `# Welcome to your project

Edit files in the tree, chat with your collaborators, and mention @ai to
ask the assistant for code. Press Run to install dependencies and start
the app.
`

// DefaultFileTree is the tree a new project starts with.
func DefaultFileTree() filetree.Tree {
	return filetree.Tree{"README.md": filetree.FileNode(defaultReadme)}
}

// ProjectService handles project operations
type ProjectService struct {
	store store.Projects
}

// NewProjectService creates a new ProjectService
func NewProjectService(s store.Projects) *ProjectService {
	return &ProjectService{store: s}
}

// ValidProjectID reports whether id is a well-formed project id.
func ValidProjectID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func checkProjectID(id string) error {
	if !ValidProjectID(id) {
		return apperrors.Validation("invalid project id")
	}
	return nil
}

func checkPath(path string) error {
	if !filetree.ValidPath(path) {
		return apperrors.Validation("path is required")
	}
	return nil
}

// CreateProject creates a new project with userID as its first member.
func (s *ProjectService) CreateProject(ctx context.Context, name, userID string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Validation("name is required")
	}
	if userID == "" {
		return nil, apperrors.Validation("user id is required")
	}

	project := &models.Project{
		ID:       uuid.New().String(),
		Name:     name,
		Members:  []string{userID},
		FileTree: DefaultFileTree(),
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}

// GetProject retrieves a project by ID
func (s *ProjectService) GetProject(ctx context.Context, id string) (*models.Project, error) {
	if err := checkProjectID(id); err != nil {
		return nil, err
	}
	return s.store.GetProject(ctx, id)
}

// ListProjectsByUser lists all projects for a user
func (s *ProjectService) ListProjectsByUser(ctx context.Context, userID string) ([]*models.Project, error) {
	return s.store.ListProjectsByUser(ctx, userID)
}

// IsMember checks if a user is a member of a project
func (s *ProjectService) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	if err := checkProjectID(projectID); err != nil {
		return false, err
	}
	return s.store.IsMember(ctx, projectID, userID)
}

// AddMembers adds userIDs to the project. The acting user must already be
// a member. Adding an existing member is a no-op.
func (s *ProjectService) AddMembers(ctx context.Context, projectID string, userIDs []string, actingUserID string) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if len(userIDs) == 0 {
		return nil, apperrors.Validation("users are required")
	}
	for _, id := range userIDs {
		if strings.TrimSpace(id) == "" {
			return nil, apperrors.Validation("user ids must not be empty")
		}
	}

	member, err := s.store.IsMember(ctx, projectID, actingUserID)
	if err != nil {
		return nil, err
	}
	if !member {
		return nil, apperrors.Forbidden("user does not belong to this project")
	}
	return s.store.AddMembers(ctx, projectID, userIDs)
}

// SetFileContent writes content to the file at path, creating it if
// needed. content is required but may be empty.
func (s *ProjectService) SetFileContent(ctx context.Context, projectID, path string, content *string) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if content == nil {
		return nil, apperrors.Validation("content is required")
	}
	return s.store.MergeFileTree(ctx, projectID, filetree.Tree{}.SetFile(path, *content))
}

// CreateFile creates (or overwrites) path with content.
func (s *ProjectService) CreateFile(ctx context.Context, projectID, path, content string) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	return s.store.MergeFileTree(ctx, projectID, filetree.Tree{}.SetFile(path, content))
}

// CreateFolder upserts a directory node at path. Ancestors are not created.
func (s *ProjectService) CreateFolder(ctx context.Context, projectID, path string) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	return s.store.MergeFileTree(ctx, projectID, filetree.Tree{}.AddFolder(path))
}

// Delete removes path. Deleting a missing path succeeds.
func (s *ProjectService) Delete(ctx context.Context, projectID, path string) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	return s.store.DeleteFileTreePath(ctx, projectID, path)
}

// ReplaceTree overwrites the whole tree.
func (s *ProjectService) ReplaceTree(ctx context.Context, projectID string, tree filetree.Tree) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if tree == nil {
		return nil, apperrors.Validation("fileTree is required")
	}
	if err := tree.Validate(); err != nil {
		return nil, apperrors.Validation("invalid fileTree: " + err.Error())
	}
	return s.store.ReplaceFileTree(ctx, projectID, tree)
}

// MergeTree applies partial on top of the stored tree.
func (s *ProjectService) MergeTree(ctx context.Context, projectID string, partial filetree.Tree) (*models.Project, error) {
	if err := checkProjectID(projectID); err != nil {
		return nil, err
	}
	if partial == nil {
		return nil, apperrors.Validation("fileTree is required")
	}
	if err := partial.Validate(); err != nil {
		return nil, apperrors.Validation("invalid fileTree: " + err.Error())
	}
	return s.store.MergeFileTree(ctx, projectID, partial)
}
