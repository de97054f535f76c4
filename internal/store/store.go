// Package store persists projects, their file trees, the chat message log
// and users.
package store

import (
	"context"
	"math"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

// Projects stores project records, membership and file trees. File tree
// mutations are single read-modify-write statements; concurrent writes to
// the same key are last-writer-wins.
type Projects interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjectsByUser(ctx context.Context, userID string) ([]*models.Project, error)
	AddMembers(ctx context.Context, projectID string, userIDs []string) (*models.Project, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)

	ReplaceFileTree(ctx context.Context, projectID string, tree filetree.Tree) (*models.Project, error)
	MergeFileTree(ctx context.Context, projectID string, partial filetree.Tree) (*models.Project, error)
	DeleteFileTreePath(ctx context.Context, projectID, path string) (*models.Project, error)
}

// Messages is the append-only chat log.
type Messages interface {
	AppendMessage(ctx context.Context, msg models.Message) error
	// RecentMessages returns the newest limit messages, oldest first.
	RecentMessages(ctx context.Context, projectID string, limit int) ([]models.Message, error)
	// ListMessages pages backwards from the newest message; each page is
	// returned oldest first. page starts at 1.
	ListMessages(ctx context.Context, projectID string, page, limit int) ([]models.Message, error)
}

// Users stores accounts for the token-issuing auth surface.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	// ListUsers returns every account ordered by email.
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// Store is the full workspace store.
type Store interface {
	Projects
	Messages
	Users
}

// PageOffset returns the number of messages to skip for a 1-based page.
// Pages whose offset would not fit in an int are rejected.
func PageOffset(page, limit int) (int, error) {
	if page < 1 || limit < 1 {
		return 0, apperrors.Validation("page and limit must be positive")
	}
	if page-1 > math.MaxInt/limit {
		return 0, apperrors.Validation("page is out of range")
	}
	return (page - 1) * limit, nil
}
