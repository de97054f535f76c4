package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

// Memory is an in-process Store. Every returned value is a copy.
type Memory struct {
	mu       sync.RWMutex
	projects map[string]*models.Project
	messages map[string][]models.Message
	users    map[string]*models.User

	// Fail, when set, is returned by AppendMessage. Tests use it to
	// simulate a store outage.
	Fail error
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[string]*models.Project),
		messages: make(map[string][]models.Message),
		users:    make(map[string]*models.User),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) CreateProject(_ context.Context, p *models.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.projects {
		if existing.Name == p.Name {
			return apperrors.Conflict("project name already exists")
		}
	}
	now := time.Now().UTC()
	stored := p.Clone()
	if stored.FileTree == nil {
		stored.FileTree = filetree.Tree{}
	}
	stored.CreatedAt, stored.UpdatedAt = now, now
	m.projects[p.ID] = stored
	p.CreatedAt, p.UpdatedAt = now, now
	return nil
}

func (m *Memory) GetProject(_ context.Context, id string) (*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project not found")
	}
	return p.Clone(), nil
}

func (m *Memory) ListProjectsByUser(_ context.Context, userID string) ([]*models.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Project
	for _, p := range m.projects {
		if p.HasMember(userID) {
			out = append(out, p.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *models.Project) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (m *Memory) AddMembers(_ context.Context, projectID string, userIDs []string) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[projectID]
	if !ok {
		return nil, apperrors.NotFound("project not found")
	}
	for _, id := range userIDs {
		if !p.HasMember(id) {
			p.Members = append(p.Members, id)
		}
	}
	p.UpdatedAt = time.Now().UTC()
	return p.Clone(), nil
}

func (m *Memory) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.projects[projectID]
	if !ok {
		return false, apperrors.NotFound("project not found")
	}
	return p.HasMember(userID), nil
}

func (m *Memory) ReplaceFileTree(_ context.Context, projectID string, tree filetree.Tree) (*models.Project, error) {
	return m.mutateTree(projectID, func(filetree.Tree) filetree.Tree {
		return tree.Clone()
	})
}

func (m *Memory) MergeFileTree(_ context.Context, projectID string, partial filetree.Tree) (*models.Project, error) {
	return m.mutateTree(projectID, func(t filetree.Tree) filetree.Tree {
		return t.Merge(partial)
	})
}

func (m *Memory) DeleteFileTreePath(_ context.Context, projectID, path string) (*models.Project, error) {
	return m.mutateTree(projectID, func(t filetree.Tree) filetree.Tree {
		return t.Delete(path)
	})
}

func (m *Memory) mutateTree(projectID string, fn func(filetree.Tree) filetree.Tree) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[projectID]
	if !ok {
		return nil, apperrors.NotFound("project not found")
	}
	p.FileTree = fn(p.FileTree)
	if p.FileTree == nil {
		p.FileTree = filetree.Tree{}
	}
	p.UpdatedAt = time.Now().UTC()
	return p.Clone(), nil
}

func (m *Memory) AppendMessage(_ context.Context, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Fail != nil {
		return apperrors.Store("append message", m.Fail)
	}
	m.messages[msg.ProjectID] = append(m.messages[msg.ProjectID], msg)
	return nil
}

func (m *Memory) RecentMessages(_ context.Context, projectID string, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.messages[projectID]
	start := max(len(log)-limit, 0)
	return slices.Clone(log[start:]), nil
}

func (m *Memory) ListMessages(_ context.Context, projectID string, page, limit int) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	offset, err := PageOffset(page, limit)
	if err != nil {
		return nil, err
	}
	log := m.messages[projectID]
	end := len(log) - offset
	if end <= 0 {
		return []models.Message{}, nil
	}
	start := max(end-limit, 0)
	return slices.Clone(log[start:end]), nil
}

// Messages returns a copy of the full log for a project.
func (m *Memory) Messages(projectID string) []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.messages[projectID])
}

func (m *Memory) CreateUser(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	email := strings.ToLower(u.Email)
	for _, existing := range m.users {
		if strings.ToLower(existing.Email) == email {
			return apperrors.Conflict("email already registered")
		}
	}
	stored := *u
	stored.CreatedAt = time.Now().UTC()
	m.users[u.ID] = &stored
	u.CreatedAt = stored.CreatedAt
	return nil
}

func (m *Memory) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	email = strings.ToLower(email)
	for _, u := range m.users {
		if strings.ToLower(u.Email) == email {
			out := *u
			return &out, nil
		}
	}
	return nil, apperrors.NotFound("user not found")
}

func (m *Memory) GetUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, apperrors.NotFound("user not found")
	}
	out := *u
	return &out, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.User, 0, len(m.users))
	for _, u := range m.users {
		c := *u
		out = append(out, &c)
	}
	slices.SortFunc(out, func(a, b *models.User) int {
		return strings.Compare(a.Email, b.Email)
	})
	return out, nil
}
