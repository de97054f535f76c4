package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

const uniqueViolation = "23505"

const projectColumns = `p.id::text, p.name, p.file_tree, p.created_at, p.updated_at,
	COALESCE((SELECT array_agg(m.user_id ORDER BY m.created_at, m.user_id)
	          FROM project_members m WHERE m.project_id = p.id), '{}')`

// Postgres is the pgx-backed Store. The file tree lives in a JSONB column
// and is mutated with the jsonb || and - operators.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an open pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

func scanProject(row pgx.Row) (*models.Project, error) {
	var p models.Project
	if err := row.Scan(&p.ID, &p.Name, &p.FileTree, &p.CreatedAt, &p.UpdatedAt, &p.Members); err != nil {
		return nil, err
	}
	if p.FileTree == nil {
		p.FileTree = filetree.Tree{}
	}
	return &p, nil
}

func notFoundOr(err error, op string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("project not found")
	}
	return apperrors.Store(op, err)
}

func encodeTree(tree filetree.Tree) (string, error) {
	if tree == nil {
		tree = filetree.Tree{}
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return "", fmt.Errorf("failed to encode file tree: %w", err)
	}
	return string(data), nil
}

// CreateProject inserts the project and its initial members in one
// transaction.
func (s *Postgres) CreateProject(ctx context.Context, p *models.Project) error {
	tree, err := encodeTree(p.FileTree)
	if err != nil {
		return err
	}

	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO projects (id, name, file_tree) VALUES ($1, $2, $3::jsonb)
			 RETURNING created_at, updated_at`,
			p.ID, p.Name, tree,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO project_members (project_id, user_id)
			 SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
			p.ID, p.Members,
		)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict("project name already exists")
		}
		return apperrors.Store("create project", err)
	}
	return nil
}

func (s *Postgres) GetProject(ctx context.Context, id string) (*models.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects p WHERE p.id = $1`, id))
	if err != nil {
		return nil, notFoundOr(err, "get project")
	}
	return p, nil
}

func (s *Postgres) ListProjectsByUser(ctx context.Context, userID string) ([]*models.Project, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+projectColumns+`
		 FROM projects p
		 JOIN project_members pm ON pm.project_id = p.id
		 WHERE pm.user_id = $1
		 ORDER BY p.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, apperrors.Store("list projects", err)
	}
	defer rows.Close()

	projects := []*models.Project{}
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, apperrors.Store("scan project", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("list projects", err)
	}
	return projects, nil
}

func (s *Postgres) AddMembers(ctx context.Context, projectID string, userIDs []string) (*models.Project, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE projects SET updated_at = now() WHERE id = $1`, projectID)
	if err != nil {
		return nil, apperrors.Store("add members", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperrors.NotFound("project not found")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id)
		 SELECT $1, unnest($2::text[]) ON CONFLICT DO NOTHING`,
		projectID, userIDs,
	)
	if err != nil {
		return nil, apperrors.Store("add members", err)
	}
	return s.GetProject(ctx, projectID)
}

func (s *Postgres) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	var exists, member bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM projects WHERE id = $1),
		        EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&exists, &member)
	if err != nil {
		return false, apperrors.Store("check membership", err)
	}
	if !exists {
		return false, apperrors.NotFound("project not found")
	}
	return member, nil
}

// updateTree runs a single UPDATE whose SET clause is expr, then returns
// the updated project.
func (s *Postgres) updateTree(ctx context.Context, op, expr, projectID string, arg any) (*models.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`UPDATE projects p SET file_tree = `+expr+`, updated_at = now()
		 WHERE p.id = $1
		 RETURNING `+projectColumns,
		projectID, arg,
	))
	if err != nil {
		return nil, notFoundOr(err, op)
	}
	return p, nil
}

func (s *Postgres) ReplaceFileTree(ctx context.Context, projectID string, tree filetree.Tree) (*models.Project, error) {
	encoded, err := encodeTree(tree)
	if err != nil {
		return nil, err
	}
	return s.updateTree(ctx, "replace file tree", `$2::jsonb`, projectID, encoded)
}

func (s *Postgres) MergeFileTree(ctx context.Context, projectID string, partial filetree.Tree) (*models.Project, error) {
	encoded, err := encodeTree(partial)
	if err != nil {
		return nil, err
	}
	return s.updateTree(ctx, "merge file tree", `p.file_tree || $2::jsonb`, projectID, encoded)
}

func (s *Postgres) DeleteFileTreePath(ctx context.Context, projectID, path string) (*models.Project, error) {
	return s.updateTree(ctx, "delete file tree path", `p.file_tree - $2::text`, projectID, path)
}

func (s *Postgres) AppendMessage(ctx context.Context, msg models.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, project_id, body, sender_id, sender_email, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.ProjectID, msg.Body, msg.Sender.ID, msg.Sender.Email, msg.CreatedAt,
	)
	if err != nil {
		return apperrors.Store("append message", err)
	}
	return nil
}

func (s *Postgres) RecentMessages(ctx context.Context, projectID string, limit int) ([]models.Message, error) {
	return s.ListMessages(ctx, projectID, 1, limit)
}

func (s *Postgres) ListMessages(ctx context.Context, projectID string, page, limit int) ([]models.Message, error) {
	offset, err := PageOffset(page, limit)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id::text, body, sender_id, sender_email, created_at FROM (
		     SELECT * FROM messages
		     WHERE project_id = $1
		     ORDER BY created_at DESC, id DESC
		     LIMIT $2 OFFSET $3
		 ) recent
		 ORDER BY created_at ASC, id ASC`,
		projectID, limit, offset,
	)
	if err != nil {
		return nil, apperrors.Store("list messages", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ProjectID, &m.Body, &m.Sender.ID, &m.Sender.Email, &m.CreatedAt); err != nil {
			return nil, apperrors.Store("scan message", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("list messages", err)
	}
	return messages, nil
}

func (s *Postgres) CreateUser(ctx context.Context, u *models.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, email, password_hash) VALUES ($1, $2, $3) RETURNING created_at`,
		u.ID, strings.ToLower(u.Email), u.PasswordHash,
	).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return apperrors.Conflict("email already registered")
		}
		return apperrors.Store("create user", err)
	}
	return nil
}

func (s *Postgres) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `email = $1`, strings.ToLower(email))
}

func (s *Postgres) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperrors.NotFound("user not found")
	}
	return s.getUser(ctx, `id = $1`, id)
}

func (s *Postgres) ListUsers(ctx context.Context) ([]*models.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id::text, email, password_hash, created_at FROM users ORDER BY email`)
	if err != nil {
		return nil, apperrors.Store("list users", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt); err != nil {
			return nil, apperrors.Store("scan user", err)
		}
		users = append(users, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Store("list users", err)
	}
	return users, nil
}

func (s *Postgres) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id::text, email, password_hash, created_at FROM users WHERE `+where, arg,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("user not found")
		}
		return nil, apperrors.Store("get user", err)
	}
	return &u, nil
}
