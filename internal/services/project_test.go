package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

func setup(t *testing.T) (*ProjectService, string) {
	t.Helper()
	svc := NewProjectService(store.NewMemory())
	p, err := svc.CreateProject(context.Background(), "demo", "owner")
	require.NoError(t, err)
	return svc, p.ID
}

func TestCreateProjectDefaults(t *testing.T) {
	svc, id := setup(t)
	p, err := svc.GetProject(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, []string{"owner"}, p.Members)
	assert.Contains(t, p.FileTree, "README.md")

	_, err = svc.CreateProject(context.Background(), "demo", "other")
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	_, err = svc.CreateProject(context.Background(), "  ", "other")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
}

func TestProjectIDValidatedFirst(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	// Every operation rejects a malformed id before looking at other fields.
	ops := map[string]func() error{
		"set content": func() error { _, err := svc.SetFileContent(ctx, "bad", "", nil); return err },
		"create file": func() error { _, err := svc.CreateFile(ctx, "bad", "", ""); return err },
		"folder":      func() error { _, err := svc.CreateFolder(ctx, "bad", ""); return err },
		"delete":      func() error { _, err := svc.Delete(ctx, "bad", ""); return err },
		"replace":     func() error { _, err := svc.ReplaceTree(ctx, "bad", nil); return err },
		"merge":       func() error { _, err := svc.MergeTree(ctx, "bad", nil); return err },
		"members":     func() error { _, err := svc.AddMembers(ctx, "bad", nil, "owner"); return err },
	}
	for name, op := range ops {
		err := op()
		require.Error(t, err, name)
		appErr, ok := apperrors.As(err)
		require.True(t, ok, name)
		assert.Equal(t, "invalid project id", appErr.Message, name)
	}
}

func TestFieldValidation(t *testing.T) {
	svc, id := setup(t)
	ctx := context.Background()

	_, err := svc.SetFileContent(ctx, id, "a.js", nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.CreateFolder(ctx, id, " ")
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.MergeTree(ctx, id, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	_, err = svc.ReplaceTree(ctx, id, filetree.Tree{"a": {}})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))

	p, err := svc.GetProject(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, DefaultFileTree(), p.FileTree, "rejected operations must not mutate")
}

func TestFileOperations(t *testing.T) {
	svc, id := setup(t)
	ctx := context.Background()

	empty := ""
	p, err := svc.SetFileContent(ctx, id, "a.js", &empty)
	require.NoError(t, err)
	assert.True(t, p.FileTree["a.js"].IsFile())

	_, err = svc.CreateFolder(ctx, id, "src")
	require.NoError(t, err)
	_, err = svc.CreateFile(ctx, id, "src/index.js", "console.log(1)")
	require.NoError(t, err)

	p, err = svc.Delete(ctx, id, "nothing-here")
	require.NoError(t, err)
	assert.Equal(t, []string{"README.md", "a.js", "src", "src/index.js"}, p.FileTree.Paths())

	p, err = svc.ReplaceTree(ctx, id, filetree.Tree{"only.js": filetree.FileNode("")})
	require.NoError(t, err)
	assert.Equal(t, []string{"only.js"}, p.FileTree.Paths())

	_, err = svc.CreateFile(ctx, uuid.NewString(), "x", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestAddMembers(t *testing.T) {
	svc, id := setup(t)
	ctx := context.Background()

	_, err := svc.AddMembers(ctx, id, []string{"u2"}, "stranger")
	assert.True(t, apperrors.IsKind(err, apperrors.KindForbidden))

	p, err := svc.AddMembers(ctx, id, []string{"u2", "owner"}, "owner")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"owner", "u2"}, p.Members)

	p, err = svc.AddMembers(ctx, id, []string{"u2"}, "u2")
	require.NoError(t, err)
	assert.Len(t, p.Members, 2)
}
