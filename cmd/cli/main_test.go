package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(append([]string{"--config", t.TempDir() + "/none.env"}, args...))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestTokenIssue(t *testing.T) {
	out, err := execute(t, "token", "issue", "--user-id", "u1", "--email", "a@example.com")
	require.NoError(t, err)

	cfg := config.Default()
	id, err := auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)
}

func TestTokenIssueRequiresUser(t *testing.T) {
	tokenIssueCmd.Flags().Set("user-id", "")
	_, err := execute(t, "token", "issue")
	assert.Error(t, err)
}

func TestRunRequiresTreeFile(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)

	_, err = execute(t, "run", t.TempDir()+"/missing.json")
	assert.Error(t, err)
}
