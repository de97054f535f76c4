//go:build unix

package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/collab/internal/config"
	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
)

func TestRunTreeStreamsOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns processes")
	}
	cfg := config.Default()
	cfg.Runner.WorkDir = t.TempDir()
	cfg.Runner.InstallCommand = []string{"true"}
	cfg.Runner.StartCommand = []string{"sh", "-c", "cat hello.txt"}

	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())
	cmd.SetOut(&out)

	tree := filetree.Tree{"hello.txt": filetree.FileNode("hi from the tree\n")}
	require.NoError(t, runTree(cmd, cfg, tree))

	assert.Contains(t, out.String(), "[Run] hi from the tree")
	assert.Contains(t, out.String(), "[Info] Process exited with code 0")
}
