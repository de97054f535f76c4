//go:build unix

package sandbox

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func boot(t *testing.T) *Local {
	t.Helper()
	p := NewLocalProvider(LocalConfig{
		WorkDir:       t.TempDir(),
		ProbeInterval: 20 * time.Millisecond,
	}, logger.Discard())
	sb, err := p.Boot(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { sb.Close() })
	return sb.(*Local)
}

func drain(p Process) []string {
	var lines []string
	for line := range p.Output() {
		lines = append(lines, line)
	}
	return lines
}

func TestMountWritesTree(t *testing.T) {
	sb := boot(t)
	tree := filetree.Tree{
		"package.json":  filetree.FileNode(`{"name":"x"}`),
		"src/index.js":  filetree.FileNode("console.log(1)"),
		"public":        filetree.DirectoryNode(),
		"empty/file.md": filetree.FileNode(""),
	}
	require.NoError(t, sb.Mount(context.Background(), tree))

	data, err := os.ReadFile(filepath.Join(sb.Dir(), "src", "index.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log(1)", string(data))

	info, err := os.Stat(filepath.Join(sb.Dir(), "public"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestMountRejectsEscapingKeys(t *testing.T) {
	sb := boot(t)
	err := sb.Mount(context.Background(), filetree.Tree{"../outside.js": filetree.FileNode("x")})
	assert.Error(t, err)
}

func TestSpawnStreamsMergedOutput(t *testing.T) {
	sb := boot(t)
	p, err := sb.Spawn(context.Background(), "sh", "-c", "echo out; echo err 1>&2; echo port=$PORT; exit 3")
	require.NoError(t, err)

	lines := drain(p)
	code, err := p.Wait()
	require.NoError(t, err)
	assert.Equal(t, 3, code)
	assert.ElementsMatch(t, []string{"out", "err", "port=" + strconv.Itoa(sb.Port())}, lines)
}

func TestKillTerminatesProcess(t *testing.T) {
	sb := boot(t)
	p, err := sb.Spawn(context.Background(), "sh", "-c", "sleep 30")
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	drain(p)
	code, _ := p.Wait()
	assert.NotEqual(t, 0, code)
	assert.NoError(t, p.Kill(), "killing an exited process is a no-op")
}

func TestReadyFiresOnListen(t *testing.T) {
	sb := boot(t)
	l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(sb.Port()))
	require.NoError(t, err)
	defer l.Close()

	select {
	case r := <-sb.Ready():
		assert.Equal(t, sb.Port(), r.Port)
		assert.Equal(t, "http://localhost:"+strconv.Itoa(sb.Port()), r.URL)
	case <-time.After(5 * time.Second):
		t.Fatal("ready never fired")
	}
}

func TestCloseRemovesDir(t *testing.T) {
	p := NewLocalProvider(LocalConfig{WorkDir: t.TempDir()}, logger.Discard())
	sb, err := p.Boot(context.Background())
	require.NoError(t, err)
	dir := sb.(*Local).Dir()

	proc, err := sb.Spawn(context.Background(), "sh", "-c", "sleep 30")
	require.NoError(t, err)
	require.NoError(t, sb.Close())
	drain(proc)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	_, err = sb.Spawn(context.Background(), "true")
	assert.Error(t, err)
}

func TestOverlongLineDoesNotBlockProcess(t *testing.T) {
	sb := boot(t)
	script := "head -c 2000000 /dev/zero | tr '\\0' a; echo; echo after; exit 0"
	p, err := sb.Spawn(context.Background(), "sh", "-c", script)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		drain(p)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("process blocked writing to an undrained pipe")
	}
	code, err := p.Wait()
	assert.Equal(t, 0, code)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
