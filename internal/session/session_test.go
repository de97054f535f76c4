package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kartikbazzad/bunbase/collab/internal/ai"
	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	"github.com/kartikbazzad/bunbase/collab/internal/runner"
	"github.com/kartikbazzad/bunbase/collab/internal/sandbox"
	"github.com/kartikbazzad/bunbase/collab/internal/services"
	"github.com/kartikbazzad/bunbase/collab/internal/store"
	"github.com/kartikbazzad/bunbase/collab/pkg/logger"
)

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func messageIDs(t *testing.T, f frame) []string {
	t.Helper()
	var msgs []models.Message
	require.NoError(t, json.Unmarshal(f.Data, &msgs))
	ids := make([]string, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}
	return ids
}

func chatMessage(t *testing.T, f frame) models.Message {
	t.Helper()
	require.Equal(t, bus.TypeChatMessage, f.Type)
	var msg models.Message
	require.NoError(t, json.Unmarshal(f.Data, &msg))
	return msg
}

type echoGenerator struct{ calls atomic.Int32 }

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.calls.Add(1)
	return fmt.Sprintf(`{"text":%q}`, prompt), nil
}

type brokenProvider struct{}

func (brokenProvider) Boot(context.Context) (sandbox.Sandbox, error) {
	return nil, errors.New("no sandbox capacity")
}

type testEnv struct {
	srv      *httptest.Server
	mem      *store.Memory
	projects *services.ProjectService
	registry *bus.Registry
	jwt      *auth.JWT
	gen      *echoGenerator
	project  *models.Project
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Discard()

	mem := store.NewMemory()
	projects := services.NewProjectService(mem)
	p, err := projects.CreateProject(context.Background(), "demo", "alice")
	require.NoError(t, err)
	p, err = projects.AddMembers(context.Background(), p.ID, []string{"bob"}, "alice")
	require.NoError(t, err)

	jwt := auth.NewJWT("test-secret", "collab", time.Hour)
	registry := bus.NewRegistry(mem, time.Second, log)
	gen := &echoGenerator{}
	dispatcher, err := ai.NewDispatcher(ai.NewAdapter(gen, projects, registry, time.Second, log), 4, log)
	require.NoError(t, err)

	hub := NewHub(NewGateway(jwt, projects, log), registry, mem, dispatcher, brokenProvider{}, Config{
		Runner: runner.Config{Install: []string{"install"}, Start: []string{"start"}},
	}, log)

	router := gin.New()
	router.GET("/ws", hub.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(dispatcher.Close)
	t.Cleanup(hub.Shutdown)

	return &testEnv{srv: srv, mem: mem, projects: projects, registry: registry, jwt: jwt, gen: gen, project: p}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	token, err := e.jwt.Issue(models.Identity{UserID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return token
}

func (e *testEnv) dial(token, projectID string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws?projectId=" + projectID
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return websocket.DefaultDialer.Dial(url, header)
}

// connect dials as userID and consumes the load-messages frame.
func (e *testEnv) connect(t *testing.T, userID string) (*websocket.Conn, frame) {
	t.Helper()
	conn, _, err := e.dial(e.token(t, userID), e.project.ID)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	first := read(t, conn)
	require.Equal(t, bus.TypeLoadMessages, first.Type)
	return conn, first
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var f frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func send(t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": typ, "data": data}))
}

func TestHandshakeRefusals(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name      string
		token     string
		projectID string
		status    int
		code      string
	}{
		{"malformed project", "", "not-a-uuid", http.StatusBadRequest, CodeInvalidProject},
		{"no token", "", env.project.ID, http.StatusUnauthorized, CodeUnauthenticated},
		{"forged token", "forged", env.project.ID, http.StatusUnauthorized, CodeUnauthenticated},
		{"outsider", env.token(t, "mallory"), env.project.ID, http.StatusForbidden, CodeForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := env.dial(tt.token, tt.projectID)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			defer resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)

			var body Refusal
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestTokenQueryField(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws?projectId=" + env.project.ID + "&token=" + env.token(t, "alice")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, bus.TypeLoadMessages, read(t, conn).Type)
}

func TestBacklogIsMostRecentFiftyInOrder(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 60; i++ {
		msg := models.Message{Body: fmt.Sprintf("m%d", i), Sender: models.Sender{ID: "alice"}}
		require.NoError(t, env.registry.Publish(context.Background(), env.project.ID, bus.Chat(msg, nil)))
	}
	all := env.mem.Messages(env.project.ID)
	require.Len(t, all, 60)

	_, first := env.connect(t, "alice")
	ids := messageIDs(t, first)
	require.Len(t, ids, 50)
	for i, id := range ids {
		assert.Equal(t, all[10+i].ID, id)
	}
}

func TestChatReachesOthersWithTokenIdentity(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	send(t, alice, TypeSendChat, map[string]string{"message": "hello"})
	got := chatMessage(t, read(t, bob))
	assert.Equal(t, "hello", got.Body)
	assert.Equal(t, models.Sender{ID: "alice", Email: "alice@example.com"}, got.Sender)
	assert.NotEmpty(t, got.ID)

	// Alice does not get her own message back; the next thing she sees is Bob's.
	send(t, bob, TypeSendChat, map[string]string{"message": "hi alice"})
	assert.Equal(t, "hi alice", chatMessage(t, read(t, alice)).Body)

	require.Eventually(t, func() bool { return len(env.mem.Messages(env.project.ID)) == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestAIMentionRepliesToEveryone(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	send(t, alice, TypeSendChat, map[string]string{"message": "@ai"})

	assert.Equal(t, "@ai", chatMessage(t, read(t, bob)).Body)
	help := chatMessage(t, read(t, bob))
	assert.Equal(t, ai.HelpReply, help.Body)
	assert.True(t, help.Sender.IsAI())

	assert.Equal(t, ai.HelpReply, chatMessage(t, read(t, alice)).Body)
	assert.Equal(t, int32(0), env.gen.calls.Load())

	send(t, alice, TypeSendChat, map[string]string{"message": "@ai say hi"})
	read(t, bob)
	assert.Equal(t, `{"text":"say hi"}`, chatMessage(t, read(t, alice)).Body)
}

func TestRunEventsArePrivate(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")
	bob, _ := env.connect(t, "bob")

	send(t, alice, TypeRun, map[string]any{})

	var kinds []string
	var lastLog runner.LogLine
	for {
		f := read(t, alice)
		kinds = append(kinds, f.Type)
		if f.Type == bus.TypeRunLog {
			require.NoError(t, json.Unmarshal(f.Data, &lastLog))
		}
		if f.Type == bus.TypeRunStatus && strings.Contains(string(f.Data), string(runner.PhaseError)) {
			break
		}
	}
	assert.Equal(t, []string{bus.TypeRunStatus, bus.TypeRunLog, bus.TypeRunLog, bus.TypeRunStatus}, kinds)
	assert.Contains(t, lastLog.Text, "[Error] failed to boot sandbox")

	// Bob saw none of it.
	send(t, alice, TypeSendChat, map[string]string{"message": "done"})
	assert.Equal(t, "done", chatMessage(t, read(t, bob)).Body)
}

func TestBadFramesGetErrors(t *testing.T) {
	env := newTestEnv(t)
	alice, _ := env.connect(t, "alice")

	send(t, alice, "dance", nil)
	f := read(t, alice)
	assert.Equal(t, bus.TypeError, f.Type)
	assert.Contains(t, string(f.Data), "unknown message type")

	send(t, alice, TypeSendChat, map[string]string{"message": "   "})
	assert.Equal(t, bus.TypeError, read(t, alice).Type)

	// Stop with nothing running sends nothing; the next frame is the error
	// for the following bad frame.
	send(t, alice, TypeStop, nil)
	send(t, alice, "dance", nil)
	assert.Equal(t, bus.TypeError, read(t, alice).Type)
}
