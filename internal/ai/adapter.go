// Package ai turns "@ai" chat messages into collaborator replies and
// applies any file changes they propose.
package ai

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kartikbazzad/bunbase/collab/internal/bus"
	"github.com/kartikbazzad/bunbase/collab/internal/filetree"
	"github.com/kartikbazzad/bunbase/collab/internal/metrics"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
)

// Trigger is the mention that routes a chat message to the collaborator.
const Trigger = "@ai"

// Generator produces a raw reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TreeMerger applies a partial tree to a project.
type TreeMerger interface {
	MergeTree(ctx context.Context, projectID string, partial filetree.Tree) (*models.Project, error)
}

// Room publishes the reply and refreshes the room's project copies.
type Room interface {
	Publish(ctx context.Context, roomID string, ev bus.Event) error
	UpdateProject(roomID string, p *models.Project)
}

// Triggered reports whether body mentions the collaborator.
func Triggered(body string) bool {
	return strings.Contains(body, Trigger)
}

// Prompt strips the first mention from body.
func Prompt(body string) string {
	return strings.TrimSpace(strings.Replace(body, Trigger, "", 1))
}

// Adapter handles one AI turn. Each turn publishes exactly one message.
type Adapter struct {
	gen      Generator
	projects TreeMerger
	room     Room
	timeout  time.Duration
	log      *slog.Logger
}

// NewAdapter creates an Adapter. timeout bounds each generation call.
func NewAdapter(gen Generator, projects TreeMerger, room Room, timeout time.Duration, log *slog.Logger) *Adapter {
	return &Adapter{gen: gen, projects: projects, room: room, timeout: timeout, log: log}
}

// Handle answers body in projectID's room.
func (a *Adapter) Handle(ctx context.Context, projectID, body string) {
	reply, outcome := a.answer(ctx, projectID, body)
	metrics.IncAITurn(outcome)
	a.publish(ctx, projectID, reply)
}

// reject answers a turn that could not be scheduled.
func (a *Adapter) reject(ctx context.Context, projectID string) {
	metrics.IncAITurn("rejected")
	a.publish(ctx, projectID, ApologyReply)
}

func (a *Adapter) publish(ctx context.Context, projectID, body string) {
	msg := models.Message{Body: body, Sender: models.AISender()}
	if err := a.room.Publish(ctx, projectID, bus.Chat(msg, nil)); err != nil {
		a.log.Warn("AI reply was broadcast but not persisted", "project", projectID, "error", err)
	}
}

// answer returns the message body to publish and a metrics outcome.
func (a *Adapter) answer(ctx context.Context, projectID, body string) (string, string) {
	prompt := Prompt(body)
	if prompt == "" {
		return HelpReply, "help"
	}

	genCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	raw, err := a.gen.Generate(genCtx, prompt)
	if err != nil {
		a.log.Error("AI generation failed", "project", projectID, "error", err)
		return ApologyReply, "error"
	}
	a.log.Debug("AI generation finished", "project", projectID, "duration", time.Since(start))

	reply, err := ParseReply(raw)
	if err != nil {
		a.log.Warn("AI reply rejected", "project", projectID, "error", err)
		return ApologyReply, "error"
	}

	if reply.FileTree == nil {
		return raw, "reply"
	}

	project, err := a.projects.MergeTree(ctx, projectID, reply.FileTree)
	if err != nil {
		a.log.Error("Failed to apply AI file changes", "project", projectID, "error", err)
		return ApologyReply, "error"
	}
	a.room.UpdateProject(projectID, project)
	return raw, "merge"
}
