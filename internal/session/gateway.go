// Package session admits websocket connections into project rooms and
// runs each connected participant: chat in, events out, sandbox runs.
package session

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/kartikbazzad/bunbase/collab/internal/auth"
	"github.com/kartikbazzad/bunbase/collab/internal/models"
	apperrors "github.com/kartikbazzad/bunbase/collab/pkg/errors"
)

// Refusal codes returned to a client whose handshake is rejected.
const (
	CodeInvalidProject  = "invalid_project"
	CodeUnauthenticated = "unauthenticated"
	CodeForbidden       = "forbidden"
)

// Refusal is a rejected handshake. It is sent as an HTTP error before the
// websocket upgrade.
type Refusal struct {
	Code    string `json:"code"`
	Status  int    `json:"-"`
	Message string `json:"error"`
}

func (r *Refusal) Error() string { return r.Code + ": " + r.Message }

func refuse(status int, code, message string) *Refusal {
	return &Refusal{Code: code, Status: status, Message: message}
}

// Handshake carries what a connecting client presented.
type Handshake struct {
	Token     string
	ProjectID string
}

// Admission is a successful handshake.
type Admission struct {
	Identity models.Identity
	Project  *models.Project
}

// ProjectLookup loads a project by id.
type ProjectLookup interface {
	GetProject(ctx context.Context, id string) (*models.Project, error)
}

// Gateway validates handshakes.
type Gateway struct {
	verifier auth.Verifier
	projects ProjectLookup
	log      *slog.Logger
}

// NewGateway creates a Gateway.
func NewGateway(verifier auth.Verifier, projects ProjectLookup, log *slog.Logger) *Gateway {
	return &Gateway{verifier: verifier, projects: projects, log: log}
}

// Admit checks, in order: the project id is a UUID, a token is present,
// the token verifies, the project exists and the user is a member. A
// failed check returns a *Refusal; a store failure is returned as is.
func (g *Gateway) Admit(ctx context.Context, hs Handshake) (*Admission, error) {
	if _, err := uuid.Parse(hs.ProjectID); err != nil {
		return nil, refuse(http.StatusBadRequest, CodeInvalidProject, "Invalid projectId")
	}
	if hs.Token == "" {
		return nil, refuse(http.StatusUnauthorized, CodeUnauthenticated, "Authentication token required")
	}
	identity, err := g.verifier.Verify(hs.Token)
	if err != nil {
		g.log.Debug("Rejected token", "error", err)
		return nil, refuse(http.StatusUnauthorized, CodeUnauthenticated, "Invalid or expired token")
	}

	project, err := g.projects.GetProject(ctx, hs.ProjectID)
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) {
			return nil, refuse(http.StatusNotFound, CodeInvalidProject, "Project not found")
		}
		return nil, err
	}
	if !project.HasMember(identity.UserID) {
		return nil, refuse(http.StatusForbidden, CodeForbidden, "User does not belong to this project")
	}

	return &Admission{Identity: identity, Project: project}, nil
}
