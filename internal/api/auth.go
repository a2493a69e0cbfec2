package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/auth"
	"github.com/joeblew999/geo-coverage/internal/coverage"
)

type AuthBody struct {
	Authorized bool `json:"authorized" doc:"Whether the session holds a valid token"`
}

type AuthOutput struct {
	Body AuthBody
}

// RegisterAuth registers session authorization routes.
func (h *APIHandler) RegisterAuth(api huma.API) {
	huma.Get(api, "/api/v1/sessions/{id}/auth", h.GetAuth, huma.OperationTags("auth"))
	huma.Post(api, "/api/v1/sessions/{id}/auth", h.Authorize, huma.OperationTags("auth"))
	huma.Delete(api, "/api/v1/sessions/{id}/auth", h.Deauthorize, huma.OperationTags("auth"))
}

func (h *APIHandler) GetAuth(ctx context.Context, input *SessionIDInput) (*AuthOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &AuthOutput{Body: AuthBody{Authorized: sess.Auth.IsAuthorized()}}, nil
}

// Authorize stores an already-issued token on the session and refetches the
// table list and schema with it.
func (h *APIHandler) Authorize(ctx context.Context, input *struct {
	SessionIDInput
	Body auth.Token
}) (*AuthOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := sess.Auth.Authorize(input.Body); err != nil {
		if eris.Is(err, auth.ErrEmptyToken) {
			return nil, huma.Error422UnprocessableEntity("access_token is required")
		}
		return nil, huma.Error500InternalServerError("authorize", err)
	}
	if !sess.Auth.IsAuthorized() {
		return nil, huma.Error422UnprocessableEntity("token is expired or about to expire")
	}
	refreshAll(sess.Controller)
	return &AuthOutput{Body: AuthBody{Authorized: true}}, nil
}

func (h *APIHandler) Deauthorize(ctx context.Context, input *SessionIDInput) (*AuthOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.Auth.Deauthorize()
	refreshAll(sess.Controller)
	return &AuthOutput{Body: AuthBody{Authorized: false}}, nil
}

// refreshAll re-runs every fetch so results reflect the new credentials.
func refreshAll(c *coverage.Controller) {
	for _, kind := range coverage.FetchKinds {
		c.Refresh(kind)
	}
}
