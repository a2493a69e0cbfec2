// Package api defines the Huma API routes and handlers.
package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"

	"github.com/joeblew999/geo-coverage/internal/coverage"
	"github.com/joeblew999/geo-coverage/internal/humastar"
	"github.com/joeblew999/geo-coverage/internal/service"
)

// Services holds the service dependencies for API handlers.
type Services struct {
	Sessions *service.SessionService
}

// Types

type SessionIDInput struct {
	ID string `path:"id" doc:"Session ID" example:"2f1c0f6e-6c4e-4d43-9a53-6f0f3b1c2d11"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

type HealthBody struct {
	Status   string `json:"status" doc:"Health status" example:"ok"`
	Version  string `json:"version" doc:"API version" example:"1.0.0"`
	Sessions int    `json:"sessions" doc:"Live sessions"`
}

// SessionStateBody is a controller snapshot plus the session's actions.
type SessionStateBody struct {
	ID         string         `json:"id" doc:"Session ID"`
	Authorized bool           `json:"authorized" doc:"Whether the session holds a valid token"`
	State      coverage.State `json:"state" doc:"Controller state"`
}

var (
	refreshActions = map[coverage.FetchKind]humastar.ActionDef{
		coverage.FetchTables:     {Rel: "refresh-tables", Pattern: "/api/v1/sessions/%s/refresh/tables", Method: "POST", Title: "Retry table list"},
		coverage.FetchCollection: {Rel: "refresh-collection", Pattern: "/api/v1/sessions/%s/refresh/collection", Method: "POST", Title: "Retry table schema"},
		coverage.FetchMap:        {Rel: "refresh-map", Pattern: "/api/v1/sessions/%s/refresh/map", Method: "POST", Title: "Retry map data"},
	}
	authorizeAction   = humastar.ActionDef{Rel: "authorize", Pattern: "/api/v1/sessions/%s/auth", Method: "POST", Title: "Sign in"}
	deauthorizeAction = humastar.ActionDef{Rel: "deauthorize", Pattern: "/api/v1/sessions/%s/auth", Method: "DELETE", Title: "Sign out"}
	closeAction       = humastar.ActionDef{Rel: "close", Pattern: "/api/v1/sessions/%s", Method: "DELETE", Title: "Close session"}
)

// Actions offers a retry for every failed fetch and the sign in or sign
// out action matching the session's authorization.
func (b SessionStateBody) Actions() []humastar.Action {
	var defs []humastar.ActionDef
	for _, kind := range coverage.FetchKinds {
		if b.State.Status(kind).State == coverage.StateFailed {
			defs = append(defs, refreshActions[kind])
		}
	}
	if b.Authorized {
		defs = append(defs, deauthorizeAction)
	} else {
		defs = append(defs, authorizeAction)
	}
	return humastar.ActionsFor(b.ID, append(defs, closeAction))
}

type SessionStateOutput struct {
	Body SessionStateBody
}

// APIHandler holds all REST API handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

// RegisterSessions registers session and controller routes.
func (h *APIHandler) RegisterSessions(api huma.API) {
	huma.Get(api, "/api/v1/sessions", h.ListSessions, huma.OperationTags("sessions"))
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        "POST",
		Path:          "/api/v1/sessions",
		Summary:       "Create session",
		Tags:          []string{"sessions"},
		DefaultStatus: 201,
	}, h.CreateSession)
	huma.Get(api, "/api/v1/sessions/{id}/state", h.GetState, huma.OperationTags("sessions"))
	huma.Put(api, "/api/v1/sessions/{id}/source", h.PutSource, huma.OperationTags("sessions"))
	huma.Put(api, "/api/v1/sessions/{id}/indicators", h.PutIndicators, huma.OperationTags("sessions"))
	huma.Patch(api, "/api/v1/sessions/{id}/display", h.PatchDisplay, huma.OperationTags("sessions"))
	huma.Post(api, "/api/v1/sessions/{id}/refresh/{kind}", h.Refresh, huma.OperationTags("sessions"))
	huma.Delete(api, "/api/v1/sessions/{id}", h.DeleteSession, huma.OperationTags("sessions"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	n := 0
	if h.svc != nil && h.svc.Sessions != nil {
		n = len(h.svc.Sessions.List())
	}
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version, Sessions: n}}, nil
}

func (h *APIHandler) ListSessions(ctx context.Context, input *struct{}) (*struct{ Body []service.SessionInfo }, error) {
	return &struct{ Body []service.SessionInfo }{Body: h.svc.Sessions.List()}, nil
}

func (h *APIHandler) CreateSession(ctx context.Context, input *struct{}) (*struct{ Body service.SessionInfo }, error) {
	sess, err := h.svc.Sessions.Create()
	if err != nil {
		return nil, sessionError(err)
	}
	return &struct{ Body service.SessionInfo }{Body: sess.Info()}, nil
}

func (h *APIHandler) GetState(ctx context.Context, input *SessionIDInput) (*SessionStateOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return stateOutput(sess), nil
}

func (h *APIHandler) PutSource(ctx context.Context, input *struct {
	SessionIDInput
	Body coverage.SourceID
}) (*SessionStateOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.Controller.SetSource(input.Body)
	return stateOutput(sess), nil
}

func (h *APIHandler) PutIndicators(ctx context.Context, input *struct {
	SessionIDInput
	Body coverage.Indicators
}) (*SessionStateOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.Controller.SetIndicators(input.Body)
	return stateOutput(sess), nil
}

// DisplayPatch carries the display options to change. Absent fields keep
// their current value.
type DisplayPatch struct {
	Region                *string  `json:"region,omitempty" doc:"Region name"`
	Subregion             *string  `json:"subregion,omitempty" doc:"Subregion name"`
	Roads                 []string `json:"roads,omitempty" doc:"Road classes to include"`
	CoverageTravelTime    *string  `json:"coverageTravelTime,omitempty" doc:"Travel time threshold in minutes"`
	Resolution            *string  `json:"resolution,omitempty" doc:"Raster resolution"`
	PointRadius           *string  `json:"pointRadius,omitempty" doc:"Point radius in pixels"`
	ColorScaleBucketCount *int     `json:"colorScaleBucketCount,omitempty" minimum:"1" doc:"Number of color scale buckets"`
	ShowPoints            *bool    `json:"showPoints,omitempty" doc:"Draw source points"`
	HideRoads             *bool    `json:"hideRoads,omitempty" doc:"Hide the road layer"`
	UseOSMRoadSpeed       *bool    `json:"useOsmRoadSpeed,omitempty" doc:"Use OpenStreetMap road speeds"`
	ShowPopulationDensity *bool    `json:"showPopulationDensity,omitempty" doc:"Draw population density"`
	HasDiscreteColorScale *bool    `json:"hasDiscreteColorScale,omitempty" doc:"Use a discrete color scale"`
	ColorScale            []string `json:"colorScale,omitempty" doc:"Explicit color scale (CSS colors)"`
}

// Apply returns d with the patch's fields set.
func (p DisplayPatch) Apply(d coverage.DisplayOptions) coverage.DisplayOptions {
	setString(&d.Region, p.Region)
	setString(&d.Subregion, p.Subregion)
	setString(&d.CoverageTravelTime, p.CoverageTravelTime)
	setString(&d.Resolution, p.Resolution)
	setString(&d.PointRadius, p.PointRadius)
	if p.Roads != nil {
		d.Roads = p.Roads
	}
	if p.ColorScaleBucketCount != nil {
		d.ColorScaleBucketCount = *p.ColorScaleBucketCount
	}
	setBool(&d.ShowPoints, p.ShowPoints)
	setBool(&d.HideRoads, p.HideRoads)
	setBool(&d.UseOSMRoadSpeed, p.UseOSMRoadSpeed)
	setBool(&d.ShowPopulationDensity, p.ShowPopulationDensity)
	setBool(&d.HasDiscreteColorScale, p.HasDiscreteColorScale)
	if p.ColorScale != nil {
		d.ColorScale = p.ColorScale
	}
	return d
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func (h *APIHandler) PatchDisplay(ctx context.Context, input *struct {
	SessionIDInput
	Body DisplayPatch
}) (*SessionStateOutput, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	sess.Controller.SetDisplay(input.Body.Apply(sess.Controller.Snapshot().Display))
	return stateOutput(sess), nil
}

func (h *APIHandler) Refresh(ctx context.Context, input *struct {
	SessionIDInput
	Kind string `path:"kind" enum:"tables,collection,map" doc:"Fetch to re-run"`
}) (*struct{ Body MessageBody }, error) {
	sess, err := h.svc.Sessions.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	if err := sess.Controller.Refresh(coverage.FetchKind(input.Kind)); err != nil {
		return nil, huma.Error400BadRequest(err.Error())
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Refresh scheduled: " + input.Kind}}, nil
}

func (h *APIHandler) DeleteSession(ctx context.Context, input *SessionIDInput) (*struct{ Body MessageBody }, error) {
	if err := h.svc.Sessions.Delete(input.ID); err != nil {
		return nil, sessionError(err)
	}
	return &struct{ Body MessageBody }{Body: MessageBody{Message: "Session closed"}}, nil
}

func stateOutput(sess *service.Session) *SessionStateOutput {
	return &SessionStateOutput{Body: SessionStateBody{
		ID:         sess.ID,
		Authorized: sess.Auth.IsAuthorized(),
		State:      sess.Controller.Snapshot(),
	}}
}

// sessionError maps service errors onto HTTP errors.
func sessionError(err error) error {
	switch {
	case eris.Is(err, service.ErrSessionNotFound):
		return huma.Error404NotFound("session not found")
	case eris.Is(err, service.ErrTooManySessions):
		return huma.Error429TooManyRequests("too many sessions")
	}
	return huma.Error500InternalServerError("session error", err)
}
