// Package settings serves the Datastar settings panel: an SSE stream of a
// session's controller state and a signals endpoint feeding its setters.
package settings

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/joeblew999/geo-coverage/internal/coverage"
	"github.com/joeblew999/geo-coverage/internal/humastar"
	"github.com/joeblew999/geo-coverage/internal/service"
	"github.com/joeblew999/geo-coverage/internal/templates"
)

// Handler streams controller state to the settings panel.
type Handler struct {
	humastar.Handler
	sessions *service.SessionService

	// indicators last pushed to each session's stream, by session ID
	pushed sync.Map
}

// New creates a settings handler.
func New(sessions *service.SessionService, renderer *templates.Renderer) *Handler {
	return &Handler{
		Handler:  humastar.Handler{Renderer: renderer},
		sessions: sessions,
	}
}

func (h *Handler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/settings/{id}/stream", h.Stream, huma.OperationTags("settings"))
	huma.Post(api, "/api/v1/settings/{id}", h.Update, huma.OperationTags("settings"))
}

type StreamInput struct {
	ID string `path:"id" doc:"Session ID"`
}

type UpdateInput struct {
	ID string `path:"id" doc:"Session ID"`
	humastar.SignalsInput
}

// Stream pushes the full panel once, then the derived parts on every
// controller change until the client goes away or the session closes.
func (h *Handler) Stream(ctx context.Context, input *StreamInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}

	return h.Handler.Stream(func(sse humastar.SSE) {
		detach := sess.Attach()
		defer detach()
		defer h.pushed.Delete(sess.ID)
		bus := h.sessions.Bus()
		ch := bus.Subscribe()
		defer bus.Unsubscribe(ch)

		if err := h.push(sse, sess, true); err != nil {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if ev.Session != sess.ID {
					continue
				}
				if ev.Action == service.ActionClosed {
					sse.Error("session closed")
					return
				}
				if err := h.push(sse, sess, false); err != nil {
					zap.L().Debug("settings stream ended", zap.String("session", sess.ID), zap.Error(err))
					return
				}
			}
		}
	}), nil
}

// Update applies the posted signals to the session's controller.
func (h *Handler) Update(ctx context.Context, input *UpdateInput) (*huma.StreamResponse, error) {
	sess, err := h.session(input.ID)
	if err != nil {
		return nil, err
	}
	signals, err := input.MustParse()
	if err != nil {
		return nil, err
	}

	Apply(sess.Controller, signals, h.lastPushed(sess))
	return h.Handler.Stream(func(sse humastar.SSE) {
		sse.Signals(map[string]any{"error": ""})
	}), nil
}

func (h *Handler) session(id string) (*service.Session, error) {
	sess, err := h.sessions.Get(id)
	if err != nil {
		if eris.Is(err, service.ErrSessionNotFound) {
			return nil, huma.Error404NotFound("session not found")
		}
		return nil, huma.Error500InternalServerError("session lookup", err)
	}
	return sess, nil
}

// lastPushed returns the indicators the session's page last received, or
// the current ones when no stream is open.
func (h *Handler) lastPushed(sess *service.Session) coverage.Indicators {
	if v, ok := h.pushed.Load(sess.ID); ok {
		return v.(coverage.Indicators)
	}
	return sess.Controller.Snapshot().Indicators
}

func (h *Handler) push(sse humastar.SSE, sess *service.Session, full bool) error {
	st := sess.Controller.Snapshot()
	h.pushed.Store(sess.ID, st.Indicators)
	if err := sse.Signals(StateSignals(st, sess.Auth.IsAuthorized(), full)); err != nil {
		return err
	}
	if err := sse.Patch(h.tableOptions(st), "#table-select"); err != nil {
		return err
	}
	if err := sse.Patch(h.columnOptions(st, st.Indicators.Latitude), "#latitude-select"); err != nil {
		return err
	}
	if err := sse.Patch(h.columnOptions(st, st.Indicators.Longitude), "#longitude-select"); err != nil {
		return err
	}
	if err := sse.Patch(h.variableRows(st), "#variable-list"); err != nil {
		return err
	}
	return sse.Patch(h.fetchStatus(st), "#fetch-status")
}

func (h *Handler) tableOptions(st coverage.State) string {
	opts := make([]humastar.SelectOptionData, 0, len(st.Tables))
	for _, t := range st.Tables {
		opts = append(opts, humastar.SelectOptionData{Value: t, Label: t, Selected: t == st.Source.Table})
	}
	return h.RenderSelect("-- table --", opts)
}

func (h *Handler) columnOptions(st coverage.State, selected string) string {
	var opts []humastar.SelectOptionData
	if st.Collection != nil {
		for _, v := range st.Collection.Variables {
			opts = append(opts, humastar.SelectOptionData{Value: v.Name, Label: v.Name, Selected: v.Name == selected})
		}
	}
	return h.RenderSelect("-- column --", opts)
}

type variableRow struct {
	Name      string
	Type      coverage.VariableType
	Indicator string
}

func (h *Handler) variableRows(st coverage.State) string {
	var items []any
	if st.Collection != nil {
		for _, v := range st.Collection.Variables {
			row := variableRow{Name: v.Name, Type: v.Type}
			switch v.Name {
			case st.Indicators.Latitude:
				row.Indicator = "latitude"
			case st.Indicators.Longitude:
				row.Indicator = "longitude"
			}
			items = append(items, row)
		}
	}
	return h.RenderList("variable-row", items, "No columns", "Select a table to see its columns.")
}

type statusView struct {
	Label    string
	State    coverage.FetchState
	Fetching bool
	Error    string
}

func (h *Handler) fetchStatus(st coverage.State) string {
	var buf bytes.Buffer
	for _, kind := range coverage.FetchKinds {
		s := st.Status(kind)
		h.Renderer.RenderToBuffer(&buf, "fetch-status", statusView{
			Label:    string(kind),
			State:    s.State,
			Fetching: s.Fetching,
			Error:    s.Error,
		})
	}
	return buf.String()
}

// StateSignals converts a snapshot into panel signals. Input signals are
// only sent when full is set so an update never clobbers a field the user
// is editing; the indicators are always sent since a guess can fill them.
func StateSignals(st coverage.State, authorized, full bool) map[string]any {
	var failures []string
	for _, kind := range coverage.FetchKinds {
		if s := st.Status(kind); s.State == coverage.StateFailed && s.Error != "" {
			failures = append(failures, string(kind)+": "+s.Error)
		}
	}

	signals := map[string]any{
		"latitude":           st.Indicators.Latitude,
		"longitude":          st.Indicators.Longitude,
		"authorized":         authorized,
		"tablesfetching":     st.TablesStatus.Fetching,
		"collectionfetching": st.CollectionStatus.Fetching,
		"mapfetching":        st.MapStatus.Fetching,
		"error":              strings.Join(failures, "; "),
	}
	if st.MapData != nil && st.MapData.Features != nil {
		signals["mapfeatures"] = len(st.MapData.Features.Features)
	} else {
		signals["mapfeatures"] = 0
	}
	if !full {
		return signals
	}

	d := st.Display
	signals["owner"] = st.Source.Owner
	signals["parententity"] = st.Source.ParentEntity
	signals["table"] = st.Source.Table
	signals["region"] = d.Region
	signals["subregion"] = d.Subregion
	signals["roads"] = strings.Join(d.Roads, ",")
	signals["coveragetraveltime"] = d.CoverageTravelTime
	signals["resolution"] = d.Resolution
	signals["pointradius"] = d.PointRadius
	signals["colorscalebucketcount"] = d.ColorScaleBucketCount
	signals["showpoints"] = d.ShowPoints
	signals["hideroads"] = d.HideRoads
	signals["useosmroadspeed"] = d.UseOSMRoadSpeed
	signals["showpopulationdensity"] = d.ShowPopulationDensity
	signals["hasdiscretecolorscale"] = d.HasDiscreteColorScale
	signals["colorscale"] = strings.Join(d.ColorScale, ",")
	return signals
}

// Apply routes posted signals to the controller setters. Only present
// signals change anything. Source and display are each applied with one
// setter; indicators are set per axis. pushed holds the indicators the page
// last received.
func Apply(c *coverage.Controller, s humastar.Signals, pushed coverage.Indicators) {
	st := c.Snapshot()

	src := st.Source
	if s.Has("owner") {
		src.Owner = s.String("owner")
	}
	if s.Has("parententity") {
		src.ParentEntity = s.String("parententity")
	}
	if s.Has("table") {
		src.Table = s.String("table")
	}
	if src != st.Source {
		c.SetSource(src)
	}

	// An indicator is only set when the page changed it, so a guess that
	// landed after the page's last update is not overwritten.
	if s.Has("latitude") {
		if v := s.String("latitude"); v != pushed.Latitude && v != st.Indicators.Latitude {
			c.SetLatitudeIndicator(v)
		}
	}
	if s.Has("longitude") {
		if v := s.String("longitude"); v != pushed.Longitude && v != st.Indicators.Longitude {
			c.SetLongitudeIndicator(v)
		}
	}

	d := st.Display
	changed := false
	setString := func(key string, dst *string) {
		if s.Has(key) && s.String(key) != *dst {
			*dst = s.String(key)
			changed = true
		}
	}
	setBool := func(key string, dst *bool) {
		if s.Has(key) && s.Bool(key) != *dst {
			*dst = s.Bool(key)
			changed = true
		}
	}
	setList := func(key string, dst *[]string) {
		if !s.Has(key) {
			return
		}
		if v := s.Strings(key); strings.Join(v, ",") != strings.Join(*dst, ",") {
			*dst = v
			changed = true
		}
	}
	setString("region", &d.Region)
	setString("subregion", &d.Subregion)
	setString("coveragetraveltime", &d.CoverageTravelTime)
	setString("resolution", &d.Resolution)
	setString("pointradius", &d.PointRadius)
	setList("roads", &d.Roads)
	setList("colorscale", &d.ColorScale)
	setBool("showpoints", &d.ShowPoints)
	setBool("hideroads", &d.HideRoads)
	setBool("useosmroadspeed", &d.UseOSMRoadSpeed)
	setBool("showpopulationdensity", &d.ShowPopulationDensity)
	setBool("hasdiscretecolorscale", &d.HasDiscreteColorScale)
	if s.Has("colorscalebucketcount") {
		if n := s.Int("colorscalebucketcount"); n > 0 && n != d.ColorScaleBucketCount {
			d.ColorScaleBucketCount = n
			changed = true
		}
	}
	if changed {
		c.SetDisplay(d)
	}
}
