// Package humastar lets Huma operations answer with Datastar server-sent
// events: element patches rendered from fragment templates, signal patches,
// and parsing of the signals a Datastar page posts back.
package humastar

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/geo-coverage/internal/templates"
)

// Handler is embedded by handlers that stream Datastar events.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn in a Huma streaming response. The API must use the humago
// adapter.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(ctx huma.Context) {
			r, w := humago.Unwrap(ctx)
			fn(SSE{datastar.NewSSE(w, r)})
		},
	}
}

// RenderList renders each item with tmpl, or the empty-state fragment when
// there are none.
func (h *Handler) RenderList(tmpl string, items []any, emptyTitle, emptyMsg string) string {
	var buf bytes.Buffer
	if len(items) == 0 {
		h.Renderer.RenderToBuffer(&buf, "empty-state", map[string]string{
			"Title": emptyTitle, "Message": emptyMsg,
		})
		return buf.String()
	}
	for _, item := range items {
		h.Renderer.RenderToBuffer(&buf, tmpl, item)
	}
	return buf.String()
}

// SelectOptionData is one <option> of a select-option fragment.
type SelectOptionData struct {
	Value    string
	Label    string
	Selected bool
}

// RenderSelect renders an empty-valued placeholder option followed by options.
func (h *Handler) RenderSelect(placeholder string, options []SelectOptionData) string {
	var buf bytes.Buffer
	h.Renderer.RenderToBuffer(&buf, "select-option", SelectOptionData{Label: placeholder})
	for _, opt := range options {
		h.Renderer.RenderToBuffer(&buf, "select-option", opt)
	}
	return buf.String()
}

// SSE writes Datastar events to one response.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// Patch replaces the inner HTML of the element matching selector.
func (s SSE) Patch(html, selector string) error {
	return s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Signals merges signals into the page's signal store.
func (s SSE) Signals(signals map[string]any) error {
	return s.MarshalAndPatchSignals(signals)
}

// Error sets the page's error signal.
func (s SSE) Error(msg string) error {
	return s.Signals(map[string]any{"error": msg})
}

// Signals is the flat JSON object a Datastar page posts.
type Signals map[string]any

// ParseSignals decodes a posted signal object.
func ParseSignals(body []byte) (Signals, error) {
	var signals Signals
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// Has reports whether key was posted, even with a zero value.
func (s Signals) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s Signals) String(key string) string {
	str, _ := s[key].(string)
	return str
}

// Strings reads a list signal. A JSON array keeps its string elements and a
// string is split on commas. Blank entries are dropped.
func (s Signals) Strings(key string) []string {
	out := []string{}
	add := func(v string) {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	switch v := s[key].(type) {
	case []any:
		for _, item := range v {
			if str, ok := item.(string); ok {
				add(str)
			}
		}
	case string:
		for _, part := range strings.Split(v, ",") {
			add(part)
		}
	}
	return out
}

// Int reads a numeric signal, truncating JSON numbers.
func (s Signals) Int(key string) int {
	switch n := s[key].(type) {
	case float64:
		return int(n)
	case int:
		return n
	}
	return 0
}

func (s Signals) Bool(key string) bool {
	b, _ := s[key].(bool)
	return b
}

// SignalsInput is a Huma input carrying the raw posted signals. Embed it next
// to path parameters.
type SignalsInput struct {
	RawBody []byte
}

// MustParse parses the body or returns a 400 error.
func (i *SignalsInput) MustParse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("Invalid request data: " + err.Error())
	}
	return signals, nil
}
