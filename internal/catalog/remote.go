package catalog

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/joeblew999/geo-coverage/internal/coverage"
)

// TokenSource supplies the bearer token for remote calls. An empty token
// sends the request anonymously.
type TokenSource interface {
	Token() string
}

// RemoteOptions configures the remote catalog client.
type RemoteOptions struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Tokens            TokenSource
	Limiter           *rate.Limiter
	Client            *http.Client
}

// Remote talks to a REST data catalog:
//
//	GET {base}/api/v1/datasets/{owner.parent}/tables
//	GET {base}/api/v1/tables/{owner.parent.table}/variables
//
// Both endpoints page with nextPageToken.
type Remote struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	tokens  TokenSource
}

// NewRemote creates a remote catalog client.
func NewRemote(opts RemoteOptions) *Remote {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Inf, 1)
		if opts.RequestsPerSecond > 0 {
			limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
		}
	}
	return &Remote{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  client,
		limiter: limiter,
		tokens:  opts.Tokens,
	}
}

type tablesPage struct {
	Results []struct {
		Name string `json:"name"`
	} `json:"results"`
	NextPageToken string `json:"nextPageToken"`
}

type variablesPage struct {
	Results []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"results"`
	NextPageToken string `json:"nextPageToken"`
}

// Tables lists every table of owner.parentEntity.
func (c *Remote) Tables(ctx context.Context, parentReference string) ([]string, error) {
	if _, _, err := splitParent(parentReference); err != nil {
		return nil, err
	}

	endpoint := "/api/v1/datasets/" + url.PathEscape(parentReference) + "/tables"
	tables := []string{}
	pageToken := ""
	seen := map[string]bool{}
	for {
		var page tablesPage
		if err := c.get(ctx, endpoint, pageToken, &page); err != nil {
			return nil, eris.Wrapf(err, "remote catalog: list tables of %s", parentReference)
		}
		for _, t := range page.Results {
			tables = append(tables, t.Name)
		}
		if page.NextPageToken == "" {
			return tables, nil
		}
		if err := advance(seen, page.NextPageToken); err != nil {
			return nil, eris.Wrapf(err, "remote catalog: list tables of %s", parentReference)
		}
		pageToken = page.NextPageToken
	}
}

// Collection returns the variables of owner.parentEntity.table.
func (c *Remote) Collection(ctx context.Context, tableReference string) (*coverage.Collection, error) {
	if _, _, _, err := splitTable(tableReference); err != nil {
		return nil, err
	}

	endpoint := "/api/v1/tables/" + url.PathEscape(tableReference) + "/variables"
	collection := &coverage.Collection{Variables: []coverage.Variable{}}
	pageToken := ""
	seen := map[string]bool{}
	for {
		var page variablesPage
		if err := c.get(ctx, endpoint, pageToken, &page); err != nil {
			return nil, eris.Wrapf(err, "remote catalog: describe %s", tableReference)
		}
		for _, v := range page.Results {
			collection.Variables = append(collection.Variables, coverage.Variable{
				Name: v.Name,
				Type: coverage.VariableType(v.Type),
			})
		}
		if page.NextPageToken == "" {
			return collection, nil
		}
		if err := advance(seen, page.NextPageToken); err != nil {
			return nil, eris.Wrapf(err, "remote catalog: describe %s", tableReference)
		}
		pageToken = page.NextPageToken
	}
}

// maxPages bounds one listing.
const maxPages = 1000

// advance records the next page token. A token seen before or a listing
// longer than maxPages is an error.
func advance(seen map[string]bool, token string) error {
	if seen[token] {
		return eris.Errorf("repeated page token %q", token)
	}
	if len(seen) >= maxPages-1 {
		return eris.Errorf("more than %d pages", maxPages)
	}
	seen[token] = true
	return nil
}

func (c *Remote) get(ctx context.Context, endpoint, pageToken string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "rate limit wait")
	}

	u := c.baseURL + endpoint
	if pageToken != "" {
		u += "?pageToken=" + url.QueryEscape(pageToken)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return eris.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		zap.L().Debug("remote catalog error response",
			zap.String("url", u),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return eris.Errorf("unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return eris.Wrap(err, "decode response")
	}
	return nil
}
