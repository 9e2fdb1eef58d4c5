package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
)

// Client is what the platform's service wrappers build on: requests ride
// the authenticated Transport, and every non-2xx outcome comes back as one
// of this package's typed errors instead of a response the caller has to
// inspect.
type Client struct {
	hc      *http.Client
	routes  Routes
	metrics *Metrics
}

// NewClient wraps a Transport in a classifying client.
func NewClient(t *Transport) *Client {
	return &Client{
		hc:      &http.Client{Transport: t},
		routes:  t.routes,
		metrics: t.metrics,
	}
}

// Do executes the request. Responses with 2xx status are returned as-is and
// the caller owns the body; anything else is read, closed and classified
// into a typed error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, c.unwrapTyped(err)
	}
	if resp.StatusCode < http.StatusBadRequest {
		return resp, nil
	}

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if readErr != nil {
		body = nil
	}
	cerr := ClassifyResponse(resp.StatusCode, body, c.routes.isGrant(req.URL.Path))
	c.metrics.errorClassified(errorKind(cerr))
	return nil, cerr
}

// unwrapTyped peels the url.Error wrapper http.Client adds so callers match
// on the pipeline's own types.
func (c *Client) unwrapTyped(err error) error {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		ne := classifyNetworkError(ue.Op+" "+ue.URL, ue.Err)
		c.metrics.networkFailure(ne.Kind)
		return ne
	}
	return err
}

func errorKind(err error) string {
	switch err.(type) {
	case *ForbiddenError:
		return "forbidden"
	case *CredentialsError:
		return "credentials"
	case *AccountDisabledError:
		return "account_disabled"
	case *AuthError:
		return "auth"
	case *APIError:
		return "api"
	default:
		return "other"
	}
}
