package pipeline

import (
	"context"

	"golang.org/x/oauth2"
)

// TokenSource adapts the transport's ensure-fresh stage to
// oauth2.TokenSource, so oauth2-based tooling rides the same single-flight
// coordination as everything else.
type TokenSource struct {
	t *Transport
	// Token carries no context parameter, so one is captured here, the
	// same pattern oauth2 itself documents.
	ctx context.Context
}

var _ oauth2.TokenSource = (*TokenSource)(nil)

// TokenSource returns an oauth2.TokenSource view of the transport.
func (t *Transport) TokenSource(ctx context.Context) *TokenSource {
	return &TokenSource{t: t, ctx: ctx}
}

// Token returns a currently valid access token, refreshing first when the
// stored one is missing or inside the lead window.
func (s *TokenSource) Token() (*oauth2.Token, error) {
	sess, err := s.t.freshSession(s.ctx)
	if err != nil {
		return nil, err
	}
	if !sess.HasAccessToken() {
		return nil, &AuthError{Reason: "not signed in"}
	}
	tok := sess.Token
	return &tok, nil
}
