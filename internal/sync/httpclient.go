package sync

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"knowledgebase/internal/types"
)

// newHTTPClient builds an oauth2-authenticated client for a REST
// provider, bounded by the per-request timeout.
func newHTTPClient(ctx context.Context, cred types.Credential, timeout time.Duration) *http.Client {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cred.Token})
	cl := oauth2.NewClient(ctx, ts)
	if timeout > 0 {
		cl.Timeout = timeout
	}
	return cl
}
