// Package githubclient is the outbound "menu registration" sidechannel
// named in spec.md §9: the container calls back into the core for a small
// set of auxiliary services, and the core exposes that as a narrow client
// rather than the direct-SQL-to-a-table-owned-elsewhere coupling the design
// notes call out to avoid ("the core only calls a small client the edge
// layer provides"). Grounded on the teacher's
// pkg/publisher/github.GitHubPublisher (oauth2.StaticTokenSource +
// github.NewClient wiring) and pkg/github/operations.go's
// CreateIssueComment, narrowed from the teacher's full issue/PR/review
// surface to the one method this domain needs: announcing that a session is
// ready.
package githubclient

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

// Client posts session-lifecycle notices to GitHub. It is the entire
// outbound sidechannel surface the core needs; anything richer (PR review,
// diff fetching, check-run polling) belongs to the edge layer, not here.
type Client struct {
	gh *github.Client
}

// New builds a Client authenticated with a personal-access or app
// installation token, mirroring the teacher's
// oauth2.StaticTokenSource+github.NewClient pattern
// (pkg/publisher/github.GitHubPublisher.Publish). An empty token yields an
// unauthenticated client, used only in tests against a fake server.
func New(token string) *Client {
	if token == "" {
		return &Client{gh: github.NewClient(nil)}
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	return &Client{gh: github.NewClient(tc)}
}

// newWithHTTPClient builds a Client around an arbitrary http.Client,
// letting tests substitute a go-vcr recorder's RoundTripper for the real
// GitHub transport instead of standing up a fake server.
func newWithHTTPClient(hc *http.Client) *Client {
	return &Client{gh: github.NewClient(hc)}
}

// NotifySessionReady posts a session-ready notice as a comment on the
// issue or PR that triggered the session's provisioning, so a human
// watching that thread learns a sandbox is up without polling the core.
// Returns the created comment's id.
func (c *Client) NotifySessionReady(ctx context.Context, owner, repo string, issueNumber int, sessionID, message string) (int64, error) {
	body := fmt.Sprintf("Session `%s` is ready.\n\n%s", sessionID, message)
	comment, _, err := c.gh.Issues.CreateComment(ctx, owner, repo, issueNumber, &github.IssueComment{Body: &body})
	if err != nil {
		return 0, fmt.Errorf("notify session ready for %s/%s#%d: %w", owner, repo, issueNumber, err)
	}
	return comment.GetID(), nil
}
