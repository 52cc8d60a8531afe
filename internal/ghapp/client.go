// Package ghapp implements the GitHub App side of standalone mode: signing
// the app JWT, exchanging it for an installation token, and creating/updating
// the check run that reports a run's progress and outcome back to GitHub.
package ghapp

import (
	"context"
	"crypto/rsa"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v63/github"

	"github.com/vanutp/foxbuild/internal/fxerrors"
)

// Client issues GitHub App-authenticated requests.
type Client struct {
	appID int64
	key   *rsa.PrivateKey
	hc    *http.Client
}

// New returns a Client for the app identified by appID, signing requests
// with key.
func New(appID int64, key *rsa.PrivateKey) *Client {
	return &Client{appID: appID, key: key, hc: &http.Client{Timeout: 10 * time.Second}}
}

// appJWT signs a short-lived JWT identifying the app itself, per GitHub's
// App authentication flow. The one-minute backdate on iat tolerates clock
// drift between this host and GitHub's.
func (c *Client) appJWT() (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iat": now.Add(-60 * time.Second).Unix(),
		"exp": now.Add(10 * time.Minute).Unix(),
		"iss": fmt.Sprintf("%d", c.appID),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", fxerrors.Internal(err, "signing app jwt")
	}
	return signed, nil
}

// appClient returns a go-github client authenticated as the app itself,
// used only to mint installation tokens.
func (c *Client) appClient() (*github.Client, error) {
	token, err := c.appJWT()
	if err != nil {
		return nil, err
	}
	return github.NewClient(c.hc).WithAuthToken(token), nil
}

// InstallationToken exchanges the app's JWT for a short-lived token scoped
// to one installation.
func (c *Client) InstallationToken(ctx context.Context, installationID int64) (string, error) {
	app, err := c.appClient()
	if err != nil {
		return "", err
	}
	tok, _, err := app.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fxerrors.Internal(err, "creating installation token")
	}
	return tok.GetToken(), nil
}

// InstallationClient returns a go-github client authenticated with a fresh
// installation token, used for everything that acts on behalf of the
// repository (check runs, in particular).
func (c *Client) InstallationClient(ctx context.Context, installationID int64) (*github.Client, error) {
	token, err := c.InstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return github.NewClient(c.hc).WithAuthToken(token), nil
}

// CreateCheckRun creates a queued check run for headSHA on owner/repo.
func CreateCheckRun(ctx context.Context, gh *github.Client, owner, repo, name, headSHA string) (*github.CheckRun, error) {
	run, _, err := gh.Checks.CreateCheckRun(ctx, owner, repo, github.CreateCheckRunOptions{
		Name:    name,
		HeadSHA: headSHA,
		Status:  github.String("queued"),
	})
	if err != nil {
		return nil, fxerrors.Internal(err, "creating check run")
	}
	return run, nil
}

// MarkInProgress patches a check run to in_progress.
func MarkInProgress(ctx context.Context, gh *github.Client, owner, repo string, checkRunID int64) error {
	_, _, err := gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunOptions{
		Status: github.String("in_progress"),
	})
	if err != nil {
		return fxerrors.Internal(err, "marking check run in_progress")
	}
	return nil
}

// CompleteCheckRun patches a check run to completed with the given
// conclusion ("success" or "failure") and output text.
func CompleteCheckRun(ctx context.Context, gh *github.Client, owner, repo string, checkRunID int64, conclusion, title, summary, text string) error {
	_, _, err := gh.Checks.UpdateCheckRun(ctx, owner, repo, checkRunID, github.UpdateCheckRunOptions{
		Status:     github.String("completed"),
		Conclusion: github.String(conclusion),
		Output: &github.CheckRunOutput{
			Title:   github.String(title),
			Summary: github.String(summary),
			Text:    github.String(text),
		},
	})
	if err != nil {
		return fxerrors.Internal(err, "completing check run")
	}
	return nil
}
