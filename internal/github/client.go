// Package github is the thin client for the GitHub App user-to-server API.
//
// The linking flow needs exactly three provider calls:
//  1. exchange the authorization code for a token pair
//  2. list the installations the token's owner can see (ownership check)
//  3. list the repositories an installation exposes
//
// Everything else about the flow — state validation, verification, storage —
// lives in the service layer behind the Provider interface, so tests swap in
// a deterministic fake instead of this client.
package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"golang.org/x/oauth2"
	oauth2github "golang.org/x/oauth2/github"
)

// TokenPair is the durable credential returned by the code exchange.
//
// GitHub Apps with token expiration enabled return both an access token and a
// refresh token. A response without a refresh token means the App is
// misconfigured (expiration disabled) — the orchestrator treats that as an
// authorization failure rather than storing a token it cannot renew.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Installation is the provider-side object representing "this App has been
// granted access to some repositories for some account".
//
// The ID is kept as a string: it is an opaque external identifier that
// gitlink only ever compares for equality, never does arithmetic on.
//
// GitHub API docs: https://docs.github.com/en/rest/apps/installations
type Installation struct {
	ID           string
	AccountLogin string
}

// Repository is the subset of GitHub's repository object gitlink exposes.
type Repository struct {
	ID            string
	Name          string
	FullName      string
	Private       bool
	HTMLURL       string
	Description   string
	DefaultBranch string
}

// Provider is the narrow interface the linking service depends on. *Client is
// the production implementation; tests provide a fake.
type Provider interface {
	// ExchangeCode trades a short-lived authorization code for a token pair.
	ExchangeCode(ctx context.Context, code string) (*TokenPair, error)

	// ListInstallations lists the App installations visible to accessToken's
	// owner. This is the flow's trust boundary: an installation id from the
	// callback query is only believed if it appears in this list.
	ListInstallations(ctx context.Context, accessToken string) ([]Installation, error)

	// ListInstallationRepositories lists the repositories an installation
	// exposes to the token's owner.
	ListInstallationRepositories(ctx context.Context, accessToken, installationID string) ([]Repository, error)
}

// InstallURL builds the GitHub App installation page URL for the outbound
// redirect. The state token rides along as a query parameter and comes back
// on the callback. Pure URL construction — no state, no network.
func InstallURL(appSlug, state string) string {
	return fmt.Sprintf("https://github.com/apps/%s/installations/new?state=%s",
		url.PathEscape(appSlug), url.QueryEscape(state))
}

// Client talks to the real GitHub API.
type Client struct {
	config  *oauth2.Config
	apiBase string // overridden in tests to point at an httptest server
}

var _ Provider = (*Client)(nil)

// NewClient creates a Client with the GitHub App's OAuth credentials.
func NewClient(clientID, clientSecret string) *Client {
	return &Client{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2github.Endpoint,
		},
		apiBase: "https://api.github.com",
	}
}

// ExchangeCode performs the server-to-server code exchange. The client secret
// never leaves the server; the browser only ever sees the short-lived code.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenPair, error) {
	token, err := c.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("github: exchanging OAuth code: %w", err)
	}

	return &TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}, nil
}

// installationList mirrors GET /user/installations. GitHub returns a much
// larger object per installation — we only unmarshal what we need.
//
// GitHub API docs: https://docs.github.com/en/rest/apps/installations#list-app-installations-accessible-to-the-user-access-token
type installationList struct {
	Installations []struct {
		ID      int64 `json:"id"`
		Account struct {
			Login string `json:"login"`
		} `json:"account"`
	} `json:"installations"`
}

func (c *Client) ListInstallations(ctx context.Context, accessToken string) ([]Installation, error) {
	var list installationList
	if err := c.get(ctx, accessToken, "/user/installations", &list); err != nil {
		return nil, err
	}

	installations := make([]Installation, 0, len(list.Installations))
	for _, in := range list.Installations {
		installations = append(installations, Installation{
			// GitHub serializes the id as a number; downstream it is an
			// opaque string compared for equality only.
			ID:           strconv.FormatInt(in.ID, 10),
			AccountLogin: in.Account.Login,
		})
	}
	return installations, nil
}

// repositoryList mirrors GET /user/installations/{id}/repositories.
//
// GitHub API docs: https://docs.github.com/en/rest/apps/installations#list-repositories-accessible-to-the-user-access-token
type repositoryList struct {
	Repositories []struct {
		ID            int64  `json:"id"`
		Name          string `json:"name"`
		FullName      string `json:"full_name"`
		Private       bool   `json:"private"`
		HTMLURL       string `json:"html_url"`
		Description   string `json:"description"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repositories"`
}

func (c *Client) ListInstallationRepositories(ctx context.Context, accessToken, installationID string) ([]Repository, error) {
	path := fmt.Sprintf("/user/installations/%s/repositories", url.PathEscape(installationID))

	var list repositoryList
	if err := c.get(ctx, accessToken, path, &list); err != nil {
		return nil, err
	}

	repos := make([]Repository, 0, len(list.Repositories))
	for _, r := range list.Repositories {
		repos = append(repos, Repository{
			ID:            strconv.FormatInt(r.ID, 10),
			Name:          r.Name,
			FullName:      r.FullName,
			Private:       r.Private,
			HTMLURL:       r.HTMLURL,
			Description:   r.Description,
			DefaultBranch: r.DefaultBranch,
		})
	}
	return repos, nil
}

// get performs an authenticated GET against the GitHub REST API and decodes
// the JSON response into out.
//
// oauth2.Config.Client returns an *http.Client that attaches the bearer
// token to every request, so the token never appears in a URL.
func (c *Client) get(ctx context.Context, accessToken, path string, out any) error {
	client := c.config.Client(ctx, &oauth2.Token{AccessToken: accessToken})

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+path, nil)
	if err != nil {
		return fmt.Errorf("github: building request for %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("github: calling %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("github: %s returned status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("github: decoding %s response: %w", path, err)
	}

	return nil
}
