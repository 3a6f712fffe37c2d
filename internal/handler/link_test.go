package handler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sakif/gitlink/internal/apperror"
	"github.com/sakif/gitlink/internal/auth"
	"github.com/sakif/gitlink/internal/github"
	"github.com/sakif/gitlink/internal/handler"
	"github.com/sakif/gitlink/internal/model"
	"github.com/sakif/gitlink/internal/service"
	"github.com/sakif/gitlink/internal/session"
)

// memCredentialRepo is an in-memory CredentialRepository for handler tests.
type memCredentialRepo struct {
	byUser    map[string]*model.InstallationCredential
	mutations int
}

func newMemCredentialRepo() *memCredentialRepo {
	return &memCredentialRepo{byUser: make(map[string]*model.InstallationCredential)}
}

func (m *memCredentialRepo) Upsert(ctx context.Context, cred *model.InstallationCredential) error {
	m.mutations++
	copied := *cred
	m.byUser[cred.UserID] = &copied
	return nil
}

func (m *memCredentialRepo) GetByUserID(ctx context.Context, userID string) (*model.InstallationCredential, error) {
	c, ok := m.byUser[userID]
	if !ok {
		return nil, apperror.NotLinked(userID)
	}
	return c, nil
}

func (m *memCredentialRepo) Delete(ctx context.Context, userID string) error {
	m.mutations++
	delete(m.byUser, userID)
	return nil
}

// stubProvider is a deterministic github.Provider that counts calls.
type stubProvider struct {
	calls         int
	tokens        *github.TokenPair
	installations []github.Installation
	repos         []github.Repository
}

func (s *stubProvider) ExchangeCode(ctx context.Context, code string) (*github.TokenPair, error) {
	s.calls++
	return s.tokens, nil
}

func (s *stubProvider) ListInstallations(ctx context.Context, accessToken string) ([]github.Installation, error) {
	s.calls++
	return s.installations, nil
}

func (s *stubProvider) ListInstallationRepositories(ctx context.Context, accessToken, installationID string) ([]github.Repository, error) {
	s.calls++
	return s.repos, nil
}

type fixture struct {
	handler  *handler.LinkHandler
	sessions *session.Manager
	repo     *memCredentialRepo
	provider *stubProvider
}

func newFixture(t *testing.T, demoMode bool) *fixture {
	t.Helper()

	repo := newMemCredentialRepo()
	provider := &stubProvider{
		tokens:        &github.TokenPair{AccessToken: "T", RefreshToken: "R"},
		installations: []github.Installation{{ID: "55", AccountLogin: "octo-org"}},
	}
	sessions := session.NewManager("eu", 10*time.Minute)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	svc := service.NewLinkService(repo, provider, sessions, "gitlink-app", logger)
	return &fixture{
		handler:  handler.NewLinkHandler(svc, demoMode, logger),
		sessions: sessions,
		repo:     repo,
		provider: provider,
	}
}

// authedRequest builds a request carrying an authenticated user, as
// RequireAuth would have left it.
func authedRequest(method, target, userID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	return req.WithContext(auth.ContextWithUserID(req.Context(), userID))
}

func withSession(req *http.Request, sessionID string) *http.Request {
	req.AddCookie(&http.Cookie{Name: "session_id", Value: sessionID})
	return req
}

// =========================================================================
// Install initiation
// =========================================================================

func TestHandleInstall_RedirectsToGitHub(t *testing.T) {
	f := newFixture(t, false)

	req := authedRequest(http.MethodGet, "/github/install?return_to=/settings", "user-1")
	rr := httptest.NewRecorder()

	f.handler.HandleInstall(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	assert.NoError(t, err)
	assert.Equal(t, "github.com", loc.Host)
	assert.Equal(t, "/apps/gitlink-app/installations/new", loc.Path)
	assert.True(t, strings.HasPrefix(loc.Query().Get("state"), "eu_"))

	// A session cookie is minted and a pending context stored under it.
	cookies := rr.Result().Cookies()
	var sessionID string
	for _, c := range cookies {
		if c.Name == "session_id" {
			sessionID = c.Value
			assert.True(t, c.HttpOnly)
		}
	}
	assert.NotEmpty(t, sessionID)

	pending, ok := f.sessions.Peek(sessionID)
	assert.True(t, ok)
	assert.Equal(t, "user-1", pending.UserID)
	assert.Equal(t, "/settings", pending.ReturnTo)
	assert.Equal(t, loc.Query().Get("state"), pending.State)
}

func TestHandleInstall_DemoModeIsForbidden(t *testing.T) {
	f := newFixture(t, true)

	req := authedRequest(http.MethodGet, "/github/install", "user-1")
	rr := httptest.NewRecorder()

	f.handler.HandleInstall(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 0, f.provider.calls)
}

// =========================================================================
// Callback
// =========================================================================

func TestHandleCallback_Success(t *testing.T) {
	f := newFixture(t, false)
	state := f.sessions.Begin("sess-1", "/settings/integrations", "user-1")

	target := "/github/callback?state=" + url.QueryEscape(state) +
		"&code=codeX&installation_id=55&setup_action=install"
	req := withSession(httptest.NewRequest(http.MethodGet, target, nil), "sess-1")
	rr := httptest.NewRecorder()

	f.handler.HandleCallback(rr, req)

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/settings/integrations", rr.Header().Get("Location"))

	cred := f.repo.byUser["user-1"]
	if assert.NotNil(t, cred) {
		assert.Equal(t, "55", cred.InstallationID)
		assert.Equal(t, "T", cred.AccessToken)
		assert.Equal(t, "R", cred.RefreshToken)
	}
}

func TestHandleCallback_WrongState(t *testing.T) {
	f := newFixture(t, false)
	f.sessions.Begin("sess-1", "/settings", "user-1")

	target := "/github/callback?state=eu_WRONG&code=codeX&installation_id=55"
	req := withSession(httptest.NewRequest(http.MethodGet, target, nil), "sess-1")
	rr := httptest.NewRecorder()

	f.handler.HandleCallback(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)

	var body handler.ErrorResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "validation_error", body.Error)

	// No provider contact, no persistence, pending context still present.
	assert.Equal(t, 0, f.provider.calls)
	assert.Equal(t, 0, f.repo.mutations)
	_, ok := f.sessions.Peek("sess-1")
	assert.True(t, ok)
}

func TestHandleCallback_NoSessionCookie(t *testing.T) {
	f := newFixture(t, false)

	req := httptest.NewRequest(http.MethodGet, "/github/callback?state=eu_AbC123&code=x", nil)
	rr := httptest.NewRecorder()

	f.handler.HandleCallback(rr, req)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, 0, f.provider.calls)
}

func TestHandleCallback_ReviewRequested(t *testing.T) {
	f := newFixture(t, false)
	state := f.sessions.Begin("sess-1", "/settings", "user-1")

	target := "/github/callback?state=" + url.QueryEscape(state) + "&setup_action=request"
	req := withSession(httptest.NewRequest(http.MethodGet, target, nil), "sess-1")
	rr := httptest.NewRecorder()

	f.handler.HandleCallback(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body handler.StatusResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)

	assert.Equal(t, 0, f.repo.mutations)
	_, ok := f.sessions.Peek("sess-1")
	assert.False(t, ok, "review branch should clear the pending context")
}

func TestHandleCallback_UnownedInstallation(t *testing.T) {
	f := newFixture(t, false)
	state := f.sessions.Begin("sess-1", "/", "user-1")

	target := "/github/callback?state=" + url.QueryEscape(state) +
		"&code=codeX&installation_id=999"
	req := withSession(httptest.NewRequest(http.MethodGet, target, nil), "sess-1")
	rr := httptest.NewRecorder()

	f.handler.HandleCallback(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 0, f.repo.mutations)
}

// =========================================================================
// Uninstall
// =========================================================================

func TestHandleUninstall(t *testing.T) {
	f := newFixture(t, false)
	f.repo.byUser["user-1"] = &model.InstallationCredential{
		UserID: "user-1", InstallationID: "55", AccessToken: "T", RefreshToken: "R",
	}

	req := authedRequest(http.MethodDelete, "/github/install", "user-1")
	rr := httptest.NewRecorder()

	f.handler.HandleUninstall(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, f.repo.byUser)

	// Second uninstall: same success envelope, no error.
	rr = httptest.NewRecorder()
	f.handler.HandleUninstall(rr, authedRequest(http.MethodDelete, "/github/install", "user-1"))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestHandleUninstall_DemoModeIsForbidden(t *testing.T) {
	f := newFixture(t, true)
	f.repo.byUser["user-1"] = &model.InstallationCredential{UserID: "user-1"}

	rr := httptest.NewRecorder()
	f.handler.HandleUninstall(rr, authedRequest(http.MethodDelete, "/github/install", "user-1"))

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.NotEmpty(t, f.repo.byUser, "demo mode must not delete anything")
}

// =========================================================================
// Repository listing
// =========================================================================

func TestHandleListRepos(t *testing.T) {
	f := newFixture(t, false)
	f.repo.byUser["user-1"] = &model.InstallationCredential{
		UserID: "user-1", InstallationID: "55", AccessToken: "T", RefreshToken: "R",
	}
	f.provider.repos = []github.Repository{
		{ID: "7", Name: "hello", FullName: "octo-org/hello", Private: true},
	}

	req := authedRequest(http.MethodGet, "/api/repos", "user-1")
	rr := httptest.NewRecorder()

	f.handler.HandleListRepos(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Status  string          `json:"status"`
		Results []model.GitRepo `json:"results"`
	}
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	if assert.Len(t, body.Results, 1) {
		assert.Equal(t, "octo-org/hello", body.Results[0].FullName)
	}
}

func TestHandleListRepos_NotLinked(t *testing.T) {
	f := newFixture(t, false)

	rr := httptest.NewRecorder()
	f.handler.HandleListRepos(rr, authedRequest(http.MethodGet, "/api/repos", "user-1"))

	assert.Equal(t, http.StatusNotFound, rr.Code)

	var body handler.ErrorResponse
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, "not_found", body.Error)
}
