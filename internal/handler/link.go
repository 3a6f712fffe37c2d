package handler

import (
	"log/slog"
	"net/http"

	"github.com/rs/xid"
	"github.com/sakif/gitlink/internal/apperror"
	"github.com/sakif/gitlink/internal/auth"
	"github.com/sakif/gitlink/internal/model"
	"github.com/sakif/gitlink/internal/service"
)

// sessionCookie identifies the browser session that a pending OAuth context
// belongs to. Minted on install initiation; the callback reads it to find the
// context again after the round-trip through GitHub.
const sessionCookie = "session_id"

// sessionMaxAge bounds the cookie to the OAuth window — long enough to click
// through GitHub's installation UI, short enough to limit replay exposure.
const sessionMaxAge = 600 // seconds

// LinkHandler exposes the installation linking flow over HTTP.
//
// Routes:
//   - GET    /github/install  → store pending context, redirect to GitHub
//   - GET    /github/callback → drive the linking state machine
//   - DELETE /github/install  → remove the caller's credential
//   - GET    /api/repos       → list the linked installation's repositories
type LinkHandler struct {
	links    *service.LinkService
	demoMode bool
	logger   *slog.Logger
}

func NewLinkHandler(links *service.LinkService, demoMode bool, logger *slog.Logger) *LinkHandler {
	return &LinkHandler{
		links:    links,
		demoMode: demoMode,
		logger:   logger,
	}
}

// HandleInstall starts the linking flow for the authenticated user.
//
// HTTP: GET /github/install?return_to=/settings/integrations
// Auth: required (RequireAuth sets the userID in context)
//
// Stores the pending OAuth context (state, return target, initiating user)
// against the browser session and 302s to GitHub's installation page with
// the state token in the query. Disabled in demo mode — linking writes a
// credential, and demo deployments are read-only.
func (h *LinkHandler) HandleInstall(w http.ResponseWriter, r *http.Request) {
	if h.demoMode {
		writeError(w, apperror.Forbidden("installation linking is disabled in demo mode"))
		return
	}

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		// Unreachable behind RequireAuth, but don't link to nobody.
		writeError(w, apperror.Forbidden("authentication required"))
		return
	}

	sessionID := h.ensureSession(w, r)
	returnTo := r.URL.Query().Get("return_to")

	installURL := h.links.BeginInstall(sessionID, returnTo, userID)

	http.Redirect(w, r, installURL, http.StatusFound)
}

// HandleCallback receives GitHub's redirect and runs the callback state
// machine.
//
// HTTP: GET /github/callback?code=xxx&state=yyy&installation_id=55&setup_action=install
//
// Responses follow the machine's terminal state:
//   - 400 on a state mismatch or missing input (pending context untouched on
//     the state branch, so a double-submit doesn't kill a valid attempt)
//   - 403 when the exchange fails or the installation isn't owned by the
//     authorized account
//   - 200 inert success when the user only requested a review
//   - 302 to the stored return target on a committed link
func (h *LinkHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	sessionID := h.sessionID(r)

	q := r.URL.Query()
	result, err := h.links.CompleteCallback(r.Context(), sessionID, service.CallbackParams{
		State:          q.Get("state"),
		Code:           q.Get("code"),
		InstallationID: q.Get("installation_id"),
		SetupAction:    q.Get("setup_action"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	switch result.Outcome {
	case service.OutcomeReviewRequested:
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:  "ok",
			Message: "installation requested — an administrator must approve it",
		})
	case service.OutcomeSetupAborted:
		writeJSON(w, http.StatusOK, StatusResponse{
			Status:  "ok",
			Message: "installation was not completed",
		})
	case service.OutcomeLinked:
		http.Redirect(w, r, result.RedirectTo, http.StatusFound)
	}
}

// HandleUninstall deletes the caller's credential.
//
// HTTP: DELETE /github/install
// Auth: required; disabled in demo mode
//
// Idempotent — uninstalling twice returns the same success envelope.
func (h *LinkHandler) HandleUninstall(w http.ResponseWriter, r *http.Request) {
	if h.demoMode {
		writeError(w, apperror.Forbidden("uninstall is disabled in demo mode"))
		return
	}

	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Forbidden("authentication required"))
		return
	}

	if err := h.links.Uninstall(r.Context(), userID); err != nil {
		h.logger.Error("uninstall failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// repoListResponse is the envelope for GET /api/repos.
type repoListResponse struct {
	Status  string          `json:"status"`
	Results []model.GitRepo `json:"results"`
}

// HandleListRepos returns the repositories visible to the caller's linked
// installation. 404 when nothing is linked, 503 when GitHub is unreachable.
//
// HTTP: GET /api/repos
// Auth: required
func (h *LinkHandler) HandleListRepos(w http.ResponseWriter, r *http.Request) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Forbidden("authentication required"))
		return
	}

	repos, err := h.links.ListRepositories(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, repoListResponse{
		Status:  "ok",
		Results: repos,
	})
}

// sessionID returns the browser session id, or "" when the cookie is absent
// (the state machine treats an unknown session as "no pending flow").
func (h *LinkHandler) sessionID(r *http.Request) string {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// ensureSession returns the existing browser session id or mints one and
// sets the cookie. HttpOnly + SameSite=Lax: JavaScript can't read it, and it
// still rides along on GitHub's top-level redirect back to the callback.
func (h *LinkHandler) ensureSession(w http.ResponseWriter, r *http.Request) string {
	if id := h.sessionID(r); id != "" {
		return id
	}

	id := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
