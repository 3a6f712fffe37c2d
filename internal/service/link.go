// Package service — installation linking business logic.
//
// LinkService owns the whole linking lifecycle:
//
//	install redirect → GitHub installation UI → callback → credential commit
//	                                                     ↘ repository listing / uninstall later
//
// The callback is modeled as an explicit state machine (see CompleteCallback)
// rather than nested conditionals, so every terminal state and its side
// effects can be tested in isolation. Side effects are strictly ordered:
// nothing is persisted before the installation passed ownership verification,
// and the session's pending context survives every rejection that still
// permits a legitimate retry.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/gitlink/internal/apperror"
	"github.com/sakif/gitlink/internal/auth"
	"github.com/sakif/gitlink/internal/github"
	"github.com/sakif/gitlink/internal/model"
	"github.com/sakif/gitlink/internal/repository"
	"github.com/sakif/gitlink/internal/session"
)

// setup_action values GitHub sends on the callback.
const (
	setupActionInstall = "install" // an installation actually happened
	setupActionUpdate  = "update"  // repository selection changed on an existing installation
	setupActionRequest = "request" // user only asked an admin to review — nothing installed
)

// LinkService orchestrates the installation linking flow.
type LinkService struct {
	creds    repository.CredentialRepository
	provider github.Provider
	sessions *session.Manager
	appSlug  string
	logger   *slog.Logger
}

func NewLinkService(
	creds repository.CredentialRepository,
	provider github.Provider,
	sessions *session.Manager,
	appSlug string,
	logger *slog.Logger,
) *LinkService {
	return &LinkService{
		creds:    creds,
		provider: provider,
		sessions: sessions,
		appSlug:  appSlug,
		logger:   logger,
	}
}

// BeginInstall stores a pending OAuth context for the session and returns the
// GitHub installation page URL to redirect the browser to. A previous pending
// context for the same session is superseded.
func (s *LinkService) BeginInstall(sessionID, returnTo, userID string) string {
	state := s.sessions.Begin(sessionID, returnTo, userID)

	s.logger.Info("installation flow started",
		slog.String("userID", userID),
	)

	return github.InstallURL(s.appSlug, state)
}

// CallbackParams are the query parameters GitHub sends to the callback.
// All optional on the wire; the state machine decides what absence means.
type CallbackParams struct {
	State          string
	Code           string
	InstallationID string
	SetupAction    string
}

// Outcome classifies a terminal callback success.
type Outcome int

const (
	// OutcomeLinked: the credential was committed; redirect the browser.
	OutcomeLinked Outcome = iota
	// OutcomeReviewRequested: the user only requested an administrator's
	// review. Nothing was installed, nothing was persisted.
	OutcomeReviewRequested
	// OutcomeSetupAborted: the provider ended the flow without an
	// installation (consent abandoned). Nothing was persisted.
	OutcomeSetupAborted
)

// CallbackResult is returned by CompleteCallback on a terminal non-error
// state.
type CallbackResult struct {
	Outcome        Outcome
	RedirectTo     string // set when Outcome == OutcomeLinked
	InstallationID string // set when Outcome == OutcomeLinked
}

// callbackState enumerates the linking state machine. The happy path walks
// the first five states in order; each rejected state is terminal.
type callbackState int

const (
	stateAwaitingCallback callbackState = iota
	stateValidated
	stateCodeExchanged
	stateInstallationVerified
	stateCommitted
	stateRejectedState
	stateRejectedSetup
	stateRejectedInput
	stateRejectedAuthorization
	stateRejectedVerification
)

func (s callbackState) String() string {
	switch s {
	case stateAwaitingCallback:
		return "awaiting_callback"
	case stateValidated:
		return "state_validated"
	case stateCodeExchanged:
		return "code_exchanged"
	case stateInstallationVerified:
		return "installation_verified"
	case stateCommitted:
		return "committed"
	case stateRejectedState:
		return "rejected_state"
	case stateRejectedSetup:
		return "rejected_setup"
	case stateRejectedInput:
		return "rejected_input"
	case stateRejectedAuthorization:
		return "rejected_authorization"
	case stateRejectedVerification:
		return "rejected_verification"
	}
	return "unknown"
}

// CompleteCallback runs the callback state machine for one inbound callback.
//
// TRANSITION ORDER (each step runs only if the prior one succeeded):
//  1. state validation — mismatch or no pending context rejects immediately,
//     leaving the pending context intact so a double-submit doesn't destroy a
//     valid in-flight attempt
//  2. setup-review short-circuit — "request" means nothing was installed;
//     respond inert success, clear the context, touch nothing else
//  3. input completeness — initiating user id (from the session, never the
//     query), installation id, and authorization code must all be present
//  4. code exchange — must yield a refresh token; a pair without one is an
//     authorization failure, not a storage candidate
//  5. installation verification — the claimed installation id must appear in
//     the provider's list for the fresh token (the anti-spoofing check)
//  6. commit — single atomic upsert of the credential
//  7. completion — clear the pending context, hand back the redirect target
func (s *LinkService) CompleteCallback(ctx context.Context, sessionID string, params CallbackParams) (*CallbackResult, error) {
	pending, hasPending := s.sessions.Peek(sessionID)

	var (
		st        = stateAwaitingCallback
		tokens    *github.TokenPair
		rejectErr error
	)

	for {
		switch st {
		case stateAwaitingCallback:
			if !hasPending || !auth.ValidateState(params.State, pending.State) {
				st = stateRejectedState
				continue
			}
			st = stateValidated

		case stateValidated:
			if params.SetupAction == setupActionRequest {
				// Review requested: the provider did not install anything,
				// so there is no code to exchange and nothing to verify.
				// The flow is over; the state token can never be reused.
				s.sessions.Clear(sessionID)
				s.logger.Info("installation review requested, nothing installed",
					slog.String("userID", pending.UserID),
				)
				return &CallbackResult{Outcome: OutcomeReviewRequested}, nil
			}
			if params.SetupAction != "" &&
				params.SetupAction != setupActionInstall &&
				params.SetupAction != setupActionUpdate {
				st = stateRejectedSetup
				continue
			}

			switch {
			case pending.UserID == "":
				rejectErr = apperror.MissingInput("user", "no initiating user for this flow")
				st = stateRejectedInput
			case params.InstallationID == "":
				rejectErr = apperror.MissingInput("installation_id", "callback carried no installation id")
				st = stateRejectedInput
			case params.Code == "":
				rejectErr = apperror.MissingInput("code", "callback carried no authorization code")
				st = stateRejectedInput
			default:
				var err error
				tokens, err = s.provider.ExchangeCode(ctx, params.Code)
				if err != nil {
					s.logger.Error("code exchange failed", slog.String("error", err.Error()))
					rejectErr = apperror.AuthorizationFailed("authorization code exchange failed")
					st = stateRejectedAuthorization
					continue
				}
				if tokens.RefreshToken == "" {
					// The provider granted a token it cannot be trusted to
					// renew. Distinct from a missing code: the exchange
					// happened, the grant is unusable.
					rejectErr = apperror.AuthorizationFailed("provider granted a token without a refresh token")
					st = stateRejectedAuthorization
					continue
				}
				st = stateCodeExchanged
			}

		case stateCodeExchanged:
			verified, err := s.verifyInstallation(ctx, tokens.AccessToken, params.InstallationID)
			if err != nil {
				return nil, err // upstream unavailable, already wrapped
			}
			if !verified {
				rejectErr = apperror.VerificationFailed(params.InstallationID)
				st = stateRejectedVerification
				continue
			}
			st = stateInstallationVerified

		case stateInstallationVerified:
			cred := &model.InstallationCredential{
				UserID:         pending.UserID,
				InstallationID: params.InstallationID,
				AccessToken:    tokens.AccessToken,
				RefreshToken:   tokens.RefreshToken,
			}
			if err := s.creds.Upsert(ctx, cred); err != nil {
				return nil, fmt.Errorf("service/link: committing credential for user %s: %w", pending.UserID, err)
			}
			st = stateCommitted

		case stateCommitted:
			s.sessions.Clear(sessionID)

			redirectTo := pending.ReturnTo
			if redirectTo == "" {
				redirectTo = "/"
			}

			s.logger.Info("installation linked",
				slog.String("userID", pending.UserID),
				slog.String("installationID", params.InstallationID),
			)

			return &CallbackResult{
				Outcome:        OutcomeLinked,
				RedirectTo:     redirectTo,
				InstallationID: params.InstallationID,
			}, nil

		case stateRejectedState:
			// The pending context is deliberately NOT cleared here: the
			// legitimate in-flight attempt (if any) must stay retryable.
			s.logger.Warn("callback rejected: state mismatch or no pending flow",
				slog.String("terminal", st.String()),
			)
			return nil, apperror.InvalidState()

		case stateRejectedSetup:
			// Provider terminated the flow without installing. The state
			// token is spent; clear the context so it cannot be replayed.
			s.sessions.Clear(sessionID)
			s.logger.Info("installation flow ended without an installation",
				slog.String("setupAction", params.SetupAction),
			)
			return &CallbackResult{Outcome: OutcomeSetupAborted}, nil

		case stateRejectedInput, stateRejectedAuthorization, stateRejectedVerification:
			s.logger.Warn("callback rejected",
				slog.String("terminal", st.String()),
				slog.String("error", rejectErr.Error()),
			)
			return nil, rejectErr
		}
	}
}

// verifyInstallation asks the provider which installations the fresh token's
// owner can see and linearly searches for the claimed id. Exact string
// equality only.
//
// This is the sole trust boundary between "the callback claims this
// installation" and "the provider vouches the authorized account has it".
// Skipping it would let a caller bind someone else's installation id to
// their own account.
func (s *LinkService) verifyInstallation(ctx context.Context, accessToken, installationID string) (bool, error) {
	installations, err := s.provider.ListInstallations(ctx, accessToken)
	if err != nil {
		s.logger.Error("installation listing failed", slog.String("error", err.Error()))
		return false, fmt.Errorf("service/link: listing installations: %w",
			apperror.Unavailable("provider installation listing failed"))
	}

	for _, in := range installations {
		if in.ID == installationID {
			return true, nil
		}
	}
	return false, nil
}

// ListRepositories returns the repositories visible to the user's linked
// installation. Every call is a full refetch — no pagination state or cache
// is kept between calls.
func (s *LinkService) ListRepositories(ctx context.Context, userID string) ([]model.GitRepo, error) {
	cred, err := s.creds.GetByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/link: loading credential: %w", err)
	}

	repos, err := s.provider.ListInstallationRepositories(ctx, cred.AccessToken, cred.InstallationID)
	if err != nil {
		s.logger.Error("repository listing failed",
			slog.String("userID", userID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("service/link: listing repositories: %w",
			apperror.Unavailable("provider repository listing failed"))
	}

	out := make([]model.GitRepo, 0, len(repos))
	for _, r := range repos {
		out = append(out, model.GitRepo{
			ID:            r.ID,
			Name:          r.Name,
			FullName:      r.FullName,
			Private:       r.Private,
			HTMLURL:       r.HTMLURL,
			Description:   r.Description,
			DefaultBranch: r.DefaultBranch,
		})
	}
	return out, nil
}

// Uninstall deletes the user's credential. Idempotent: uninstalling twice is
// as good as once.
func (s *LinkService) Uninstall(ctx context.Context, userID string) error {
	if err := s.creds.Delete(ctx, userID); err != nil {
		return fmt.Errorf("service/link: deleting credential: %w", err)
	}

	s.logger.Info("installation unlinked", slog.String("userID", userID))
	return nil
}
