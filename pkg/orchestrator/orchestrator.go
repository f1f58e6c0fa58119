// Package orchestrator wires the SSO building blocks into the two-call
// login flow the HTTP layer exposes: BeginLogin issues the redirect and
// CompleteLogin turns a provider callback into a local account plus a
// signed session token.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/keygate/keygate/pkg/accounts"
	"github.com/keygate/keygate/pkg/observability"
	"github.com/keygate/keygate/pkg/sessiontoken"
	"github.com/keygate/keygate/pkg/sso"
	"github.com/keygate/keygate/pkg/state"
)

// Orchestrator is the facade over the provider registry, state store,
// identity resolver and session token issuer. All collaborators are
// required except metrics, which may be nil in tests.
type Orchestrator struct {
	registry *sso.Registry
	states   state.Store
	resolver *accounts.Resolver
	tokens   *sessiontoken.Issuer
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// New creates an orchestrator. A nil logger falls back to a default
// stdout logger.
func New(registry *sso.Registry, states state.Store, resolver *accounts.Resolver, tokens *sessiontoken.Issuer, logger *observability.Logger, metrics *observability.Metrics) *Orchestrator {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Orchestrator{
		registry: registry,
		states:   states,
		resolver: resolver,
		tokens:   tokens,
		logger:   logger,
		metrics:  metrics,
	}
}

// BeginLoginResult carries the provider redirect for the browser and the
// state token bound to this attempt.
type BeginLoginResult struct {
	RedirectURL string `json:"redirect_url"`
	StateToken  string `json:"state_token"`
}

// LoginResult is the outcome of a successful callback: the resolved
// account, the first-party session token and the provider's own tokens.
// Provider tokens are never embedded in the session token.
type LoginResult struct {
	Account        *accounts.Account `json:"account"`
	SessionToken   string            `json:"session_token"`
	ExpiresAt      time.Time         `json:"expires_at"`
	ProviderTokens map[string]string `json:"-"`
	Outcome        accounts.Outcome  `json:"outcome"`
	// Context is the caller context captured at BeginLogin, e.g. the
	// post-login return URL.
	Context map[string]string `json:"-"`
}

// BeginLogin starts a login attempt against the named provider. It mints
// the state token (carrying a PKCE verifier when the provider requires
// one) and returns the authorization redirect.
func (o *Orchestrator) BeginLogin(ctx context.Context, providerKey string, loginContext map[string]string) (*BeginLoginResult, error) {
	provider, err := o.registry.Get(providerKey)
	if err != nil {
		return nil, err
	}

	var verifier, challenge string
	if provider.RequiresPKCE() {
		verifier, challenge, err = sso.GeneratePKCE()
		if err != nil {
			return nil, err
		}
	}

	stateToken, err := o.states.Issue(ctx, providerKey, loginContext, verifier)
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.StateTokensIssued.Inc()
	}

	redirectURL, err := provider.LoginRedirect(stateToken, challenge)
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.LoginRedirectsTotal.WithLabelValues(providerKey, string(provider.Family())).Inc()
	}
	o.logger.WithFields(map[string]interface{}{
		"provider": providerKey,
		"family":   string(provider.Family()),
		"stage":    "initiated",
	}).Info("login redirect issued")

	return &BeginLoginResult{RedirectURL: redirectURL, StateToken: stateToken}, nil
}

// CompleteLogin finishes a login attempt from a provider callback. The
// state token is consumed before anything else happens, so a replayed
// callback fails here no matter what else it carries.
func (o *Orchestrator) CompleteLogin(ctx context.Context, providerKey string, payload *sso.CallbackPayload) (*LoginResult, error) {
	log := o.logger.WithField("provider", providerKey)
	log.WithField("stage", "callback_received").Debug("processing provider callback")

	entry, err := o.consumeState(ctx, providerKey, payload)
	if err != nil {
		o.countAttempt(providerKey, err)
		return nil, err
	}

	provider, err := o.registry.Get(providerKey)
	if err != nil {
		o.countAttempt(providerKey, err)
		return nil, err
	}

	exchangeStart := time.Now()
	callback, err := provider.ResolveCallback(ctx, *payload, entry.CodeVerifier)
	if o.metrics != nil {
		o.metrics.ExchangeDuration.WithLabelValues(providerKey).Observe(time.Since(exchangeStart).Seconds())
	}
	if err != nil {
		log.WithError(err).WithField("stage", "failed").Warn("provider exchange failed")
		o.countAttempt(providerKey, err)
		return nil, err
	}

	resolveStart := time.Now()
	account, outcome, err := o.resolver.Resolve(ctx, callback.Identity)
	if o.metrics != nil {
		o.metrics.ResolveDuration.WithLabelValues(providerKey).Observe(time.Since(resolveStart).Seconds())
	}
	if err != nil {
		log.WithError(err).WithField("stage", "failed").Warn("identity resolution failed")
		o.countAttempt(providerKey, err)
		return nil, err
	}
	if !account.IsActive {
		err := sso.NewError(sso.KindProvisioningDisabled, "account is deactivated")
		log.WithField("stage", "failed").WithField("account_id", account.ID).Warn("login for deactivated account rejected")
		o.countAttempt(providerKey, err)
		return nil, err
	}
	o.recordOutcome(providerKey, outcome)

	token, expiresAt, err := o.tokens.Issue(sessiontoken.Session{
		AccountID: account.ID,
		Role:      account.Role,
		Provider:  providerKey,
		Email:     account.Email,
	})
	if err != nil {
		o.countAttempt(providerKey, err)
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.SessionTokensIssued.WithLabelValues(providerKey).Inc()
		o.metrics.LoginAttemptsTotal.WithLabelValues(providerKey, string(provider.Family()), "success").Inc()
	}

	log.WithFields(map[string]interface{}{
		"stage":      "completed",
		"account_id": account.ID,
		"outcome":    string(outcome),
	}).Info("login completed")

	return &LoginResult{
		Account:        account,
		SessionToken:   token,
		ExpiresAt:      expiresAt,
		ProviderTokens: callback.ProviderTokens,
		Outcome:        outcome,
		Context:        entry.Context,
	}, nil
}

// consumeState verifies and consumes the callback's state token. Any
// discrepancy, including a token issued for a different provider, is a
// uniform InvalidState.
func (o *Orchestrator) consumeState(ctx context.Context, providerKey string, payload *sso.CallbackPayload) (*state.Entry, error) {
	stateToken := payload.StateToken()
	if stateToken == "" {
		o.rejectState()
		return nil, sso.NewError(sso.KindInvalidState, "callback carries no state token")
	}

	entry, err := o.states.VerifyAndConsume(ctx, stateToken)
	if err != nil {
		o.rejectState()
		if errors.Is(err, state.ErrNotFound) {
			return nil, sso.WrapError(sso.KindInvalidState, "state token is unknown, expired or already used", err)
		}
		return nil, err
	}
	if entry.Provider != providerKey {
		o.rejectState()
		return nil, sso.NewError(sso.KindInvalidState, "state token is unknown, expired or already used")
	}

	if o.metrics != nil {
		o.metrics.StateTokensConsumed.Inc()
	}
	return entry, nil
}

func (o *Orchestrator) rejectState() {
	if o.metrics != nil {
		o.metrics.StateTokensRejected.Inc()
	}
}

func (o *Orchestrator) countAttempt(providerKey string, err error) {
	if o.metrics == nil {
		return
	}
	outcome := string(sso.KindOf(err))
	if outcome == "" {
		outcome = "internal"
	}
	family := ""
	if provider, perr := o.registry.Get(providerKey); perr == nil {
		family = string(provider.Family())
	}
	o.metrics.LoginAttemptsTotal.WithLabelValues(providerKey, family, outcome).Inc()
}

func (o *Orchestrator) recordOutcome(providerKey string, outcome accounts.Outcome) {
	if o.metrics == nil {
		return
	}
	switch outcome {
	case accounts.OutcomeProvisioned:
		o.metrics.AccountsProvisioned.WithLabelValues(providerKey).Inc()
	case accounts.OutcomeLinked:
		o.metrics.LinksAttached.WithLabelValues(providerKey).Inc()
	}
}
