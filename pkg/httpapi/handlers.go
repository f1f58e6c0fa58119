// Package httpapi adapts HTTP to the orchestrator facade. Handlers parse
// and validate the wire format, call the facade, and translate typed
// authentication errors into status codes; no login decision is made here.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/keygate/keygate/pkg/observability"
	"github.com/keygate/keygate/pkg/orchestrator"
	"github.com/keygate/keygate/pkg/sso"
)

// SessionCookieName is the cookie carrying the session token when the
// login flow ends in a browser redirect.
const SessionCookieName = "keygate_session"

// Handlers handles the SSO HTTP surface
type Handlers struct {
	orch      *orchestrator.Orchestrator
	registry  *sso.Registry
	providers []*sso.ProviderConfig
	logger    *observability.Logger
}

// NewHandlers creates the HTTP handlers. providers is the declared
// configuration used for the sanitized listing.
func NewHandlers(orch *orchestrator.Orchestrator, registry *sso.Registry, providers []*sso.ProviderConfig, logger *observability.Logger) *Handlers {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Handlers{
		orch:      orch,
		registry:  registry,
		providers: providers,
		logger:    logger,
	}
}

// RegisterRoutes registers SSO routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/{provider}/login", h.initiateLogin).Methods("GET")
	router.HandleFunc("/auth/sso/{provider}/callback", h.handleCallback).Methods("GET", "POST")
	router.HandleFunc("/sso/providers", h.listProviders).Methods("GET")
	router.HandleFunc("/sso/metadata/{provider}", h.getSAMLMetadata).Methods("GET")
}

// initiateLogin handles GET /auth/sso/{provider}/login
func (h *Handlers) initiateLogin(w http.ResponseWriter, r *http.Request) {
	providerKey := mux.Vars(r)["provider"]
	ctx := observability.WithProvider(r.Context(), providerKey)

	loginContext := map[string]string{}
	if returnURL := r.URL.Query().Get("return_url"); returnURL != "" {
		loginContext["return_url"] = returnURL
	}

	result, err := h.orch.BeginLogin(ctx, providerKey, loginContext)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.Redirect(w, r, result.RedirectURL, http.StatusFound)
}

// handleCallback handles GET/POST /auth/sso/{provider}/callback
func (h *Handlers) handleCallback(w http.ResponseWriter, r *http.Request) {
	providerKey := mux.Vars(r)["provider"]
	ctx := observability.WithProvider(r.Context(), providerKey)

	payload, err := payloadFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.orch.CompleteLogin(ctx, providerKey, payload)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	// Browser flows that asked for a return URL get the token as a
	// cookie and a redirect; API flows get JSON.
	if returnURL := result.Context["return_url"]; returnURL != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    result.SessionToken,
			Path:     "/",
			Expires:  result.ExpiresAt,
			HttpOnly: true,
			Secure:   true,
			SameSite: http.SameSiteLaxMode,
		})
		http.Redirect(w, r, returnURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

// providerSummary is the sanitized listing entry: no secrets, no URLs
// beyond what a client needs to start a login.
type providerSummary struct {
	Key      string             `json:"key"`
	Family   sso.ProviderFamily `json:"family"`
	Enabled  bool               `json:"enabled"`
	LoginURL string             `json:"login_url,omitempty"`
}

// listProviders handles GET /sso/providers
func (h *Handlers) listProviders(w http.ResponseWriter, r *http.Request) {
	summaries := make([]providerSummary, 0, len(h.providers))
	for _, p := range h.providers {
		s := providerSummary{
			Key:     p.Key,
			Family:  p.Family,
			Enabled: p.Enabled,
		}
		if p.Enabled {
			s.LoginURL = fmt.Sprintf("/auth/sso/%s/login", p.Key)
		}
		summaries = append(summaries, s)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summaries)
}

// getSAMLMetadata handles GET /sso/metadata/{provider}
func (h *Handlers) getSAMLMetadata(w http.ResponseWriter, r *http.Request) {
	providerKey := mux.Vars(r)["provider"]

	provider, err := h.registry.Get(providerKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	mp, ok := provider.(interface{ Metadata() ([]byte, error) })
	if !ok {
		http.Error(w, "provider has no metadata", http.StatusNotFound)
		return
	}

	metadata, err := mp.Metadata()
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/samlmetadata+xml")
	w.Write(metadata)
}

// errorResponse is the JSON error body. Only the coarse kind and safe
// message ever leave the process.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := sso.KindOf(err)
	status := statusForKind(kind)

	log := observability.FromContext(r.Context()).WithError(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed")
	} else {
		log.Debug("request rejected")
	}

	body := errorResponse{Error: "internal_error"}
	var ae *sso.Error
	if errors.As(err, &ae) {
		body.Error = string(kind)
		body.Message = ae.Message
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func statusForKind(kind sso.ErrorKind) int {
	switch kind {
	case sso.KindInvalidState:
		return http.StatusBadRequest
	case sso.KindProviderDisabled:
		return http.StatusNotFound
	case sso.KindProviderExchangeFailed:
		return http.StatusBadGateway
	case sso.KindMissingRequiredClaim:
		return http.StatusUnprocessableEntity
	case sso.KindDomainNotAllowed, sso.KindProvisioningDisabled:
		return http.StatusForbidden
	case sso.KindAccountLinkConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// payloadFromRequest extracts the callback parameters for both transport
// styles: OAuth2 redirects arrive as GET query parameters, SAML POST
// bindings as form values.
func payloadFromRequest(r *http.Request) (*sso.CallbackPayload, error) {
	payload := &sso.CallbackPayload{}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		payload.SAMLResponse = r.FormValue("SAMLResponse")
		payload.RelayState = r.FormValue("RelayState")
		payload.Code = r.FormValue("code")
		payload.State = r.FormValue("state")
		return payload, nil
	}

	q := r.URL.Query()
	payload.Code = q.Get("code")
	payload.State = q.Get("state")
	payload.SAMLResponse = q.Get("SAMLResponse")
	payload.RelayState = q.Get("RelayState")
	return payload, nil
}
