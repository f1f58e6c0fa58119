package sso

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
)

// SAMLProvider implements the SAML 2.0 assertion family. The IdP posts a
// signed assertion to the assertion consumer URL; we validate the
// signature against the trusted certificate, the validity window, and the
// audience restriction, then read the subject and attribute statements.
type SAMLProvider struct {
	cfg *ProviderConfig
	sp  *saml2.SAMLServiceProvider
}

// NewSAMLProvider creates a new SAML adapter.
func NewSAMLProvider(cfg *ProviderConfig) (*SAMLProvider, error) {
	sc := cfg.SAML
	if sc.EntityID == "" {
		return nil, fmt.Errorf("entity_id is required")
	}
	if sc.SSOURL == "" {
		return nil, fmt.Errorf("sso_url is required")
	}
	if sc.SPEntityID == "" {
		return nil, fmt.Errorf("sp_entity_id is required")
	}
	if sc.AssertionConsumerURL == "" {
		return nil, fmt.Errorf("assertion_consumer_url is required")
	}

	certBlock, _ := pem.Decode([]byte(sc.Certificate))
	if certBlock == nil {
		return nil, fmt.Errorf("failed to decode certificate PEM")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	audience := sc.AudienceURI
	if audience == "" {
		audience = sc.SPEntityID
	}

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      sc.SSOURL,
		IdentityProviderIssuer:      sc.EntityID,
		ServiceProviderIssuer:       sc.SPEntityID,
		AssertionConsumerServiceURL: sc.AssertionConsumerURL,
		AudienceURI:                 audience,
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		},
	}
	if sc.NameIDFormat != "" {
		sp.NameIdFormat = sc.NameIDFormat
	}

	return &SAMLProvider{cfg: cfg, sp: sp}, nil
}

// Key returns the provider identifier.
func (p *SAMLProvider) Key() string { return p.cfg.Key }

// Family returns FamilySAML.
func (p *SAMLProvider) Family() ProviderFamily { return FamilySAML }

// RequiresPKCE reports false; SAML has no code exchange to bind.
func (p *SAMLProvider) RequiresPKCE() bool { return false }

// LoginRedirect builds the IdP redirect URL with the state token as
// RelayState.
func (p *SAMLProvider) LoginRedirect(state, _ string) (string, error) {
	authURL, err := p.sp.BuildAuthURL(state)
	if err != nil {
		return "", fmt.Errorf("failed to build auth url: %w", err)
	}
	return authURL, nil
}

// ResolveCallback validates the posted assertion and maps its attribute
// statements onto a normalized identity.
func (p *SAMLProvider) ResolveCallback(_ context.Context, payload CallbackPayload, _ string) (*CallbackResult, error) {
	if payload.SAMLResponse == "" {
		return nil, NewError(KindProviderExchangeFailed, "missing SAMLResponse")
	}

	assertionInfo, err := p.sp.RetrieveAssertionInfo(payload.SAMLResponse)
	if err != nil {
		return nil, WrapError(KindProviderExchangeFailed, "assertion validation failed", err)
	}
	if wi := assertionInfo.WarningInfo; wi != nil {
		if wi.InvalidTime {
			return nil, NewError(KindProviderExchangeFailed, "assertion outside its validity window")
		}
		if wi.NotInAudience {
			return nil, NewError(KindProviderExchangeFailed, "assertion not addressed to this audience")
		}
	}

	identity := &ExternalIdentity{
		Provider: p.cfg.Key,
		Metadata: make(map[string]string),
	}

	mapping := p.cfg.AttributeMapping
	for _, attr := range assertionInfo.Values {
		if len(attr.Values) == 0 {
			continue
		}
		value := attr.Values[0].Value
		identity.Metadata[attr.Name] = value

		switch attr.Name {
		case mapping.UserID:
			identity.ProviderUserID = value
		case mapping.Email:
			identity.Email = value
		case mapping.FirstName:
			identity.FirstName = value
		case mapping.LastName:
			identity.LastName = value
		case mapping.DisplayName:
			identity.DisplayName = value
		case mapping.Role:
			identity.RoleHint = value
		}
	}

	if identity.ProviderUserID == "" {
		identity.ProviderUserID = assertionInfo.NameID
	}
	if identity.ProviderUserID == "" {
		return nil, NewError(KindMissingRequiredClaim, "assertion lacks a subject")
	}

	// SAML has no provider token concept; the assertion itself is consumed
	// here and never handed back.
	return &CallbackResult{
		Identity:       identity,
		ProviderTokens: map[string]string{},
	}, nil
}

// Metadata returns the service provider metadata document for IdP
// configuration.
func (p *SAMLProvider) Metadata() ([]byte, error) {
	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                                 Location="%s"
                                 index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`,
		p.sp.ServiceProviderIssuer,
		p.sp.AssertionConsumerServiceURL)

	return []byte(metadataXML), nil
}

// disabledSAMLProvider rejects both operations when the SAML family is
// administratively off. No certificate parsing or network work happens.
type disabledSAMLProvider struct {
	key string
}

func newDisabledSAMLProvider(cfg *ProviderConfig) *disabledSAMLProvider {
	return &disabledSAMLProvider{key: cfg.Key}
}

func (p *disabledSAMLProvider) Key() string            { return p.key }
func (p *disabledSAMLProvider) Family() ProviderFamily { return FamilySAML }
func (p *disabledSAMLProvider) RequiresPKCE() bool     { return false }

func (p *disabledSAMLProvider) LoginRedirect(_, _ string) (string, error) {
	return "", NewError(KindProviderDisabled, "saml support is disabled")
}

func (p *disabledSAMLProvider) ResolveCallback(context.Context, CallbackPayload, string) (*CallbackResult, error) {
	return nil, NewError(KindProviderDisabled, "saml support is disabled")
}
