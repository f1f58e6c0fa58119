package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/keygate/keygate/pkg/accounts"
	"github.com/keygate/keygate/pkg/sso"
)

// ProvidersFile is the YAML document declaring the provider set and login
// policy:
//
//	saml_enabled: true
//	policy:
//	  auto_provision: true
//	  allowed_email_domains: [corp.example]
//	  default_role: member
//	  role_mappings:
//	    - role: admin
//	      matches: [ops@corp.example]
//	providers:
//	  - key: okta
//	    family: oidc
//	    enabled: true
//	    oidc:
//	      issuer_url: https://corp.okta.com
//	      ...
type ProvidersFile struct {
	SAMLEnabled bool                  `yaml:"saml_enabled"`
	Policy      accounts.Policy       `yaml:"policy"`
	Providers   []*sso.ProviderConfig `yaml:"providers"`
}

// LoadProviders reads and validates the providers YAML file.
func LoadProviders(path string) (*ProvidersFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read providers file: %w", err)
	}
	return ParseProviders(data)
}

// ParseProviders parses a providers YAML document.
func ParseProviders(data []byte) (*ProvidersFile, error) {
	var file ProvidersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse providers file: %w", err)
	}

	if len(file.Providers) == 0 {
		return nil, fmt.Errorf("providers file declares no providers")
	}

	seen := make(map[string]bool, len(file.Providers))
	for i, p := range file.Providers {
		if p.Key == "" {
			return nil, fmt.Errorf("provider %d has no key", i)
		}
		if seen[p.Key] {
			return nil, fmt.Errorf("duplicate provider key %q", p.Key)
		}
		seen[p.Key] = true

		switch p.Family {
		case sso.FamilyOAuth2, sso.FamilyOIDC, sso.FamilySAML:
		default:
			return nil, fmt.Errorf("provider %q has unknown family %q", p.Key, p.Family)
		}
	}

	return &file, nil
}
