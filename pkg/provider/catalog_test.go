package provider_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/provider"
)

func TestDefaultCatalog(t *testing.T) {
	c := provider.DefaultCatalog()
	gt.Value(t, c.Types()).Equal([]string{
		"github_issues", "gmail", "google_calendar", "hubspot",
		"mock_crm", "notion", "slack", "zendesk",
	})

	for _, typ := range c.Types() {
		t.Run(typ, func(t *testing.T) {
			cfg := model.ProviderConfig{Type: typ}
			if typ == "zendesk" {
				cfg.Options = map[string]any{"subdomain": "acme"}
			}
			p, err := c.Build(cfg)
			gt.NoError(t, err).Required()
			gt.Value(t, p.Name()).Equal(typ)
		})
	}
}

func TestCatalog_Build(t *testing.T) {
	c := provider.DefaultCatalog()

	p, err := c.Build(model.ProviderConfig{Name: "crm_eu", Type: "mock_crm"})
	gt.NoError(t, err).Required()
	gt.Value(t, p.Name()).Equal("crm_eu")

	_, err = c.Build(model.ProviderConfig{Type: "salesforce"})
	gt.Error(t, err).Is(provider.ErrUnknownType)
}

func TestCatalog_Add(t *testing.T) {
	c := provider.NewCatalog()
	f := provider.Factory{Type: "x", Create: func(cfg model.ProviderConfig) (interfaces.Provider, error) { return nil, nil }}
	gt.NoError(t, c.Add(f)).Required()
	gt.Error(t, c.Add(f)).Is(provider.ErrDuplicateFactory)
	gt.Error(t, c.Add(provider.Factory{Type: "y"})).Is(provider.ErrInvalidProvider)
}
