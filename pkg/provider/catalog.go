package provider

import (
	"sort"
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/provider/gcalendar"
	"github.com/secmon-lab/actiongate/pkg/provider/githubissue"
	"github.com/secmon-lab/actiongate/pkg/provider/gmail"
	"github.com/secmon-lab/actiongate/pkg/provider/hubspot"
	"github.com/secmon-lab/actiongate/pkg/provider/mockcrm"
	"github.com/secmon-lab/actiongate/pkg/provider/notion"
	"github.com/secmon-lab/actiongate/pkg/provider/slack"
	"github.com/secmon-lab/actiongate/pkg/provider/zendesk"
)

var (
	ErrDuplicateFactory = goerr.New("duplicate provider factory")
	ErrUnknownType      = goerr.New("unknown provider type")
)

// Factory creates provider instances of one type from configuration
type Factory struct {
	Type        string
	Description string
	Create      func(cfg model.ProviderConfig) (interfaces.Provider, error)
}

// Catalog holds provider factories by type
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

// DefaultCatalog returns a catalog holding every reference adapter
func DefaultCatalog() *Catalog {
	c := NewCatalog()
	for _, f := range []Factory{
		{Type: mockcrm.Type, Description: "in-memory CRM for tests and dry runs", Create: wrap(mockcrm.Factory)},
		{Type: hubspot.Type, Description: "HubSpot CRM contacts", Create: wrap(hubspot.Factory)},
		{Type: zendesk.Type, Description: "Zendesk Support tickets", Create: wrap(zendesk.Factory)},
		{Type: githubissue.Type, Description: "GitHub issues as helpdesk tickets", Create: wrap(githubissue.Factory)},
		{Type: gcalendar.Type, Description: "Google Calendar events", Create: wrap(gcalendar.Factory)},
		{Type: gmail.Type, Description: "Gmail outbound email", Create: wrap(gmail.Factory)},
		{Type: notion.Type, Description: "Notion knowledge search", Create: wrap(notion.Factory)},
		{Type: slack.Type, Description: "Slack channel messages", Create: wrap(slack.Factory)},
	} {
		if err := c.Add(f); err != nil {
			panic(err)
		}
	}
	return c
}

func wrap[P interfaces.Provider](fn func(model.ProviderConfig) (P, error)) func(model.ProviderConfig) (interfaces.Provider, error) {
	return func(cfg model.ProviderConfig) (interfaces.Provider, error) {
		p, err := fn(cfg)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Add registers a factory. Types are unique.
func (c *Catalog) Add(f Factory) error {
	if f.Type == "" || f.Create == nil {
		return goerr.Wrap(ErrInvalidProvider, "factory needs a type and a constructor", goerr.V("type", f.Type))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.factories[f.Type]; ok {
		return goerr.Wrap(ErrDuplicateFactory, "factory already registered", goerr.V("type", f.Type))
	}
	c.factories[f.Type] = f
	return nil
}

// Build creates a provider instance from cfg. An empty Name defaults to Type.
func (c *Catalog) Build(cfg model.ProviderConfig) (interfaces.Provider, error) {
	c.mu.RLock()
	f, ok := c.factories[cfg.Type]
	c.mu.RUnlock()
	if !ok {
		return nil, goerr.Wrap(ErrUnknownType, "no factory for provider type",
			goerr.V("type", cfg.Type), goerr.V(model.ProviderNameKey, cfg.Name))
	}
	if cfg.Name == "" {
		cfg.Name = cfg.Type
	}

	p, err := f.Create(cfg)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create provider",
			goerr.V("type", cfg.Type), goerr.V(model.ProviderNameKey, cfg.Name))
	}
	if err := verifyProvider(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Types returns the registered factory types sorted by name
func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	types := make([]string, 0, len(c.factories))
	for t := range c.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Factories returns the registered factories sorted by type
func (c *Catalog) Factories() []Factory {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Factory, 0, len(c.factories))
	for _, f := range c.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
