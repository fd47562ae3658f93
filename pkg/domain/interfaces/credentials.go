package interfaces

import (
	"context"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// CredentialResolver fetches tenant-scoped credentials by reference. It is
// called on every request; results must not be cached by callers.
type CredentialResolver interface {
	Resolve(ctx context.Context, tenantID types.TenantID, providerName, ref string) (model.Credentials, error)
}
