package interfaces

import (
	"context"

	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

// Provider is the contract every vendor adapter implements. Implementations
// must be safe for concurrent use.
type Provider interface {
	// Name is the stable provider identifier used in results and logs
	Name() string

	// Capabilities is the static set of capabilities the provider supports
	Capabilities() []types.Capability

	// Operations lists the operations the provider actually handles. The
	// registry checks capability claims against it.
	Operations() []types.Operation

	// ValidateCredentials returns false when credentials are absent or
	// malformed, and an AUTHENTICATION_ERROR when the vendor rejects them
	ValidateCredentials(ctx context.Context, creds model.Credentials) (bool, error)

	// ExecuteAction performs one vendor call. Errors are *model.ActionError
	// already mapped to the closed taxonomy.
	ExecuteAction(ctx context.Context, action string, params map[string]any, creds model.Credentials, key types.IdempotencyKey) (*model.RawResponse, error)

	// NormalizeResponse is a pure transform of a raw response into the
	// canonical shape. It is total over every response ExecuteAction produces.
	NormalizeResponse(raw *model.RawResponse, action string) *model.CanonicalResult

	// HealthCheck reports vendor reachability. It is bounded and never panics.
	HealthCheck(ctx context.Context) bool
}
