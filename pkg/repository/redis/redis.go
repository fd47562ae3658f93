package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/m-mizutani/goerr/v2"
	"github.com/redis/go-redis/v9"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

const (
	// DefaultKeyPrefix namespaces every key written by the repository
	DefaultKeyPrefix = "actiongate:"

	// DefaultAuditRetention is the number of audit records kept per tenant
	DefaultAuditRetention = 1000
)

// Redis stores idempotency records as JSON values with native expiry. Expiry
// sweeps are therefore no-ops.
type Redis struct {
	client      *redis.Client
	idempotency *idempotencyRepository
	audit       *auditRepository
}

var _ interfaces.Repository = &Redis{}

type config struct {
	options   redis.Options
	prefix    string
	retention int64
}

type Option func(*config)

func WithPassword(password string) Option {
	return func(c *config) {
		c.options.Password = password
	}
}

func WithDB(db int) Option {
	return func(c *config) {
		c.options.DB = db
	}
}

func WithKeyPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

func WithAuditRetention(n int) Option {
	return func(c *config) {
		c.retention = int64(n)
	}
}

// New connects to addr and checks the connection
func New(ctx context.Context, addr string, opts ...Option) (*Redis, error) {
	cfg := &config{
		options:   redis.Options{Addr: addr},
		prefix:    DefaultKeyPrefix,
		retention: DefaultAuditRetention,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := redis.NewClient(&cfg.options)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, goerr.Wrap(err, "failed to connect to redis", goerr.V("addr", addr))
	}

	keys := keySpace{prefix: cfg.prefix}
	return &Redis{
		client:      client,
		idempotency: &idempotencyRepository{client: client, keys: keys},
		audit:       &auditRepository{client: client, keys: keys, retention: cfg.retention},
	}, nil
}

func (r *Redis) Idempotency() interfaces.IdempotencyRepository {
	return r.idempotency
}

func (r *Redis) Audit() interfaces.AuditRepository {
	return r.audit
}

func (r *Redis) Close() error {
	return r.client.Close()
}

type keySpace struct {
	prefix string
}

// idempotency hashes the identity so arbitrary printable keys are safe
func (k keySpace) idempotency(tenantID types.TenantID, key types.IdempotencyKey) string {
	sum := sha256.Sum256([]byte(tenantID.String() + "|" + key.String()))
	return k.prefix + "idem:" + hex.EncodeToString(sum[:])
}

func (k keySpace) audit(tenantID types.TenantID) string {
	return k.prefix + "audit:" + tenantID.String()
}
