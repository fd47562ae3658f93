package memory

import (
	"time"

	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
)

// Repository is an alias for Memory to match the pattern
type Repository = Memory

type Memory struct {
	idempotency *idempotencyRepository
	audit       *auditRepository
}

var _ interfaces.Repository = &Memory{}

type Option func(*Memory)

// WithClock replaces time.Now for expiry decisions
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		m.idempotency.now = now
	}
}

// WithAuditRetention bounds the number of audit records kept per tenant
func WithAuditRetention(n int) Option {
	return func(m *Memory) {
		m.audit.retention = n
	}
}

func New(opts ...Option) *Memory {
	m := &Memory{
		idempotency: newIdempotencyRepository(),
		audit:       newAuditRepository(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Idempotency() interfaces.IdempotencyRepository {
	return m.idempotency
}

func (m *Memory) Audit() interfaces.AuditRepository {
	return m.audit
}

func (m *Memory) Close() error {
	return nil
}
