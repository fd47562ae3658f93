package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/interfaces"
)

const (
	idempotencyCollection = "idempotency"
	auditCollection       = "audit"
)

type Firestore struct {
	client      *firestore.Client
	idempotency *idempotencyRepository
	audit       *auditRepository
}

var _ interfaces.Repository = &Firestore{}

type Option func(*Firestore)

// WithCollectionPrefix isolates collections, mainly for tests sharing a
// database
func WithCollectionPrefix(prefix string) Option {
	return func(f *Firestore) {
		f.idempotency.collectionPrefix = prefix
		f.audit.collectionPrefix = prefix
	}
}

// New connects to the database. An empty databaseID selects the default
// database.
func New(ctx context.Context, projectID, databaseID string, opts ...Option) (*Firestore, error) {
	var (
		client *firestore.Client
		err    error
	)
	if databaseID == "" {
		client, err = firestore.NewClient(ctx, projectID)
	} else {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("projectID", projectID),
			goerr.V("databaseID", databaseID))
	}

	f := &Firestore{
		client:      client,
		idempotency: newIdempotencyRepository(client),
		audit:       newAuditRepository(client),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

func (f *Firestore) Idempotency() interfaces.IdempotencyRepository {
	return f.idempotency
}

func (f *Firestore) Audit() interfaces.AuditRepository {
	return f.audit
}

func (f *Firestore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func collectionName(prefix, name string) string {
	if prefix != "" {
		return prefix + "_" + name
	}
	return name
}

// IdempotencyCollection returns the collection name used for idempotency
// records with the given prefix
func IdempotencyCollection(prefix string) string {
	return collectionName(prefix, idempotencyCollection)
}

// AuditCollection returns the collection name used for audit records with
// the given prefix
func AuditCollection(prefix string) string {
	return collectionName(prefix, auditCollection)
}
