package firestore

import (
	"context"
	"encoding/json"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"google.golang.org/api/iterator"
)

// auditDoc keeps the queryable fields next to the JSON encoded record
type auditDoc struct {
	ID        string    `firestore:"ID"`
	TenantID  string    `firestore:"TenantID"`
	Timestamp time.Time `firestore:"Timestamp"`
	Operation string    `firestore:"Operation"`
	Outcome   string    `firestore:"Outcome"`
	Record    string    `firestore:"Record"`
}

type auditRepository struct {
	client           *firestore.Client
	collectionPrefix string
}

func newAuditRepository(client *firestore.Client) *auditRepository {
	return &auditRepository{client: client}
}

func (r *auditRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(AuditCollection(r.collectionPrefix))
}

func (r *auditRepository) Put(ctx context.Context, rec *model.AuditRecord) error {
	if rec == nil || rec.ID == "" {
		return goerr.Wrap(model.ErrInvalidRecord, "audit record has no id")
	}

	raw, err := json.Marshal(rec)
	if err != nil {
		return goerr.Wrap(err, "failed to encode audit record", goerr.V("audit_id", rec.ID))
	}

	doc := &auditDoc{
		ID:        rec.ID.String(),
		TenantID:  rec.TenantID.String(),
		Timestamp: rec.Timestamp,
		Operation: rec.Operation.String(),
		Outcome:   string(rec.Outcome),
		Record:    string(raw),
	}
	if _, err := r.collection().Doc(doc.ID).Set(ctx, doc); err != nil {
		return goerr.Wrap(err, "failed to put audit record", goerr.V("audit_id", rec.ID))
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, tenantID types.TenantID, limit int) ([]*model.AuditRecord, error) {
	q := r.collection().
		Where("TenantID", "==", tenantID.String()).
		OrderBy("Timestamp", firestore.Desc)
	if limit > 0 {
		q = q.Limit(limit)
	}

	iter := q.Documents(ctx)
	defer iter.Stop()

	records := make([]*model.AuditRecord, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, goerr.Wrap(err, "failed to iterate audit records", goerr.V(model.TenantIDKey, tenantID))
		}

		var d auditDoc
		if err := doc.DataTo(&d); err != nil {
			return nil, goerr.Wrap(err, "failed to unmarshal audit record", goerr.V("docID", doc.Ref.ID))
		}
		var rec model.AuditRecord
		if err := json.Unmarshal([]byte(d.Record), &rec); err != nil {
			return nil, goerr.Wrap(err, "failed to decode audit record", goerr.V("docID", doc.Ref.ID))
		}
		records = append(records, &rec)
	}
	return records, nil
}
