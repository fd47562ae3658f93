package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// idempotencyDoc is the stored form of model.IdempotencyRecord. The result is
// kept as JSON so replays are byte-identical to the first response.
// LiveUntil is the single field the expiry sweep queries; ExpiresAt can back
// a Firestore TTL policy.
type idempotencyDoc struct {
	TenantID       string    `firestore:"TenantID"`
	Key            string    `firestore:"Key"`
	Operation      string    `firestore:"Operation"`
	ParametersHash string    `firestore:"ParametersHash"`
	State          string    `firestore:"State"`
	StoredResult   string    `firestore:"StoredResult,omitempty"`
	CreatedAt      time.Time `firestore:"CreatedAt"`
	ExpiresAt      time.Time `firestore:"ExpiresAt"`
	LeaseExpiresAt time.Time `firestore:"LeaseExpiresAt"`
	LiveUntil      time.Time `firestore:"LiveUntil"`
	Owner          string    `firestore:"Owner,omitempty"`
}

func toIdempotencyDoc(rec *model.IdempotencyRecord) (*idempotencyDoc, error) {
	doc := &idempotencyDoc{
		TenantID:       rec.TenantID.String(),
		Key:            rec.Key.String(),
		Operation:      rec.Operation.String(),
		ParametersHash: rec.ParametersHash,
		State:          string(rec.State),
		CreatedAt:      rec.CreatedAt,
		ExpiresAt:      rec.ExpiresAt,
		LeaseExpiresAt: rec.LeaseExpiresAt,
		LiveUntil:      rec.LeaseExpiresAt,
		Owner:          rec.Owner,
	}
	if rec.State == model.IdempotencyStateCompleted {
		doc.LiveUntil = rec.ExpiresAt
	}
	if rec.StoredResult != nil {
		raw, err := json.Marshal(rec.StoredResult)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to encode stored result")
		}
		doc.StoredResult = string(raw)
	}
	return doc, nil
}

func fromIdempotencyDoc(d *idempotencyDoc) (*model.IdempotencyRecord, error) {
	rec := &model.IdempotencyRecord{
		Key:            types.IdempotencyKey(d.Key),
		TenantID:       types.TenantID(d.TenantID),
		Operation:      types.Operation(d.Operation),
		ParametersHash: d.ParametersHash,
		State:          model.IdempotencyState(d.State),
		CreatedAt:      d.CreatedAt,
		ExpiresAt:      d.ExpiresAt,
		LeaseExpiresAt: d.LeaseExpiresAt,
		Owner:          d.Owner,
	}
	if d.StoredResult != "" {
		var result model.ActionResult
		if err := json.Unmarshal([]byte(d.StoredResult), &result); err != nil {
			return nil, goerr.Wrap(err, "failed to decode stored result",
				goerr.V(model.TenantIDKey, d.TenantID))
		}
		rec.StoredResult = &result
	}
	return rec, nil
}

type idempotencyRepository struct {
	client           *firestore.Client
	collectionPrefix string
	now              func() time.Time
}

func newIdempotencyRepository(client *firestore.Client) *idempotencyRepository {
	return &idempotencyRepository{
		client: client,
		now:    time.Now,
	}
}

func (r *idempotencyRepository) collection() *firestore.CollectionRef {
	return r.client.Collection(IdempotencyCollection(r.collectionPrefix))
}

// docID hashes the identity so arbitrary printable keys are safe document ids
func docID(tenantID types.TenantID, key types.IdempotencyKey) string {
	sum := sha256.Sum256([]byte(tenantID.String() + "|" + key.String()))
	return hex.EncodeToString(sum[:])
}

func (r *idempotencyRepository) docRef(tenantID types.TenantID, key types.IdempotencyKey) *firestore.DocumentRef {
	return r.collection().Doc(docID(tenantID, key))
}

func readIdempotency(snap *firestore.DocumentSnapshot) (*model.IdempotencyRecord, error) {
	var d idempotencyDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal idempotency record", goerr.V("docID", snap.Ref.ID))
	}
	return fromIdempotencyDoc(&d)
}

func (r *idempotencyRepository) Reserve(ctx context.Context, rec *model.IdempotencyRecord) (*model.IdempotencyRecord, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	doc, err := toIdempotencyDoc(rec)
	if err != nil {
		return nil, err
	}

	ref := r.docRef(rec.TenantID, rec.Key)
	var existing *model.IdempotencyRecord
	err = r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		existing = nil
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get idempotency record")
		}
		if err == nil {
			stored, err := readIdempotency(snap)
			if err != nil {
				return err
			}
			if stored.Live(r.now()) {
				existing = stored
				return nil
			}
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to reserve idempotency key",
			goerr.V(model.TenantIDKey, rec.TenantID),
			goerr.V(model.IdempotencyKeyKey, rec.Key))
	}
	return existing, nil
}

func (r *idempotencyRepository) Complete(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string, result *model.ActionResult, expiresAt time.Time) error {
	if result == nil {
		return goerr.Wrap(model.ErrInvalidRecord, "result is nil",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}

	ref := r.docRef(tenantID, key)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		rec := &model.IdempotencyRecord{
			Key:       key,
			TenantID:  tenantID,
			Operation: result.Operation,
			CreatedAt: r.now().UTC(),
			Owner:     owner,
		}
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return goerr.Wrap(err, "failed to get idempotency record")
		}
		if err == nil {
			stored, err := readIdempotency(snap)
			if err != nil {
				return err
			}
			if !stored.HeldBy(owner, r.now()) {
				return model.ErrReservationLost
			}
			if stored.Owner == owner {
				rec = stored
			}
		}

		rec.State = model.IdempotencyStateCompleted
		rec.StoredResult = result
		rec.ExpiresAt = expiresAt
		rec.LeaseExpiresAt = time.Time{}

		doc, err := toIdempotencyDoc(rec)
		if err != nil {
			return err
		}
		return tx.Set(ref, doc)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to complete idempotency record",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}
	return nil
}

func (r *idempotencyRepository) Release(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey, owner string) error {
	ref := r.docRef(tenantID, key)
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return nil
			}
			return goerr.Wrap(err, "failed to get idempotency record")
		}
		stored, err := readIdempotency(snap)
		if err != nil {
			return err
		}
		if stored.State != model.IdempotencyStatePending || stored.Owner != owner {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return goerr.Wrap(err, "failed to release idempotency key",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}
	return nil
}

func (r *idempotencyRepository) Get(ctx context.Context, tenantID types.TenantID, key types.IdempotencyKey) (*model.IdempotencyRecord, error) {
	snap, err := r.docRef(tenantID, key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, goerr.Wrap(err, "failed to get idempotency record",
			goerr.V(model.TenantIDKey, tenantID),
			goerr.V(model.IdempotencyKeyKey, key))
	}

	rec, err := readIdempotency(snap)
	if err != nil {
		return nil, err
	}
	if !rec.Live(r.now()) {
		return nil, nil
	}
	return rec, nil
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	iter := r.collection().Where("LiveUntil", "<=", now).Documents(ctx)
	defer iter.Stop()

	deleted := 0
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, goerr.Wrap(err, "failed to iterate expired records")
		}

		if _, err := doc.Ref.Delete(ctx, firestore.LastUpdateTime(doc.UpdateTime)); err != nil {
			if status.Code(err) == codes.FailedPrecondition || status.Code(err) == codes.NotFound {
				// Record was re-reserved or completed after the query ran
				continue
			}
			return deleted, goerr.Wrap(err, "failed to delete expired record", goerr.V("docID", doc.Ref.ID))
		}
		deleted++
	}
	return deleted, nil
}
