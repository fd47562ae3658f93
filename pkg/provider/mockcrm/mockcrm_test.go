package mockcrm_test

import (
	"context"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
	"github.com/secmon-lab/actiongate/pkg/provider/mockcrm"
)

var creds = model.Credentials{"api_key": "k"}

func TestProvider_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	p := mockcrm.New()

	raw, err := p.ExecuteAction(ctx, "create_contact", map[string]any{"email": "a@b.com", "first_name": "Ann"}, creds, "")
	gt.NoError(t, err).Required()
	created := p.NormalizeResponse(raw, "create_contact")
	gt.Value(t, created.Provider).Equal("mock_crm")
	gt.Value(t, created.ProviderID).Equal("c_1")
	gt.Value(t, created.ID).Equal("mock_crm_c_1")
	gt.Value(t, created.Data["email"]).Equal("a@b.com")

	raw, err = p.ExecuteAction(ctx, "get_contact", map[string]any{"id": "c_1"}, creds, "")
	gt.NoError(t, err).Required()
	gt.Value(t, p.NormalizeResponse(raw, "get_contact").Data["first_name"]).Equal("Ann")

	_, err = p.ExecuteAction(ctx, "get_contact", map[string]any{"id": "c_9"}, creds, "")
	ae, ok := model.ActionErrorFrom(err)
	gt.Bool(t, ok).True()
	gt.Value(t, ae.Code).Equal(types.ErrorCodeNotFound)
}

func TestProvider_NativeIdempotency(t *testing.T) {
	ctx := context.Background()
	p := mockcrm.New()
	params := map[string]any{"email": "a@b.com"}

	raw1, err := p.ExecuteAction(ctx, "create_contact", params, creds, "k1")
	gt.NoError(t, err).Required()
	raw2, err := p.ExecuteAction(ctx, "create_contact", params, creds, "k1")
	gt.NoError(t, err).Required()
	gt.Value(t, p.NormalizeResponse(raw2, "create_contact").ProviderID).
		Equal(p.NormalizeResponse(raw1, "create_contact").ProviderID)

	_, err = p.ExecuteAction(ctx, "create_contact", params, creds, "k2")
	ae, _ := model.ActionErrorFrom(err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeConflict)
	gt.Value(t, p.Calls("create_contact")).Equal(3)
}

func TestProvider_UpdateAndSearch(t *testing.T) {
	ctx := context.Background()
	p := mockcrm.New()
	_, err := p.ExecuteAction(ctx, "create_contact", map[string]any{"email": "ann@acme.com"}, creds, "")
	gt.NoError(t, err).Required()
	_, err = p.ExecuteAction(ctx, "create_contact", map[string]any{"email": "bob@other.com"}, creds, "")
	gt.NoError(t, err).Required()

	raw, err := p.ExecuteAction(ctx, "update_contact", map[string]any{"id": "c_1", "company": "Acme"}, creds, "")
	gt.NoError(t, err).Required()
	gt.Value(t, p.NormalizeResponse(raw, "update_contact").Data["company"]).Equal("Acme")

	raw, err = p.ExecuteAction(ctx, "search_contacts", map[string]any{"query": "acme"}, creds, "")
	gt.NoError(t, err).Required()
	res := p.NormalizeResponse(raw, "search_contacts")
	gt.Value(t, res.Data["total"]).Equal(1)
	gt.Bool(t, res.ProviderID != "").True()
	gt.Bool(t, res.ID != "").True()
}

func TestProvider_Failures(t *testing.T) {
	ctx := context.Background()
	injected := model.NewActionError(types.ErrorCodeProvider, "boom")
	p := mockcrm.New(mockcrm.WithFailures(injected))

	_, err := p.ExecuteAction(ctx, "create_contact", map[string]any{"email": "a@b.com"}, creds, "")
	gt.Value(t, err).Equal(error(injected))

	_, err = p.ExecuteAction(ctx, "create_contact", map[string]any{"email": "a@b.com"}, creds, "")
	gt.NoError(t, err)
}

func TestProvider_LatencyHonoursContext(t *testing.T) {
	p := mockcrm.New(mockcrm.WithLatency(time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.ExecuteAction(ctx, "search_contacts", nil, creds, "")
	ae, ok := model.ActionErrorFrom(err)
	gt.Bool(t, ok).True()
	gt.Value(t, ae.Code).Equal(types.ErrorCodeTimeout)
}

func TestProvider_ValidateCredentials(t *testing.T) {
	ctx := context.Background()
	p := mockcrm.New()

	ok, err := p.ValidateCredentials(ctx, model.Credentials{})
	gt.NoError(t, err)
	gt.Bool(t, ok).False()

	ok, err = p.ValidateCredentials(ctx, creds)
	gt.NoError(t, err)
	gt.Bool(t, ok).True()

	_, err = p.ValidateCredentials(ctx, model.Credentials{"api_key": "invalid"})
	ae, _ := model.ActionErrorFrom(err)
	gt.Value(t, ae.Code).Equal(types.ErrorCodeAuthentication)
}

func TestProvider_NormalizeUndecodable(t *testing.T) {
	p := mockcrm.New()
	res := p.NormalizeResponse(&model.RawResponse{StatusCode: 200, Body: []byte("not json")}, "get_contact")
	gt.Value(t, res.Provider).Equal("mock_crm")
	gt.Bool(t, res.ProviderID != "").True()
}

func TestFactory(t *testing.T) {
	p, err := mockcrm.Factory(model.ProviderConfig{Name: "crm_a", Type: mockcrm.Type, Options: map[string]any{"fail_first": int64(1)}})
	gt.NoError(t, err).Required()
	gt.Value(t, p.Name()).Equal("crm_a")

	_, err = p.ExecuteAction(context.Background(), "search_contacts", nil, creds, "")
	gt.Value(t, err).NotNil()
}
