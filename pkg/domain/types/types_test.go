package types_test

import (
	"net/http"
	"strings"
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

func TestOperation_Validate(t *testing.T) {
	tests := []struct {
		name    string
		op      types.Operation
		wantErr error
	}{
		{"known create", types.OpCRMContactCreate, nil},
		{"known two segments", types.OpKnowledgeSearch, nil},
		{"empty", "", types.ErrInvalidOperation},
		{"single segment", "crm", types.ErrInvalidOperation},
		{"uppercase", "CRM.contact.create", types.ErrInvalidOperation},
		{"trailing dot", "crm.contact.", types.ErrInvalidOperation},
		{"spaces", "crm contact create", types.ErrInvalidOperation},
		{"well formed but unknown", "crm.deal.create", types.ErrUnknownOperation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.op.Validate()
			if tt.wantErr == nil {
				gt.NoError(t, err)
				return
			}
			gt.Error(t, err).Is(tt.wantErr)
		})
	}
}

func TestOperation_Catalog(t *testing.T) {
	t.Run("every operation maps to exactly one capability in its namespace", func(t *testing.T) {
		for _, op := range types.AllOperations() {
			c, ok := op.Capability()
			gt.Bool(t, ok).True()
			gt.Bool(t, c.IsValid()).True()
			gt.Value(t, op.Namespace()).Equal(c.Namespace())
			gt.Value(t, op.Action()).NotEqual("")
		}
	})

	t.Run("create contact action", func(t *testing.T) {
		gt.Value(t, types.OpCRMContactCreate.Action()).Equal("create_contact")
		c, _ := types.OpCRMContactCreate.Capability()
		gt.Value(t, c).Equal(types.CapabilityCRMContacts)
	})

	t.Run("every capability owns at least one operation", func(t *testing.T) {
		for _, c := range types.AllCapabilities() {
			gt.Bool(t, len(types.OperationsFor(c)) > 0).True()
		}
	})

	t.Run("unknown operation has no capability", func(t *testing.T) {
		_, ok := types.Operation("crm.deal.create").Capability()
		gt.Bool(t, ok).False()
	})
}

func TestCapability_Parse(t *testing.T) {
	c, err := types.ParseCapability("CRM_CONTACTS")
	gt.NoError(t, err)
	gt.Value(t, c).Equal(types.CapabilityCRMContacts)

	_, err = types.ParseCapability("crm_contacts")
	gt.Value(t, err).NotNil()
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		code      types.ErrorCode
		retryable bool
		status    int
	}{
		{types.ErrorCodeValidation, false, http.StatusBadRequest},
		{types.ErrorCodeAuthentication, false, http.StatusUnauthorized},
		{types.ErrorCodePermission, false, http.StatusForbidden},
		{types.ErrorCodeNotFound, false, http.StatusNotFound},
		{types.ErrorCodeConflict, false, http.StatusConflict},
		{types.ErrorCodeProvider, true, http.StatusBadGateway},
		{types.ErrorCodeTimeout, true, http.StatusGatewayTimeout},
		{types.ErrorCodeInternal, false, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			gt.Bool(t, tt.code.IsValid()).True()
			gt.Value(t, tt.code.Retryable()).Equal(tt.retryable)
			gt.Value(t, tt.code.HTTPStatus()).Equal(tt.status)
		})
	}

	t.Run("taxonomy is closed", func(t *testing.T) {
		gt.Array(t, types.AllErrorCodes()).Length(8)
		_, err := types.ParseErrorCode("RATE_LIMITED")
		gt.Value(t, err).NotNil()
	})
}

func TestActionStatus_IsValid(t *testing.T) {
	for _, s := range types.AllActionStatuses() {
		gt.Bool(t, s.IsValid()).True()
	}
	gt.Bool(t, types.ActionStatus("done").IsValid()).False()
}

func TestIdempotencyKey_Validate(t *testing.T) {
	tests := []struct {
		name    string
		key     types.IdempotencyKey
		wantErr bool
	}{
		{"empty is allowed", "", false},
		{"simple", "idm_1", false},
		{"max length", types.IdempotencyKey(strings.Repeat("k", 255)), false},
		{"too long", types.IdempotencyKey(strings.Repeat("k", 256)), true},
		{"non ascii", "ключ", true},
		{"control character", "idm\n1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.Validate()
			gt.Value(t, err != nil).Equal(tt.wantErr)
		})
	}
}

func TestTenantID_Validate(t *testing.T) {
	gt.NoError(t, types.TenantID("t1").Validate())
	gt.Value(t, types.TenantID("").Validate()).NotNil()
	gt.Value(t, types.TenantID(strings.Repeat("t", 256)).Validate()).NotNil()
}

func TestIdentifiers(t *testing.T) {
	gt.Bool(t, strings.HasPrefix(types.NewActionID().String(), "act_")).True()
	gt.Value(t, types.NewCorrelationID()).NotEqual(types.NewCorrelationID())
}
