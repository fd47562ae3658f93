package model

import "github.com/m-mizutani/goerr/v2"

var (
	ErrEmptyResponse = goerr.New("empty provider response")
	ErrInvalidRecord = goerr.New("invalid record")
	// ErrReservationLost is returned when another owner holds the key
	ErrReservationLost = goerr.New("idempotency reservation is held by another owner")
)

// Context keys for error values
const (
	TenantIDKey       = "tenant_id"
	IdempotencyKeyKey = "idempotency_key"
	OperationKey      = "operation"
	ProviderNameKey   = "provider_name"
	CapabilityKey     = "capability"
)
