package model

import "encoding/json"

// RawResponse is the vendor response handed from ExecuteAction to
// NormalizeResponse
type RawResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	// Queued marks a response that was accepted by the vendor but not yet applied
	Queued bool `json:"queued,omitempty"`
}

// Decode unmarshals the body into v
func (r *RawResponse) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return ErrEmptyResponse
	}
	return json.Unmarshal(r.Body, v)
}

// NewRawResponse marshals v into a RawResponse body
func NewRawResponse(statusCode int, v any) (*RawResponse, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &RawResponse{StatusCode: statusCode, Body: body}, nil
}
