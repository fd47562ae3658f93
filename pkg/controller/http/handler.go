package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/secmon-lab/actiongate/pkg/domain/model"
	"github.com/secmon-lab/actiongate/pkg/domain/types"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	headerTenantID       = "X-Tenant-ID"
)

// decodeBody reads one JSON document into v
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) *model.ActionError {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return bodyError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return bodyError("request body is not valid JSON")
	}
	if dec.More() {
		return bodyError("request body must be a single JSON object")
	}
	return nil
}

func (s *Server) executeAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ActionRequest
	if ae := s.decodeBody(w, r, &req); ae != nil {
		writeError(ctx, w, ae)
		return
	}

	if req.IdempotencyKey == "" {
		req.IdempotencyKey = types.IdempotencyKey(r.Header.Get(headerIdempotencyKey))
	}
	if req.TenantID == "" {
		req.TenantID = types.TenantID(r.Header.Get(headerTenantID))
	}
	if req.CorrelationID == "" {
		req.CorrelationID = types.CorrelationIDFromContext(ctx)
	}

	result, err := s.uc.Action.Execute(ctx, &req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if result.Status == types.ActionStatusQueued {
		status = http.StatusAccepted
	}
	w.Header().Set(headerCorrelationID, result.CorrelationID.String())
	writeJSON(ctx, w, status, result)
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.uc.Provider.List())
}

type healthResponse struct {
	Providers map[string]bool `json:"providers"`
	Healthy   bool            `json:"healthy"`
}

func (s *Server) providerHealth(w http.ResponseWriter, r *http.Request) {
	results := s.uc.Provider.Health(r.Context())
	resp := healthResponse{
		Providers: make(map[string]bool, len(results)),
		Healthy:   true,
	}
	for _, h := range results {
		resp.Providers[h.Name] = h.Healthy
		if !h.Healthy {
			resp.Healthy = false
		}
	}
	writeJSON(r.Context(), w, http.StatusOK, resp)
}

type activateRequest struct {
	Provider       string             `json:"provider"`
	Capabilities   []types.Capability `json:"capabilities"`
	CredentialsRef string             `json:"credentials_ref"`
}

func (s *Server) activateProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := types.TenantID(chi.URLParam(r, "tenantID"))

	var req activateRequest
	if ae := s.decodeBody(w, r, &req); ae != nil {
		writeError(ctx, w, ae)
		return
	}
	if req.Provider == "" {
		writeError(ctx, w, model.NewActionError(types.ErrorCodeValidation, "provider is required",
			model.WithDetail("field", "provider")))
		return
	}

	reg, err := s.uc.Provider.Activate(ctx, tenantID, req.Provider, req.Capabilities, req.CredentialsRef)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, reg)
}

func (s *Server) deactivateProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := types.TenantID(chi.URLParam(r, "tenantID"))
	providerName := chi.URLParam(r, "providerName")

	if err := s.uc.Provider.Deactivate(ctx, tenantID, providerName); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type auditResponse struct {
	Records []*model.AuditRecord `json:"records"`
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := types.TenantID(chi.URLParam(r, "tenantID"))

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(ctx, w, model.NewActionError(types.ErrorCodeValidation, "limit must be an integer",
				model.WithDetail("field", "limit")))
			return
		}
		limit = n
	}

	records, err := s.uc.Audit.List(ctx, tenantID, limit)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if records == nil {
		records = []*model.AuditRecord{}
	}
	writeJSON(ctx, w, http.StatusOK, auditResponse{Records: records})
}
