package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hearcrm/assistant-svc/internal/assist"
	"github.com/hearcrm/assistant-svc/internal/planner"
	"github.com/hearcrm/assistant-svc/internal/refiner"
	"github.com/hearcrm/assistant-svc/internal/tenancy"
)

// timeNow is swappable for expiry tests.
var timeNow = time.Now

type classifyRequest struct {
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Message  string `json:"message"`
}

type planRequest struct {
	TenantID string         `json:"tenant_id"`
	UserID   string         `json:"user_id"`
	Intent   *assist.Intent `json:"intent"`
}

type verifyRequest struct {
	Plan *assist.ActionPlan `json:"plan"`
}

type verifyResponse struct {
	ValidIntegrity bool            `json:"valid_integrity"`
	Expired        bool            `json:"expired"`
	SchemaDrift    map[string]bool `json:"schema_drift"`
	Executable     bool            `json:"executable"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// resolveTenant cross-checks the body tenant against the authenticated one.
// A mismatch is a tenant violation, not a fallthrough.
func resolveTenant(r *http.Request, bodyTenant string) (string, bool) {
	ctxTenant, err := tenancy.TenantID(r.Context())
	if err != nil {
		return "", false
	}
	if bodyTenant != "" && bodyTenant != ctxTenant {
		return "", false
	}
	return ctxTenant, true
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tenantID, ok := resolveTenant(r, req.TenantID)
	if !ok {
		writeJSON(w, http.StatusForbidden, assist.RefinerResult{
			Status:       assist.RefinerError,
			ErrorMessage: "tenant mismatch",
		})
		return
	}
	if req.UserID == "" || req.Message == "" {
		http.Error(w, "user_id and message are required", http.StatusBadRequest)
		return
	}

	convCtx, err := s.sessions.Load(r.Context(), tenantID, req.UserID)
	if err != nil {
		s.logger.Printf("session load failed for %s:%s: %v", tenantID, req.UserID, err)
		convCtx = nil
	}

	result := s.refiner.Classify(r.Context(), refiner.ClassifyRequest{
		Message:  req.Message,
		TenantID: tenantID,
		UserID:   req.UserID,
		Context:  convCtx,
	})

	if convCtx != nil {
		convCtx.AppendMessage("user", req.Message)
		if result.Intent != nil {
			if result.Intent.ConversationalResponse != "" {
				convCtx.AppendMessage("assistant", result.Intent.ConversationalResponse)
			}
			// A slot answer consumes the pending slot; a cancellation
			// abandons it.
			if result.Intent.Type == assist.IntentSlotFill ||
				result.Intent.Type == assist.IntentCancellation {
				convCtx.ClearPendingSlot()
			}
		}
		if err := s.sessions.Save(r.Context(), convCtx); err != nil {
			s.logger.Printf("session save failed for %s:%s: %v", tenantID, req.UserID, err)
		}
	}

	writeJSON(w, statusForRefiner(result.Status), result)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	tenantID, ok := resolveTenant(r, req.TenantID)
	if !ok {
		writeJSON(w, http.StatusForbidden, assist.PlannerResult{
			Status:       assist.PlannerTenantViolation,
			ErrorMessage: "tenant mismatch",
		})
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	result := s.planner.Plan(r.Context(), planner.PlanRequest{
		Intent:          req.Intent,
		TenantID:        tenantID,
		UserID:          req.UserID,
		UserPermissions: s.tenants.PermissionsFor(tenantID, req.UserID),
		UseModel:        s.useModel,
	})

	// A plan with gaps arms the conversation for a slot-fill turn.
	if result.Plan != nil && len(result.Plan.MissingParameters) > 0 {
		if convCtx, err := s.sessions.Load(r.Context(), tenantID, req.UserID); err == nil {
			convCtx.SetPendingSlot(result.Plan.MissingParameters[0])
			if result.Plan.SlotFillingPrompt != "" {
				convCtx.AppendMessage("assistant", result.Plan.SlotFillingPrompt)
			}
			if err := s.sessions.Save(r.Context(), convCtx); err != nil {
				s.logger.Printf("session save failed for %s:%s: %v", tenantID, req.UserID, err)
			}
		}
	}

	writeJSON(w, statusForPlanner(result.Status), result)
}

func (s *Server) handleVerifyPlan(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Plan == nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if _, ok := resolveTenant(r, req.Plan.TenantID); !ok {
		http.Error(w, "tenant mismatch", http.StatusForbidden)
		return
	}

	resp := verifyResponse{
		ValidIntegrity: s.planner.ValidateIntegrity(req.Plan),
		Expired:        s.planner.IsExpired(req.Plan, timeNow()),
		SchemaDrift:    s.planner.CheckSchemaDrift(req.Plan),
	}
	drifted := false
	for _, d := range resp.SchemaDrift {
		if d {
			drifted = true
			break
		}
	}
	resp.Executable = resp.ValidIntegrity && !resp.Expired && !drifted

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenancy.TenantID(r.Context())
	if err != nil {
		http.Error(w, "tenant context missing", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"tools":     s.registry.ListForTenant(tenantID),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"tools":  s.registry.Count(),
	})
}

// statusForRefiner maps envelope statuses onto HTTP codes. The envelope is
// authoritative; the code is a transport hint.
func statusForRefiner(s assist.RefinerStatus) int {
	switch s {
	case assist.RefinerBlocked:
		return http.StatusUnprocessableEntity
	case assist.RefinerCircuitOpen:
		return http.StatusServiceUnavailable
	case assist.RefinerError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func statusForPlanner(s assist.PlannerStatus) int {
	switch s {
	case assist.PlannerPermissionDenied:
		return http.StatusForbidden
	case assist.PlannerTenantViolation:
		return http.StatusForbidden
	case assist.PlannerInvalidIntent:
		return http.StatusBadRequest
	case assist.PlannerCircuitOpen:
		return http.StatusServiceUnavailable
	case assist.PlannerError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}
