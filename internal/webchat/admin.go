package webchat

import (
	"encoding/json"
	"net/http"
)

// adminPostActivityRequest targets either a single conversation or, with
// ConversationID empty, every proactive-enabled session for the tenant.
type adminPostActivityRequest struct {
	ConversationID string `json:"conversation_id,omitempty"`
	Team           string `json:"team,omitempty"`
	Activity       Activity `json:"activity"`
}

type adminPostActivityResponse struct {
	Delivered int `json:"delivered"`
	Skipped   int `json:"skipped"`
}

// handleAdminPostActivity lets an operator push a bot activity into one
// conversation or broadcast it to every proactive-enabled session for a
// tenant, per spec §4.10's operator surface.
func (s *Server) handleAdminPostActivity(w http.ResponseWriter, r *http.Request) {
	env := r.PathValue("env")
	tenantID := r.PathValue("tenant")

	var req adminPostActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "E_BAD_BODY", "malformed request")
		return
	}
	if req.Activity.From == nil {
		req.Activity.From = &Participant{ID: "bot", Role: "bot"}
	}

	if req.ConversationID != "" {
		if _, err := s.conversations.Append(req.ConversationID, req.Activity); err != nil {
			writeErr(w, http.StatusNotFound, "E_CONVERSATION_NOT_FOUND", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, adminPostActivityResponse{Delivered: 1})
		return
	}

	sessions := s.sessions.ListByTenant(env, tenantID, req.Team)
	delivered, skipped := 0, 0
	for _, sess := range sessions {
		if !sess.ProactiveOK {
			skipped++
			continue
		}
		activity := req.Activity
		if _, err := s.conversations.Append(sess.ConversationID, activity); err != nil {
			s.logger.Error().Err(err).Str("conversation_id", sess.ConversationID).Msg("failed to deliver admin activity")
			skipped++
			continue
		}
		delivered++
	}
	writeJSON(w, http.StatusOK, adminPostActivityResponse{Delivered: delivered, Skipped: skipped})
}
