package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
)

type sendMessageRequest struct {
	Project     string   `json:"project"`
	From        string   `json:"from"`
	To          []string `json:"to"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	ThreadID    string   `json:"thread_id"`
	Importance  string   `json:"importance"`
	AckRequired bool     `json:"ack_required"`
}

type apiMessage struct {
	ID          string `json:"id"`
	Project     string `json:"project"`
	From        string `json:"from"`
	Subject     string `json:"subject,omitempty"`
	Body        string `json:"body"`
	ThreadID    string `json:"thread_id,omitempty"`
	Importance  string `json:"importance,omitempty"`
	AckRequired bool   `json:"ack_required,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func toAPIMessage(m core.Message) apiMessage {
	return apiMessage{
		ID:          m.ID,
		Project:     m.ProjectKey,
		From:        m.From,
		Subject:     m.Subject,
		Body:        m.Body,
		ThreadID:    m.ThreadID,
		Importance:  m.Importance,
		AckRequired: m.AckRequired,
		CreatedAt:   m.CreatedAt.Format(time.RFC3339Nano),
	}
}

func (s *Service) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed_json")
		return
	}
	if req.From == "" || len(req.To) == 0 || req.Body == "" {
		writeError(w, http.StatusBadRequest, "from_to_body_required")
		return
	}
	project, status := resolveProject(r, req.Project)
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	payload := core.MessageSentPayload{
		From:        req.From,
		To:          req.To,
		Subject:     req.Subject,
		Body:        req.Body,
		ThreadID:    req.ThreadID,
		Importance:  req.Importance,
		AckRequired: req.AckRequired,
	}
	// The handler fixes the timestamp so the content-derived message id it
	// reports matches the row the projection wrote.
	ts := time.Now().UTC().UnixMilli()
	if _, err := s.store.AppendEvent(r.Context(), core.Event{
		ProjectKey: project,
		Timestamp:  ts,
		Payload:    payload,
	}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	messageID := core.DeriveMessageID(project, ts, payload)
	for _, recipient := range req.To {
		s.broadcast(project, recipient, map[string]any{
			"kind":       "message",
			"message_id": messageID,
			"from":       req.From,
			"subject":    req.Subject,
		})
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message_id": messageID})
}

// handleInbox serves /api/messages/inbox?agent=&unread=.
func (s *Service) handleInbox(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	agent := strings.TrimSpace(r.URL.Query().Get("agent"))
	if agent == "" {
		writeError(w, http.StatusBadRequest, "agent_required")
		return
	}
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	unreadOnly := r.URL.Query().Get("unread") == "true"

	messages, err := s.store.Inbox(r.Context(), project, agent, unreadOnly)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	out := make([]apiMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, toAPIMessage(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// handleMessageSubpath serves /api/messages/{id}, /{id}/read, /{id}/ack and
// /{id}/recipients.
func (s *Service) handleMessageSubpath(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/messages/"), "/")
	switch {
	case strings.HasSuffix(path, "/read"):
		s.stampMessage(w, r, strings.TrimSuffix(path, "/read"), core.EventMessageRead)
	case strings.HasSuffix(path, "/ack"):
		s.stampMessage(w, r, strings.TrimSuffix(path, "/ack"), core.EventMessageAck)
	case strings.HasSuffix(path, "/recipients"):
		s.messageRecipients(w, r, strings.TrimSuffix(path, "/recipients"))
	default:
		if r.Method != http.MethodDelete {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.deleteMessage(w, r, path)
	}
}

// stampMessage appends a message.read or message.ack event. The recipient row
// is checked first so a bad message id or agent gets a 404 instead of a
// silently ignored event.
func (s *Service) stampMessage(w http.ResponseWriter, r *http.Request, id string, eventType core.EventType) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Agent   string `json:"agent"`
		Project string `json:"project"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Agent == "" {
		writeError(w, http.StatusBadRequest, "agent_required")
		return
	}
	project, status := resolveProject(r, req.Project)
	if status != 0 {
		w.WriteHeader(status)
		return
	}

	recipients, err := s.store.Recipients(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	found := false
	for _, rec := range recipients {
		if rec.AgentName == req.Agent {
			found = true
			break
		}
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var payload core.Payload
	if eventType == core.EventMessageRead {
		payload = core.MessageReadPayload{MessageID: id, Agent: req.Agent}
	} else {
		payload = core.MessageAckPayload{MessageID: id, Agent: req.Agent}
	}
	if _, err := s.store.AppendEvent(r.Context(), core.Event{
		ProjectKey: project,
		Payload:    payload,
	}); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": id})
}

func (s *Service) messageRecipients(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	recipients, err := s.store.Recipients(r.Context(), id)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	type apiRecipient struct {
		Agent   string  `json:"agent"`
		ReadAt  *string `json:"read_at,omitempty"`
		AckedAt *string `json:"acked_at,omitempty"`
	}
	out := make([]apiRecipient, 0, len(recipients))
	for _, rec := range recipients {
		api := apiRecipient{Agent: rec.AgentName}
		if rec.ReadAt != nil {
			v := rec.ReadAt.Format(time.RFC3339Nano)
			api.ReadAt = &v
		}
		if rec.AckedAt != nil {
			v := rec.AckedAt.Format(time.RFC3339Nano)
			api.AckedAt = &v
		}
		out = append(out, api)
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipients": out})
}

func (s *Service) deleteMessage(w http.ResponseWriter, r *http.Request, id string) {
	project, status := resolveProject(r, r.URL.Query().Get("project"))
	if status != 0 {
		w.WriteHeader(status)
		return
	}
	if err := s.store.DeleteMessage(r.Context(), project, id); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			w.WriteHeader(http.StatusNotFound)
		} else {
			w.WriteHeader(http.StatusInternalServerError)
		}
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
