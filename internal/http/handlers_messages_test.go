package httpapi

import (
	"net/http"
	"testing"
)

func sendMessage(t *testing.T, h http.Handler, project, from string, to []string, body string) string {
	t.Helper()
	rr := doLocal(t, h, http.MethodPost, "/api/messages", map[string]any{
		"project": project,
		"from":    from,
		"to":      to,
		"subject": "test",
		"body":    body,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("send: %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		MessageID string `json:"message_id"`
	}
	decodeBody(t, rr, &resp)
	if resp.MessageID == "" {
		t.Fatal("no message_id in response")
	}
	return resp.MessageID
}

func TestSendMessageAndInbox(t *testing.T) {
	_, h := newTestEnv(t)

	id := sendMessage(t, h, "proj-a", "scout", []string{"builder", "reviewer"}, "ready for review")

	rr := doLocal(t, h, http.MethodGet, "/api/messages/inbox?project=proj-a&agent=builder", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("inbox: %d", rr.Code)
	}
	var inbox struct {
		Messages []struct {
			ID   string `json:"id"`
			From string `json:"from"`
			Body string `json:"body"`
		} `json:"messages"`
	}
	decodeBody(t, rr, &inbox)
	if len(inbox.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(inbox.Messages))
	}
	if inbox.Messages[0].ID != id || inbox.Messages[0].From != "scout" {
		t.Fatalf("wrong message: %+v", inbox.Messages[0])
	}

	// Not a recipient.
	rr = doLocal(t, h, http.MethodGet, "/api/messages/inbox?project=proj-a&agent=scout", nil)
	decodeBody(t, rr, &inbox)
	if len(inbox.Messages) != 0 {
		t.Fatalf("sender should not see the message in their inbox")
	}
}

func TestReadAndAckStamps(t *testing.T) {
	_, h := newTestEnv(t)
	id := sendMessage(t, h, "proj-a", "scout", []string{"builder"}, "hello")

	rr := doLocal(t, h, http.MethodPost, "/api/messages/"+id+"/read", map[string]any{
		"agent": "builder", "project": "proj-a",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("read: %d %s", rr.Code, rr.Body.String())
	}
	rr = doLocal(t, h, http.MethodPost, "/api/messages/"+id+"/ack", map[string]any{
		"agent": "builder", "project": "proj-a",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("ack: %d %s", rr.Code, rr.Body.String())
	}

	rr = doLocal(t, h, http.MethodGet, "/api/messages/"+id+"/recipients", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("recipients: %d", rr.Code)
	}
	var resp struct {
		Recipients []struct {
			Agent   string  `json:"agent"`
			ReadAt  *string `json:"read_at"`
			AckedAt *string `json:"acked_at"`
		} `json:"recipients"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Recipients) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(resp.Recipients))
	}
	rec := resp.Recipients[0]
	if rec.Agent != "builder" || rec.ReadAt == nil || rec.AckedAt == nil {
		t.Fatalf("stamps missing: %+v", rec)
	}

	// Read messages drop out of the unread view.
	rr = doLocal(t, h, http.MethodGet, "/api/messages/inbox?project=proj-a&agent=builder&unread=true", nil)
	var inbox struct {
		Messages []struct{} `json:"messages"`
	}
	decodeBody(t, rr, &inbox)
	if len(inbox.Messages) != 0 {
		t.Fatalf("read message still unread: %d", len(inbox.Messages))
	}
}

func TestReadUnknownRecipient(t *testing.T) {
	_, h := newTestEnv(t)
	id := sendMessage(t, h, "proj-a", "scout", []string{"builder"}, "hello")

	rr := doLocal(t, h, http.MethodPost, "/api/messages/"+id+"/read", map[string]any{
		"agent": "stranger", "project": "proj-a",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for non-recipient, got %d", rr.Code)
	}

	rr = doLocal(t, h, http.MethodPost, "/api/messages/no-such-id/read", map[string]any{
		"agent": "builder", "project": "proj-a",
	})
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown message, got %d", rr.Code)
	}
}

func TestDeleteMessage(t *testing.T) {
	_, h := newTestEnv(t)
	id := sendMessage(t, h, "proj-a", "scout", []string{"builder"}, "hello")

	rr := doLocal(t, h, http.MethodDelete, "/api/messages/"+id+"?project=proj-a", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rr.Code)
	}

	rr = doLocal(t, h, http.MethodGet, "/api/messages/inbox?project=proj-a&agent=builder", nil)
	var inbox struct {
		Messages []struct{} `json:"messages"`
	}
	decodeBody(t, rr, &inbox)
	if len(inbox.Messages) != 0 {
		t.Fatalf("deleted message still in inbox")
	}

	rr = doLocal(t, h, http.MethodDelete, "/api/messages/"+id+"?project=proj-a", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rr.Code)
	}
}

func TestSendMessageValidation(t *testing.T) {
	_, h := newTestEnv(t)

	rr := doLocal(t, h, http.MethodPost, "/api/messages", map[string]any{
		"project": "proj-a",
		"from":    "scout",
		"body":    "no recipients",
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
