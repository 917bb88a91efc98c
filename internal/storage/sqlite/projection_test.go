package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

func TestAgentProjectionUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()

	_, err := st.AppendEvent(ctx, core.Event{
		ProjectKey: "p",
		Timestamp:  ts,
		Payload:    core.AgentRegisteredPayload{Name: "scout", Program: "runner", Model: "m-1"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	agent, err := st.GetAgent(ctx, "p", "scout")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if agent.Program != "runner" || agent.Model != "m-1" {
		t.Fatalf("wrong projection: %+v", agent)
	}

	// Re-registration with the same name updates in place.
	_, err = st.AppendEvent(ctx, core.Event{
		ProjectKey: "p",
		Timestamp:  ts + 1000,
		Payload:    core.AgentRegisteredPayload{Name: "scout", Program: "runner", Model: "m-2"},
	})
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	agents, err := st.ListAgents(ctx, "p")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 1 {
		t.Fatalf("expected 1 agent after re-registration, got %d", len(agents))
	}
	if agents[0].Model != "m-2" {
		t.Fatalf("re-registration did not update model: %s", agents[0].Model)
	}
}

func TestHeartbeatNeverMovesBackward(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli()

	_, _ = st.AppendEvent(ctx, core.Event{
		ProjectKey: "p", Timestamp: ts,
		Payload: core.AgentRegisteredPayload{Name: "scout"},
	})
	_, _ = st.AppendEvent(ctx, core.Event{
		ProjectKey: "p", Timestamp: ts + 60_000,
		Payload: core.AgentHeartbeatPayload{Name: "scout"},
	})

	// A replayed heartbeat with an older timestamp must not regress the row.
	_, _ = st.AppendEvent(ctx, core.Event{
		ProjectKey: "p", Timestamp: ts + 30_000,
		Payload: core.AgentHeartbeatPayload{Name: "scout"},
	})

	agent, err := st.GetAgent(ctx, "p", "scout")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got := agent.LastActiveAt.UnixMilli(); got != ts+60_000 {
		t.Fatalf("last_active_at regressed: %d, want %d", got, ts+60_000)
	}
}

func TestMessageProjectionIdempotentReplay(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := int64(1700000000000)

	payload := core.MessageSentPayload{From: "alice", To: []string{"bob"}, Body: "hello"}
	ev := core.Event{ProjectKey: "p", Timestamp: ts, Payload: payload}

	// Same content imported twice, as a crash-and-rerun would do.
	if err := st.InsertEvents(ctx, storage.ImportBatch{Events: []core.Event{ev}}); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := st.InsertEvents(ctx, storage.ImportBatch{Events: []core.Event{ev}}); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	msgs, err := st.Inbox(ctx, "p", "bob", false)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("replay duplicated message: got %d rows", len(msgs))
	}
	if msgs[0].ID != core.DeriveMessageID("p", ts, payload) {
		t.Fatalf("message id not content-derived: %s", msgs[0].ID)
	}
}

func TestReadAckStampsKeepFirstTimestamp(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := int64(1700000000000)

	payload := core.MessageSentPayload{From: "alice", To: []string{"bob"}, Body: "hello"}
	_, err := st.AppendEvent(ctx, core.Event{ProjectKey: "p", Timestamp: ts, Payload: payload})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	id := core.DeriveMessageID("p", ts, payload)

	_, _ = st.AppendEvent(ctx, core.Event{
		ProjectKey: "p", Timestamp: ts + 1000,
		Payload: core.MessageReadPayload{MessageID: id, Agent: "bob"},
	})
	// A second read event must not move the stamp.
	_, _ = st.AppendEvent(ctx, core.Event{
		ProjectKey: "p", Timestamp: ts + 9000,
		Payload: core.MessageReadPayload{MessageID: id, Agent: "bob"},
	})

	recipients, err := st.Recipients(ctx, id)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recipients) != 1 {
		t.Fatalf("expected 1 recipient, got %d", len(recipients))
	}
	if recipients[0].ReadAt == nil {
		t.Fatal("read_at not stamped")
	}
	if got := recipients[0].ReadAt.UnixMilli(); got != ts+1000 {
		t.Fatalf("read_at moved on replay: %d, want %d", got, ts+1000)
	}
	if recipients[0].AckedAt != nil {
		t.Fatal("acked_at stamped without ack event")
	}
}

func TestInboxUnreadOnly(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := int64(1700000000000)

	p1 := core.MessageSentPayload{From: "alice", To: []string{"bob"}, Body: "one"}
	p2 := core.MessageSentPayload{From: "alice", To: []string{"bob"}, Body: "two"}
	_, _ = st.AppendEvent(ctx, core.Event{ProjectKey: "p", Timestamp: ts, Payload: p1})
	_, _ = st.AppendEvent(ctx, core.Event{ProjectKey: "p", Timestamp: ts + 1, Payload: p2})

	if err := st.MarkRead(ctx, core.DeriveMessageID("p", ts, p1), "bob"); err != nil {
		t.Fatalf("mark read: %v", err)
	}

	unread, err := st.Inbox(ctx, "p", "bob", true)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(unread) != 1 || unread[0].Body != "two" {
		t.Fatalf("unread filter wrong: %+v", unread)
	}

	all, err := st.Inbox(ctx, "p", "bob", false)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}
}

func TestMarkReadUnknownRecipient(t *testing.T) {
	st := newTestStore(t)
	err := st.MarkRead(context.Background(), "no-such-message", "bob")
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteMessageCascadesRecipients(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	ts := int64(1700000000000)

	payload := core.MessageSentPayload{From: "alice", To: []string{"bob", "carol"}, Body: "bye"}
	_, _ = st.AppendEvent(ctx, core.Event{ProjectKey: "p", Timestamp: ts, Payload: payload})
	id := core.DeriveMessageID("p", ts, payload)

	if err := st.DeleteMessage(ctx, "p", id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recipients, err := st.Recipients(ctx, id)
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(recipients) != 0 {
		t.Fatalf("recipient rows survived cascade: %d", len(recipients))
	}
	// The log keeps the original event even after the projection row is gone.
	events, err := st.QueryEvents(ctx, storage.EventQuery{ProjectKey: "p", Type: core.EventMessageSent})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("event log lost the message event: %d", len(events))
	}
}
