package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

func TestRecordDecisionMirrorsToEventLog(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	trace, err := st.RecordDecision(ctx, core.DecisionTrace{
		ProjectKey: "p",
		AgentName:  "scout",
		Decision:   "use sqlite",
		Rationale:  "single file, no server",
		SessionID:  "sess-1",
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if trace.ID == "" || trace.CreatedAt.IsZero() {
		t.Fatalf("trace not filled in: %+v", trace)
	}

	events, err := st.QueryEvents(ctx, storage.EventQuery{ProjectKey: "p", Type: core.EventDecisionRecorded})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 mirrored event, got %d", len(events))
	}
	payload := events[0].Payload.(core.DecisionRecordedPayload)
	if payload.Decision != "use sqlite" || payload.SessionID != "sess-1" {
		t.Fatalf("mirrored payload wrong: %+v", payload)
	}
}

func TestListDecisionsFilterAndLimit(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for i, agent := range []string{"scout", "scout", "builder"} {
		_, err := st.RecordDecision(ctx, core.DecisionTrace{
			ProjectKey: "p", AgentName: agent, Decision: "d", SessionID: "s",
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	all, err := st.ListDecisions(ctx, "p", "", 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("list all: %v %d", err, len(all))
	}
	scout, err := st.ListDecisions(ctx, "p", "scout", 0)
	if err != nil || len(scout) != 2 {
		t.Fatalf("list scout: %v %d", err, len(scout))
	}
	limited, err := st.ListDecisions(ctx, "p", "", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("list limited: %v %d", err, len(limited))
	}
}

func TestEntityLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	trace, _ := st.RecordDecision(ctx, core.DecisionTrace{
		ProjectKey: "p", AgentName: "scout", Decision: "d",
	})

	link, err := st.LinkEntity(ctx, core.EntityLink{
		TraceID:    trace.ID,
		EntityKind: "file",
		EntityID:   "internal/storage/sqlite/sqlite.go",
		Relation:   "modified",
	})
	if err != nil {
		t.Fatalf("link: %v", err)
	}
	if link.ID == "" {
		t.Fatal("link id not assigned")
	}

	links, err := st.TraceLinks(ctx, trace.ID)
	if err != nil {
		t.Fatalf("trace links: %v", err)
	}
	if len(links) != 1 || links[0].EntityKind != "file" {
		t.Fatalf("wrong links: %+v", links)
	}

	var verr *core.ValidationError
	if _, err := st.LinkEntity(ctx, core.EntityLink{TraceID: trace.ID}); !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestRecordDecisionValidation(t *testing.T) {
	st := newTestStore(t)
	var verr *core.ValidationError
	_, err := st.RecordDecision(context.Background(), core.DecisionTrace{ProjectKey: "p"})
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
