package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
	"github.com/mistakeknot/tessellate/internal/storage/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func writeSource(t *testing.T, name string, lines ...string) string {
	t.Helper()
	dir := t.TempDir()
	content := ""
	for _, l := range lines {
		content += l + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return dir
}

func TestImportRun(t *testing.T) {
	st := newTestStore(t)
	dir := writeSource(t, "session-1.jsonl",
		`{"session_id":"s1","timestamp":1700000001000,"kind":"decision","agent":"scout","decision":"use sqlite","rationale":"no server"}`,
		`{"session_id":"s1","timestamp":1700000002000,"kind":"outcome","agent":"scout","outcome":"success","detail":"migrated"}`,
		`{"session_id":"s1","timestamp":1700000003000,"kind":"note","agent":"scout","text":"wrapping up"}`,
		``, // blank lines are skipped entirely
		`not json at all`,
		`{"session_id":"s1","timestamp":1700000004000,"kind":"mystery","agent":"scout"}`,
	)

	imp, err := New(st, Options{ProjectKey: "p"})
	if err != nil {
		t.Fatalf("new importer: %v", err)
	}
	report, err := imp.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if report.Candidates != 5 {
		t.Fatalf("expected 5 candidates, got %d", report.Candidates)
	}
	if report.Inserted != 3 {
		t.Fatalf("expected 3 inserted, got %d", report.Inserted)
	}
	if report.SkippedInvalid != 2 {
		t.Fatalf("expected 2 invalid, got %d", report.SkippedInvalid)
	}
	if report.ByType[core.EventDecisionRecorded] != 1 || report.ByType[core.EventOutcomeRecorded] != 1 || report.ByType[core.EventSessionNote] != 1 {
		t.Fatalf("wrong distribution: %+v", report.ByType)
	}

	events, err := st.QueryEvents(context.Background(), storage.EventQuery{ProjectKey: "p"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events in log, got %d", len(events))
	}
	if events[0].Timestamp != 1700000001000 {
		t.Fatalf("source timestamp not preserved: %d", events[0].Timestamp)
	}
}

func TestImportIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	dir := writeSource(t, "session-1.jsonl",
		`{"session_id":"s1","timestamp":1700000001000,"kind":"decision","agent":"scout","decision":"d"}`,
		`{"session_id":"s1","timestamp":1700000002000,"kind":"note","text":"n"}`,
	)

	imp, _ := New(st, Options{ProjectKey: "p"})
	first, err := imp.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Inserted != 2 {
		t.Fatalf("first run inserted %d", first.Inserted)
	}

	second, err := imp.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Inserted != 0 {
		t.Fatalf("second run must insert nothing, inserted %d", second.Inserted)
	}
	if second.SkippedDuplicate != 2 {
		t.Fatalf("expected 2 duplicates, got %d", second.SkippedDuplicate)
	}

	events, _ := st.QueryEvents(context.Background(), storage.EventQuery{ProjectKey: "p"})
	if len(events) != 2 {
		t.Fatalf("re-import duplicated events: %d", len(events))
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	st := newTestStore(t)
	dir := writeSource(t, "session-1.jsonl",
		`{"session_id":"s1","timestamp":1700000001000,"kind":"decision","agent":"scout","decision":"d"}`,
		`garbage`,
	)

	imp, _ := New(st, Options{ProjectKey: "p", DryRun: true})
	report, err := imp.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}
	if report.Candidates != 2 || report.SkippedInvalid != 1 {
		t.Fatalf("dry run counts wrong: %+v", report)
	}
	if report.Inserted != 0 {
		t.Fatalf("dry run inserted %d", report.Inserted)
	}
	if report.ByType[core.EventDecisionRecorded] != 1 {
		t.Fatalf("dry run distribution wrong: %+v", report.ByType)
	}

	events, _ := st.QueryEvents(context.Background(), storage.EventQuery{ProjectKey: "p"})
	if len(events) != 0 {
		t.Fatalf("dry run wrote %d events", len(events))
	}
}

func TestImportBatching(t *testing.T) {
	st := newTestStore(t)
	lines := make([]string, 0, 7)
	for i := 0; i < 7; i++ {
		lines = append(lines, fmt.Sprintf(
			`{"session_id":"sess-%d","timestamp":%d,"kind":"note","text":"n"}`,
			i, 1700000000000+int64(i)))
	}
	dir := writeSource(t, "big.jsonl", lines...)

	imp, _ := New(st, Options{ProjectKey: "p", BatchSize: 3})
	report, err := imp.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Inserted != 7 {
		t.Fatalf("expected 7 inserted across batches, got %d", report.Inserted)
	}
}

func TestImportRejectsMissingDedupKey(t *testing.T) {
	st := newTestStore(t)
	dir := writeSource(t, "bad.jsonl",
		`{"timestamp":1700000001000,"kind":"note","text":"no session"}`,
		`{"session_id":"s1","kind":"note","text":"no timestamp"}`,
	)

	imp, _ := New(st, Options{ProjectKey: "p"})
	report, err := imp.Run(context.Background(), dir)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.SkippedInvalid != 2 || report.Inserted != 0 {
		t.Fatalf("records without dedup key must be invalid: %+v", report)
	}
}

func TestNewRequiresProject(t *testing.T) {
	st := newTestStore(t)
	if _, err := New(st, Options{}); err == nil {
		t.Fatal("expected error for missing project key")
	}
}
