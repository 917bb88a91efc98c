// Package importer replays externally produced per-session logs into the
// event log. Runs are idempotent at the record level: a candidate whose
// (timestamp, session_id) pair already appears in a stored payload is skipped
// as a duplicate, so re-importing the same source directory inserts nothing.
//
// Dedup is check-then-insert. Two imports of the same source racing each
// other can both pass the check and produce a benign duplicate; that is an
// accepted trade (imports are an operator action, not a hot path) and the
// duplicate merges on the next pass.
package importer

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mistakeknot/tessellate/internal/core"
	"github.com/mistakeknot/tessellate/internal/storage"
)

// DefaultBatchSize is how many candidate events are grouped per insert.
const DefaultBatchSize = 100

// Record is one line of a legacy session log.
type Record struct {
	SessionID string `json:"session_id"`
	Timestamp int64  `json:"timestamp"` // milliseconds since epoch
	Kind      string `json:"kind"`
	Agent     string `json:"agent"`
	Decision  string `json:"decision,omitempty"`
	Rationale string `json:"rationale,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Detail    string `json:"detail,omitempty"`
	Text      string `json:"text,omitempty"`
}

// Report summarizes one run.
type Report struct {
	Candidates       int
	Inserted         int
	SkippedInvalid   int
	SkippedDuplicate int
	ByType           map[core.EventType]int
}

// Options configures a run. ProjectKey is required; BatchSize defaults to
// DefaultBatchSize. DryRun reads the source and produces the distribution
// summary without writing anything, so operators can validate large
// historical imports before committing them.
type Options struct {
	ProjectKey string
	BatchSize  int
	DryRun     bool
}

type Importer struct {
	store storage.Store
	opts  Options
}

func New(store storage.Store, opts Options) (*Importer, error) {
	if opts.ProjectKey == "" {
		return nil, fmt.Errorf("project key required")
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Importer{store: store, opts: opts}, nil
}

// Run imports every .jsonl file under sourceDir, walking files in sorted
// order so reruns see candidates in the same sequence.
func (imp *Importer) Run(ctx context.Context, sourceDir string) (Report, error) {
	report := Report{ByType: make(map[core.EventType]int)}

	files, err := sessionFiles(sourceDir)
	if err != nil {
		return report, err
	}

	var pending []core.Event
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := imp.store.InsertEvents(ctx, storage.ImportBatch{Events: pending}); err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		report.Inserted += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, file := range files {
		if err := imp.scanFile(ctx, file, &report, &pending, flush); err != nil {
			return report, err
		}
	}
	if !imp.opts.DryRun {
		if err := flush(); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (imp *Importer) scanFile(ctx context.Context, path string, report *Report, pending *[]core.Event, flush func() error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		report.Candidates++

		ev, ok := imp.parseCandidate(text)
		if !ok {
			report.SkippedInvalid++
			log.Printf("import: %s:%d: skipping unparseable record", filepath.Base(path), line)
			continue
		}
		report.ByType[ev.Type]++

		if imp.opts.DryRun {
			continue
		}
		dup, err := imp.store.SessionEventExists(ctx, ev.Timestamp, sessionID(ev))
		if err != nil {
			return err
		}
		if dup {
			report.SkippedDuplicate++
			continue
		}
		*pending = append(*pending, ev)
		if len(*pending) >= imp.opts.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return nil
}

// parseCandidate maps a source line to a pre-formed event. Lines that fail to
// parse, lack the dedup key, or name a kind with no event type mapping are
// invalid.
func (imp *Importer) parseCandidate(line string) (core.Event, bool) {
	var rec Record
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return core.Event{}, false
	}
	if rec.SessionID == "" || rec.Timestamp <= 0 {
		return core.Event{}, false
	}

	var payload core.Payload
	switch rec.Kind {
	case "decision":
		if rec.Decision == "" || rec.Agent == "" {
			return core.Event{}, false
		}
		payload = core.DecisionRecordedPayload{
			Agent:     rec.Agent,
			Decision:  rec.Decision,
			Rationale: rec.Rationale,
			SessionID: rec.SessionID,
		}
	case "outcome":
		if rec.Outcome == "" || rec.Agent == "" {
			return core.Event{}, false
		}
		payload = core.OutcomeRecordedPayload{
			Agent:     rec.Agent,
			Outcome:   rec.Outcome,
			Detail:    rec.Detail,
			SessionID: rec.SessionID,
		}
	case "note":
		if rec.Text == "" {
			return core.Event{}, false
		}
		payload = core.SessionNotePayload{
			SessionID: rec.SessionID,
			Agent:     rec.Agent,
			Text:      rec.Text,
		}
	default:
		return core.Event{}, false
	}

	return core.Event{
		Type:       payload.EventType(),
		ProjectKey: imp.opts.ProjectKey,
		Timestamp:  rec.Timestamp,
		Payload:    payload,
	}, true
}

func sessionID(ev core.Event) string {
	switch p := ev.Payload.(type) {
	case core.DecisionRecordedPayload:
		return p.SessionID
	case core.OutcomeRecordedPayload:
		return p.SessionID
	case core.SessionNotePayload:
		return p.SessionID
	default:
		return ""
	}
}

func sessionFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".jsonl") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
