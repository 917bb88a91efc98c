package httpapi

import (
	"net/http"
	"testing"
)

func TestCursorAdvanceAndRead(t *testing.T) {
	_, h := newTestEnv(t)

	rr := doLocal(t, h, http.MethodPost, "/api/cursors", map[string]any{
		"stream": "events", "checkpoint": "indexer", "position": 42,
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("advance: %d %s", rr.Code, rr.Body.String())
	}

	rr = doLocal(t, h, http.MethodGet, "/api/cursors?stream=events&checkpoint=indexer", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("read: %d", rr.Code)
	}
	var resp struct {
		Position uint64 `json:"position"`
	}
	decodeBody(t, rr, &resp)
	if resp.Position != 42 {
		t.Fatalf("expected 42, got %d", resp.Position)
	}

	// Unknown checkpoints start at zero.
	rr = doLocal(t, h, http.MethodGet, "/api/cursors?stream=events&checkpoint=fresh", nil)
	decodeBody(t, rr, &resp)
	if resp.Position != 0 {
		t.Fatalf("fresh checkpoint at %d", resp.Position)
	}
}

func TestCursorRegressionIs409(t *testing.T) {
	_, h := newTestEnv(t)

	doLocal(t, h, http.MethodPost, "/api/cursors", map[string]any{
		"stream": "events", "checkpoint": "indexer", "position": 50,
	})

	rr := doLocal(t, h, http.MethodPost, "/api/cursors", map[string]any{
		"stream": "events", "checkpoint": "indexer", "position": 49,
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		Error     string `json:"error"`
		Stored    uint64 `json:"stored"`
		Requested uint64 `json:"requested"`
	}
	decodeBody(t, rr, &resp)
	if resp.Error != "cursor_regression" || resp.Stored != 50 || resp.Requested != 49 {
		t.Fatalf("unexpected body: %+v", resp)
	}

	// Stored position untouched.
	rr = doLocal(t, h, http.MethodGet, "/api/cursors?stream=events&checkpoint=indexer", nil)
	var read struct {
		Position uint64 `json:"position"`
	}
	decodeBody(t, rr, &read)
	if read.Position != 50 {
		t.Fatalf("regression moved the cursor to %d", read.Position)
	}
}

func TestCursorValidation(t *testing.T) {
	_, h := newTestEnv(t)

	rr := doLocal(t, h, http.MethodPost, "/api/cursors", map[string]any{
		"checkpoint": "indexer", "position": 1,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing stream: %d", rr.Code)
	}

	rr = doLocal(t, h, http.MethodGet, "/api/cursors?stream=events", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing checkpoint on read: %d", rr.Code)
	}
}
