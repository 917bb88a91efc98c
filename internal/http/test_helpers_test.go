package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mistakeknot/tessellate/internal/auth"
	"github.com/mistakeknot/tessellate/internal/storage/sqlite"
)

// newTestEnv builds a service over an in-memory store behind the real router
// and auth middleware. Two API keys are registered so cross-project scoping
// can be exercised; localhost bypass stays on for the common case.
func newTestEnv(t *testing.T) (*Service, http.Handler) {
	t.Helper()
	st, err := sqlite.NewInMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	svc := NewService(st)
	ring := auth.NewKeyring(true, map[string]string{
		"key-a": "proj-a",
		"key-b": "proj-b",
	})
	return svc, NewRouter(svc, nil, auth.Middleware(ring))
}

func encodeBody(t *testing.T, body any) io.Reader {
	t.Helper()
	if body == nil {
		return nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return bytes.NewReader(data)
}

// doLocal issues a request as a localhost caller.
func doLocal(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, encodeBody(t, body))
	req.RemoteAddr = "127.0.0.1:50000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// doKey issues a request as a remote caller with a bearer key.
func doKey(t *testing.T, h http.Handler, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, encodeBody(t, body))
	req.RemoteAddr = "203.0.113.10:50000"
	req.Header.Set("Authorization", "Bearer "+key)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}
