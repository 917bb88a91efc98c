package auth

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
)

// Mode says how a caller was admitted.
type Mode string

const (
	ModeLocalhost Mode = "localhost"
	ModeAPIKey    Mode = "api_key"
)

// Info is what the middleware learned about the caller. With an API key the
// caller is scoped to one project; localhost callers are unscoped.
type Info struct {
	Mode      Mode
	Project   string
	Localhost bool
}

type contextKey struct{}

// FromContext returns the caller identity stored by Middleware.
func FromContext(ctx context.Context) (Info, bool) {
	v, ok := ctx.Value(contextKey{}).(Info)
	return v, ok
}

// Middleware wraps handlers with the admission check. A nil ring falls back
// to the default development keyring.
func Middleware(ring *Keyring) func(http.Handler) http.Handler {
	if ring == nil {
		ring = defaultKeyring()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := identify(r, ring)
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKey{}, info)))
		})
	}
}

// identify admits loopback callers first when the keyring policy allows it,
// then falls back to the bearer key.
func identify(r *http.Request, ring *Keyring) (Info, bool) {
	if ring.AllowLocalhostWithoutAuth && fromLoopback(r) {
		return Info{Mode: ModeLocalhost, Localhost: true}, true
	}
	key := bearerKey(r.Header.Get("Authorization"))
	if key == "" {
		return Info{}, false
	}
	project, ok := ring.ProjectForKey(key)
	if !ok {
		return Info{}, false
	}
	return Info{Mode: ModeAPIKey, Project: project}, true
}

// bearerKey extracts the credential from an Authorization header; "" means
// the header is absent, empty, or not a bearer scheme.
func bearerKey(header string) string {
	scheme, key, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(key)
}

// fromLoopback reports whether the request originated on this machine. A
// proxied request is judged by its first X-Forwarded-For hop, so a reverse
// proxy in front of the server doesn't make every caller look local.
func fromLoopback(r *http.Request) bool {
	if hop := firstForwardedHop(r.Header.Get("X-Forwarded-For")); hop != "" {
		return loopbackHost(hop)
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	return loopbackHost(strings.TrimSpace(host))
}

func loopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func firstForwardedHop(v string) string {
	hop, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(hop)
}
