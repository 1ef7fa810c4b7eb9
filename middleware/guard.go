package middleware

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	goLinkAuth "github.com/MrEthical07/goLinkAuth"
)

type authResultContextKey struct{}

func AuthResultFromContext(ctx context.Context) (*goLinkAuth.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*goLinkAuth.AuthResult)
	return res, ok && res != nil
}

// RequireSession rejects requests without a live session with 401.
func RequireSession(engine *goLinkAuth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r, ok := authenticate(engine, w, r)
			if !ok {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate validates the bearer token and returns the request carrying
// the AuthResult. On failure it writes the response itself.
func authenticate(engine *goLinkAuth.Engine, w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
	if engine == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return r, false
	}

	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return r, false
	}

	ctx := WithClientMetadata(r)
	res, err := engine.ValidateSession(ctx, token)
	if err != nil {
		if errors.Is(err, goLinkAuth.ErrBackendUnavailable) {
			http.Error(w, "service unavailable", http.StatusServiceUnavailable)
			return r, false
		}
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return r, false
	}

	ctx = context.WithValue(ctx, authResultContextKey{}, res)
	return r.WithContext(ctx), true
}

// WithClientMetadata returns the request context with the remote IP and
// User-Agent attached.
func WithClientMetadata(r *http.Request) context.Context {
	ctx := r.Context()
	if ip := clientIP(r); ip != "" {
		ctx = goLinkAuth.WithClientIP(ctx, ip)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = goLinkAuth.WithUserAgent(ctx, ua)
	}
	return ctx
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
