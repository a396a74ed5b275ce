package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	accessgate "github.com/arcveil/accessgate"
	"github.com/arcveil/accessgate/policy"
)

type decisionContextKey struct{}

// RequestResolver maps an incoming request to the action and resource to
// authorize. Returning ok=false denies the request without consulting
// the engine.
type RequestResolver func(r *http.Request) (action string, resource policy.Resource, ok bool)

// DecisionFromContext returns the decision attached by [Guard] for
// handlers that want the rule or reason.
func DecisionFromContext(ctx context.Context) (policy.Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(policy.Decision)
	return d, ok
}

// Guard authorizes every request through the engine before it reaches
// the wrapped handler. The bearer token is read from the Authorization
// header, falling back to the named cookie when cookieName is non-empty.
// Denied requests answer 403; missing credentials answer 401. The body
// never explains why.
func Guard(engine *accessgate.Engine, resolve RequestResolver, cookieName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil || resolve == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok && cookieName != "" {
				token, ok = cookieToken(r, cookieName)
			}
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			action, resource, ok := resolve(r)
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := accessgate.WithClientIP(r.Context(), remoteIP(r))
			decision := engine.Authorize(ctx, token, action, resource)
			if !decision.Allow {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx = context.WithValue(ctx, decisionContextKey{}, decision)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func cookieToken(r *http.Request, name string) (string, bool) {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
