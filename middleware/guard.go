package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	passcode "github.com/avelldahl/passcode"
)

// DefaultCookieName is an exported constant or variable used by the authentication engine.
const DefaultCookieName = "passcode_session"

// GuardConfig defines a public type used by passcode APIs.
//
// GuardConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type GuardConfig struct {
	LoginPath  string
	CookieName string
	NextParam  string
}

type authResultContextKey struct{}

// IdentityFromContext returns the authenticated identity attached by
// [RequireAuthenticated], or false when the request was not guarded.
func IdentityFromContext(ctx context.Context) (*passcode.AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*passcode.AuthResult)
	return res, ok
}

// RequireAuthenticated guards an HTTP route. An unauthenticated request is
// redirected to the login page with the original URL carried in the next
// parameter so the flow can resume where it started.
func RequireAuthenticated(engine *passcode.Engine, cfg GuardConfig) func(http.Handler) http.Handler {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/login"
	}
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.NextParam == "" {
		cfg.NextParam = "next"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				redirectToLogin(w, r, cfg)
				return
			}

			token, ok := requestToken(r, cfg.CookieName)
			if !ok {
				redirectToLogin(w, r, cfg)
				return
			}

			res, err := engine.Validate(r.Context(), token)
			if err != nil {
				redirectToLogin(w, r, cfg)
				return
			}

			ctx := context.WithValue(r.Context(), authResultContextKey{}, res)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request, cfg GuardConfig) {
	target := cfg.LoginPath + "?" + cfg.NextParam + "=" + url.QueryEscape(r.URL.RequestURI())
	http.Redirect(w, r, target, http.StatusFound)
}

func requestToken(r *http.Request, cookieName string) (string, bool) {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
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
