package middlewares

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	corsAllowMethods  = "GET,POST,PUT,PATCH,OPTIONS"
	corsAllowHeaders  = "Authorization,Content-Type,X-Request-Id"
	corsExposeHeaders = "ETag,X-Request-Id,Retry-After"
	corsMaxAge        = "600"
)

// CORSPolicy is the browser allow-list built from CORS_ORIGINS. An entry of
// "*" admits any origin; bearer tokens travel in the Authorization header,
// so credentials are never allowed.
type CORSPolicy struct {
	any     bool
	origins map[string]struct{}
}

// NewCORSPolicy normalizes the configured origins. Entries that are not a
// bare scheme://host[:port] are ignored.
func NewCORSPolicy(origins []string) CORSPolicy {
	p := CORSPolicy{origins: make(map[string]struct{}, len(origins))}

	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			p.any = true
			continue
		}
		if n, ok := normalizeOrigin(o); ok {
			p.origins[n] = struct{}{}
		}
	}
	return p
}

// Allows reports whether a request Origin header is on the list.
func (p CORSPolicy) Allows(origin string) bool {
	if origin == "" {
		return false
	}
	if p.any {
		return true
	}
	n, ok := normalizeOrigin(origin)
	if !ok {
		return false
	}
	_, ok = p.origins[n]
	return ok
}

func normalizeOrigin(o string) (string, bool) {
	u, err := url.Parse(strings.TrimSuffix(o, "/"))
	if err != nil || u.Host == "" || (u.Path != "" && u.Path != "/") || u.RawQuery != "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), true
}

// CORSMiddleware applies the policy. Preflights from listed origins are
// answered here; preflights from anywhere else get 403.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	policy := NewCORSPolicy(allowedOrigins)

	return func(ctx *gin.Context) {
		origin := ctx.GetHeader("Origin")
		preflight := ctx.Request.Method == http.MethodOptions &&
			ctx.GetHeader("Access-Control-Request-Method") != ""

		if origin == "" {
			ctx.Next()
			return
		}

		ctx.Writer.Header().Add("Vary", "Origin")

		if !policy.Allows(origin) {
			if preflight {
				ctx.AbortWithStatus(http.StatusForbidden)
				return
			}
			ctx.Next()
			return
		}

		ctx.Header("Access-Control-Allow-Origin", origin)
		ctx.Header("Access-Control-Expose-Headers", corsExposeHeaders)

		if preflight {
			ctx.Writer.Header().Add("Vary", "Access-Control-Request-Method")
			ctx.Header("Access-Control-Allow-Methods", corsAllowMethods)
			ctx.Header("Access-Control-Allow-Headers", corsAllowHeaders)
			ctx.Header("Access-Control-Max-Age", corsMaxAge)
			ctx.AbortWithStatus(http.StatusNoContent)
			return
		}

		ctx.Next()
	}
}
