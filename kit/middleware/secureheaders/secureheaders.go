package secureheaders

import "net/http"

// see https://owasp.org/www-project-secure-headers/ci/headers_add.json
// The docs server renders trusted local markdown only, so inline styles from
// rendered HTML are allowed but nothing is loaded from other origins.
var defaultHeaders = map[string]string{
	"Content-Security-Policy":    "default-src 'self'; style-src 'self' 'unsafe-inline'; frame-ancestors 'none'",
	"Cross-Origin-Opener-Policy": "same-origin",
	"Referrer-Policy":            "no-referrer",
	"X-Content-Type-Options":     "nosniff",
	"X-Frame-Options":            "deny",
}

// Middleware sets the default security headers on every response.
func Middleware(next http.Handler) http.Handler {
	return With(nil)(next)
}

// With returns a middleware that sets the default headers overlaid with
// extra. An empty value in extra removes that default.
func With(extra map[string]string) func(http.Handler) http.Handler {
	headers := make(map[string]string, len(defaultHeaders)+len(extra))
	for k, v := range defaultHeaders {
		headers[k] = v
	}
	for k, v := range extra {
		if v == "" {
			delete(headers, k)
			continue
		}
		headers[k] = v
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for header, value := range headers {
				w.Header().Set(header, value)
			}
			w.Header().Del("Server")
			w.Header().Del("X-Powered-By")
			next.ServeHTTP(w, r)
		})
	}
}
