package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/graphery/executor/internal/protocol"
)

var allowedHeaders = strings.Join([]string{
	"accept",
	"accept-encoding",
	"authorization",
	"content-type",
	"origin",
	"user-agent",
	"x-requested-with",
}, ", ")

// originMiddleware answers browser clients. The request origin is echoed
// back when it is accepted; a request from any other origin is refused.
// Requests without an Origin header are not browser requests and pass.
func originMiddleware(allowAll bool, accepted []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !allowAll && !originAccepted(origin, accepted) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_ = json.NewEncoder(w).Encode(protocol.NewErrorResponse(fmt.Sprintf("The ORIGIN, %s, is not accepted.", origin)))
			return
		}

		h := w.Header()
		h.Set("Access-Control-Allow-Origin", origin)
		h.Set("Access-Control-Allow-Headers", allowedHeaders)
		h.Add("Vary", "Origin")
		if r.Method == http.MethodOptions {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// originAccepted reports whether origin is accepted. A plain entry matches
// any origin containing it; an entry with glob characters is matched
// against the origin host, e.g. "*.graphery.org".
func originAccepted(origin string, accepted []string) bool {
	host := origin
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		host = u.Hostname()
	}
	for _, a := range accepted {
		switch {
		case a == "":
			continue
		case strings.ContainsAny(a, "*?[{"):
			if ok, err := doublestar.Match(a, host); err == nil && ok {
				return true
			}
		case strings.Contains(origin, a):
			return true
		}
	}
	return false
}
