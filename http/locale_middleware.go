package http

import (
	"net/http"
	"strings"

	icontext "github.com/gatehouse-io/gatehouse/context"
)

// LocaleMW stores the client's preferred locale on the request context so
// downstream formatting can honor it. Requests without a usable
// Accept-Language header keep the default locale.
func LocaleMW() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			if locale := preferredLocale(r.Header.Get("Accept-Language")); locale != "" {
				r = r.WithContext(icontext.WithLocale(r.Context(), locale))
			}
			next.ServeHTTP(w, r)
		}
		return http.HandlerFunc(fn)
	}
}

// preferredLocale extracts the first language tag from an Accept-Language
// header, stripping any quality weight. The wildcard carries no preference.
func preferredLocale(header string) string {
	if header == "" {
		return ""
	}
	first, _, _ := strings.Cut(header, ",")
	tag, _, _ := strings.Cut(first, ";")
	tag = strings.TrimSpace(tag)
	if tag == "" || tag == "*" {
		return ""
	}
	return tag
}
