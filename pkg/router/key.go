package router

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key generates the deterministic request key for a method and URL.
// Format: req:METHOD:/path:query1=val1:query2=val2 with query parameters
// sorted for determinism. Only GET responses are ever cached, so the body
// never participates in the key.
//
// Example:
//
//	req:GET:/api/search:q=sunset
func Key(method string, u *url.URL) string {
	parts := []string{"req", strings.ToUpper(method), u.Path}

	query := u.Query()
	if len(query) > 0 {
		queryKeys := make([]string, 0, len(query))
		for key := range query {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)

		for _, key := range queryKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, query.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
