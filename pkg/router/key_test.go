package router

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", raw, err)
	}
	return u
}

func TestKey(t *testing.T) {
	tests := []struct {
		name   string
		method string
		url    string
		want   string
	}{
		{
			name:   "path only",
			method: "GET",
			url:    "/api/browse",
			want:   "req:GET:/api/browse",
		},
		{
			name:   "single query parameter",
			method: "GET",
			url:    "/api/search?q=sunset",
			want:   "req:GET:/api/search:q=sunset",
		},
		{
			name:   "query parameters sorted",
			method: "GET",
			url:    "/api/search?sort=date&q=sunset&page=2",
			want:   "req:GET:/api/search:page=2:q=sunset:sort=date",
		},
		{
			name:   "method uppercased",
			method: "get",
			url:    "/photos/a.jpg",
			want:   "req:GET:/photos/a.jpg",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Key(tt.method, mustParse(t, tt.url))
			if got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestKeyDeterministic(t *testing.T) {
	// The same parameters in any order must produce the same key.
	a := Key("GET", mustParse(t, "/api/search?a=1&b=2&c=3"))
	b := Key("GET", mustParse(t, "/api/search?c=3&a=1&b=2"))
	if a != b {
		t.Errorf("keys differ for reordered queries: %q vs %q", a, b)
	}
}

func TestKeyDistinguishesQueries(t *testing.T) {
	a := Key("GET", mustParse(t, "/api/search?q=sunset"))
	b := Key("GET", mustParse(t, "/api/search?q=sunrise"))
	if a == b {
		t.Errorf("different queries produced the same key %q", a)
	}
}
