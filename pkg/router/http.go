package router

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/li88iioo/photonix-edge-cache/pkg/store"
)

// responseToEntry converts an HTTP response to a cache entry. The whole body
// is buffered first and the response body restored for the caller, so an
// entry is either complete or not created at all.
func responseToEntry(resp *http.Response) (*store.Entry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		resp.Body.Close()
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for the caller.
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	return &store.Entry{
		Data:       body,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		StoredAt:   now,
		LastAccess: now,
	}, nil
}

// EntryToResponse converts a cache entry back to an HTTP response. The
// X-Cache header marks it as served from a tier.
func EntryToResponse(entry *store.Entry) *http.Response {
	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("X-Cache", "hit")

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", entry.StatusCode, http.StatusText(entry.StatusCode)),
		StatusCode:    entry.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
	}
}

// synthesizeUnavailable builds the 503 returned when the origin is
// unreachable and no cached copy exists. The X-Served-By marker lets callers
// tell a synthesized response from an origin one.
func synthesizeUnavailable(req *http.Request) *http.Response {
	body := []byte("origin unreachable and no cached copy available\n")
	header := http.Header{}
	header.Set("Content-Type", "text/plain; charset=utf-8")
	header.Set("Retry-After", "30")
	header.Set("X-Served-By", "edge-cache")

	return &http.Response{
		Status:        "503 Service Unavailable",
		StatusCode:    http.StatusServiceUnavailable,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// synthesizeQueued builds the 202 returned when a mutating request was
// deferred to the offline queue instead of failing the caller.
func synthesizeQueued(req *http.Request, id uint64) *http.Response {
	body := []byte(fmt.Sprintf(`{"queued":true,"id":%d}`, id))
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("X-Served-By", "edge-cache")
	header.Set("X-Sync-Queue-Id", strconv.FormatUint(id, 10))

	return &http.Response{
		Status:        "202 Accepted",
		StatusCode:    http.StatusAccepted,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}
