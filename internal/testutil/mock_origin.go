// Package testutil provides test helpers for simulating a gallery origin server.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
)

// MockResponse represents a canned origin response.
type MockResponse struct {
	StatusCode int
	Body       interface{}
	Headers    map[string]string
}

// MockOrigin is a configurable mock gallery origin for testing.
type MockOrigin struct {
	Server *httptest.Server

	mu           sync.Mutex
	responses    map[string]MockResponse
	handlers     map[string]http.HandlerFunc
	requestCount map[string]int
	lastHeader   http.Header
}

// NewMockOrigin creates a mock origin server with default gallery responses.
func NewMockOrigin() *MockOrigin {
	m := &MockOrigin{
		responses:    make(map[string]MockResponse),
		handlers:     make(map[string]http.HandlerFunc),
		requestCount: make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleRequest))
	return m
}

// Close shuts down the mock server.
func (m *MockOrigin) Close() {
	m.Server.Close()
}

// URL returns the base URL of the mock server.
func (m *MockOrigin) URL() string {
	return m.Server.URL
}

// SetResponse configures a canned response for a specific path.
func (m *MockOrigin) SetResponse(path string, response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[path] = response
}

// SetHandler configures a custom handler for a specific path.
// Handlers take precedence over canned responses.
func (m *MockOrigin) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// RequestCount returns the number of requests received for a path.
func (m *MockOrigin) RequestCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount[path]
}

// LastRequestHeader returns a copy of the headers from the most recent request.
func (m *MockOrigin) LastRequestHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHeader.Clone()
}

// Reset clears all configured responses, handlers and counters.
func (m *MockOrigin) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = make(map[string]MockResponse)
	m.handlers = make(map[string]http.HandlerFunc)
	m.requestCount = make(map[string]int)
	m.lastHeader = nil
}

func (m *MockOrigin) handleRequest(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requestCount[r.URL.Path]++
	m.lastHeader = r.Header.Clone()
	handler, hasHandler := m.handlers[r.URL.Path]
	response, hasResponse := m.responses[r.URL.Path]
	m.mu.Unlock()

	if hasHandler {
		handler(w, r)
		return
	}
	if hasResponse {
		for k, v := range response.Headers {
			w.Header().Set(k, v)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(response.StatusCode)
		if response.Body != nil {
			switch body := response.Body.(type) {
			case []byte:
				w.Write(body)
			case string:
				w.Write([]byte(body))
			default:
				json.NewEncoder(w).Encode(body)
			}
		}
		return
	}

	m.defaultHandler(w, r)
}

// defaultHandler serves minimal gallery responses for common paths.
func (m *MockOrigin) defaultHandler(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/browse":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"albums": []string{"holidays", "family"},
		})
	case "/api/search":
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []string{},
			"query":   r.URL.Query().Get("q"),
		})
	case "/":
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<!doctype html><title>gallery</title>")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
	}
}

// NewJSONResponse creates a canned JSON response.
func NewJSONResponse(statusCode int, body interface{}) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body:       body,
	}
}

// NewThumbnailResponse creates a canned JPEG thumbnail response.
func NewThumbnailResponse(data []byte) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers:    map[string]string{"Content-Type": "image/jpeg"},
	}
}

// NewThumbnailPendingResponse creates the 202 response the origin returns
// while a thumbnail is still being generated.
func NewThumbnailPendingResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusAccepted,
		Body:       map[string]string{"status": "processing"},
	}
}

// NewErrorResponse creates a canned error response with a JSON body.
func NewErrorResponse(statusCode int, message string) MockResponse {
	return MockResponse{
		StatusCode: statusCode,
		Body:       map[string]string{"error": message},
	}
}
