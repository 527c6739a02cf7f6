package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/li88iioo/photonix-edge-cache/pkg/syncqueue"
)

// ReplayPayload is the offline queue payload for a deferred mutating
// request. Body is base64-encoded by encoding/json.
type ReplayPayload struct {
	Method string      `json:"method"`
	URL    string      `json:"url"`
	Header http.Header `json:"header,omitempty"`
	Body   []byte      `json:"body,omitempty"`
}

// NewReplayer returns the syncqueue.Replayer that re-issues queued requests
// against the origin. Only an unambiguous 2xx counts as applied; anything
// else leaves the entry queued.
func NewReplayer(client *http.Client, origin *url.URL, logger zerolog.Logger) syncqueue.Replayer {
	return syncqueue.ReplayFunc(func(ctx context.Context, queued syncqueue.QueuedRequest) error {
		var payload ReplayPayload
		if err := json.Unmarshal(queued.Payload, &payload); err != nil {
			return fmt.Errorf("decode replay payload: %w", err)
		}

		target, err := url.Parse(payload.URL)
		if err != nil {
			return fmt.Errorf("parse replay url: %w", err)
		}
		target.Scheme = origin.Scheme
		target.Host = origin.Host

		req, err := http.NewRequestWithContext(ctx, payload.Method, target.String(), bytes.NewReader(payload.Body))
		if err != nil {
			return fmt.Errorf("build replay request: %w", err)
		}
		for name, values := range payload.Header {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("replay request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("replay got status %d", resp.StatusCode)
		}

		logger.Debug().
			Uint64("id", queued.ID).
			Str("kind", queued.Kind).
			Int("status", resp.StatusCode).
			Msg("Replay applied")
		return nil
	})
}
