// Package rest implements the HTTP client for the collaboration API. Every
// call is a single request/response round-trip; durability and conflict
// detection live on the server, the client only reports what came back.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"collaboration-client/pkg/op"
)

// Document is the server's view of a collaborative document.
type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedAt time.Time `json:"created_at"`
}

// PresenceState is the canonical presence record returned by the server:
// the caller's own presence plus the full collaborator list. Both payloads
// are application-defined and kept opaque.
type PresenceState struct {
	Presence      json.RawMessage `json:"presence"`
	Collaborators json.RawMessage `json:"collaborators"`
}

// Client talks to the collaboration REST API. A token, when configured, is
// attached to every request.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient creates a REST client rooted at baseURL (no trailing slash).
func NewClient(baseURL, token string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    httpClient,
		logger:  logger,
	}
}

// ApplyOperation durably persists an operation and returns the server's
// authoritative result payload.
func (c *Client) ApplyOperation(ctx context.Context, documentID string, operation op.Operation) (json.RawMessage, error) {
	var out struct {
		Result json.RawMessage `json:"result"`
	}
	path := "/collaboration/documents/" + documentID + "/operations"
	if err := c.do(ctx, http.MethodPost, path, operation, &out); err != nil {
		return nil, errors.Wrapf(err, "applying operation to document %s", documentID)
	}
	return out.Result, nil
}

// GetDocument fetches the current document, including its version.
func (c *Client) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var out struct {
		Data Document `json:"data"`
	}
	path := "/collaboration/documents/" + documentID
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "fetching document %s", documentID)
	}
	return &out.Data, nil
}

// UpdatePresence persists a presence payload and returns the canonical
// presence state for the document.
func (c *Client) UpdatePresence(ctx context.Context, documentID string, presence interface{}) (*PresenceState, error) {
	var out PresenceState
	path := "/collaboration/documents/" + documentID + "/presence"
	if err := c.do(ctx, http.MethodPost, path, presence, &out); err != nil {
		return nil, errors.Wrapf(err, "updating presence for document %s", documentID)
	}
	return &out, nil
}

// GetCollaborators fetches the collaborator list for a document.
func (c *Client) GetCollaborators(ctx context.Context, documentID string) (json.RawMessage, error) {
	var out struct {
		Collaborators json.RawMessage `json:"collaborators"`
	}
	path := "/collaboration/documents/" + documentID + "/collaborators"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, errors.Wrapf(err, "fetching collaborators for document %s", documentID)
	}
	return out.Collaborators, nil
}

// CreateSnapshot asks the server for a point-in-time capture of the document
// and returns the snapshot metadata.
func (c *Client) CreateSnapshot(ctx context.Context, documentID, description string) (json.RawMessage, error) {
	body := map[string]string{"description": description}
	var out struct {
		Snapshot json.RawMessage `json:"snapshot"`
	}
	path := "/collaboration/documents/" + documentID + "/snapshots"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, errors.Wrapf(err, "creating snapshot for document %s", documentID)
	}
	return out.Snapshot, nil
}

// ResolveConflicts submits the colliding operations for server-side
// resolution and returns the resolution payload.
func (c *Client) ResolveConflicts(ctx context.Context, documentID string, conflictingOperations interface{}) (json.RawMessage, error) {
	body := map[string]interface{}{"conflicting_operations": conflictingOperations}
	var out struct {
		Resolution json.RawMessage `json:"resolution"`
	}
	path := "/collaboration/documents/" + documentID + "/conflicts/resolve"
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, errors.Wrapf(err, "resolving conflicts for document %s", documentID)
	}
	return out.Resolution, nil
}

// ActiveSessions lists the sessions currently open on the server.
func (c *Client) ActiveSessions(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		ActiveSessions json.RawMessage `json:"active_sessions"`
	}
	if err := c.do(ctx, http.MethodGet, "/collaboration/sessions/active", nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetching active sessions")
	}
	return out.ActiveSessions, nil
}

// History fetches the collaboration history feed.
func (c *Client) History(ctx context.Context) (json.RawMessage, error) {
	var out struct {
		History json.RawMessage `json:"history"`
	}
	if err := c.do(ctx, http.MethodGet, "/collaboration/history", nil, &out); err != nil {
		return nil, errors.Wrap(err, "fetching collaboration history")
	}
	return out.History, nil
}

// do performs one JSON round-trip against the API.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding request body")
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Warn("API request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return errors.Errorf("%s %s: unexpected status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return errors.Wrapf(err, "decoding %s %s response", method, path)
		}
	}
	return nil
}
