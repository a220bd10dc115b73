package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"collaboration-client/internal/rest"
)

// Cursor is one user's cursor entry inside a document's presence state.
type Cursor struct {
	Position  int       `json:"position"`
	Timestamp time.Time `json:"timestamp"`
}

// DocumentPresence is the client's view of ephemeral collaborator state for
// one document. Presence and Collaborators are authoritative server
// snapshots replaced wholesale; Cursors is a per-user map merged one entry
// at a time.
type DocumentPresence struct {
	Presence      json.RawMessage
	Collaborators json.RawMessage
	Cursors       map[string]Cursor
}

// Presence publishes and receives ephemeral collaborator state: activity
// payloads over the dual WebSocket+REST path, and cursor positions over the
// WebSocket only.
type Presence struct {
	api     *rest.Client
	sender  sender
	errSink func(error)
	logger  *zap.Logger

	mu   sync.RWMutex
	docs map[string]*DocumentPresence
}

// NewPresence creates the presence broadcaster.
func NewPresence(api *rest.Client, s sender, errSink func(error), logger *zap.Logger) *Presence {
	return &Presence{
		api:     api,
		sender:  s,
		errSink: errSink,
		logger:  logger,
		docs:    make(map[string]*DocumentPresence),
	}
}

// UpdatePresence persists a presence payload via REST and replaces the
// local presence/collaborators record with the server's canonical response.
// Cursor entries survive the replace; they travel on their own path.
func (p *Presence) UpdatePresence(ctx context.Context, documentID string, presenceData interface{}) error {
	state, err := p.api.UpdatePresence(ctx, documentID, presenceData)
	if err != nil {
		p.errSink(err)
		return err
	}

	p.mu.Lock()
	doc := p.doc(documentID)
	doc.Presence = state.Presence
	doc.Collaborators = state.Collaborators
	p.mu.Unlock()
	return nil
}

// UpdateUserPresence fans the activity payload out live over the WebSocket
// and persists it via UpdatePresence, mirroring the operation dual path.
func (p *Presence) UpdateUserPresence(ctx context.Context, documentID string, presenceData interface{}) error {
	msg := presenceMessage{Type: msgPresence, Activity: presenceData}
	if err := p.sender.Send(documentID, msg); err != nil {
		p.logger.Debug("live presence broadcast skipped",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
	return p.UpdatePresence(ctx, documentID, presenceData)
}

// UpdateCursor broadcasts the caller's cursor position. WebSocket-only and
// fire-and-forget: the signal is too frequent and too ephemeral to persist.
// Fails closed when the document has no open connection.
func (p *Presence) UpdateCursor(documentID string, position int) error {
	msg := cursorMessage{
		Type:      msgCursor,
		Position:  position,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	return p.sender.Send(documentID, msg)
}

// FetchCollaborators refreshes the collaborator list via REST, independent
// of any pushed update. Used on initial join.
func (p *Presence) FetchCollaborators(ctx context.Context, documentID string) (json.RawMessage, error) {
	collaborators, err := p.api.GetCollaborators(ctx, documentID)
	if err != nil {
		p.errSink(err)
		return nil, err
	}

	p.mu.Lock()
	p.doc(documentID).Collaborators = collaborators
	p.mu.Unlock()
	return collaborators, nil
}

// handlePresenceUpdate applies a pushed authoritative presence snapshot:
// last writer wins, no field-level merge.
func (p *Presence) handlePresenceUpdate(documentID string, msg presenceUpdateMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc := p.doc(documentID)
	doc.Presence = msg.Presence
	doc.Collaborators = msg.Collaborators
}

// handleCursorUpdate merges a single user's cursor entry, preserving every
// other user's entry and leaving the collaborator list untouched.
func (p *Presence) handleCursorUpdate(documentID string, msg cursorUpdateMessage) {
	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.doc(documentID).Cursors[msg.UserID] = Cursor{
		Position:  msg.Position,
		Timestamp: ts,
	}
}

// Document returns a copy of the presence state for a document.
func (p *Presence) Document(documentID string) DocumentPresence {
	p.mu.RLock()
	defer p.mu.RUnlock()

	doc, ok := p.docs[documentID]
	if !ok {
		return DocumentPresence{Cursors: map[string]Cursor{}}
	}

	cursors := make(map[string]Cursor, len(doc.Cursors))
	for id, cursor := range doc.Cursors {
		cursors[id] = cursor
	}
	return DocumentPresence{
		Presence:      doc.Presence,
		Collaborators: doc.Collaborators,
		Cursors:       cursors,
	}
}

// SweepStaleCursors drops cursor entries that have not been refreshed
// within ttl. Stale entries otherwise persist until the session ends.
func (p *Presence) SweepStaleCursors(ttl time.Duration) {
	cutoff := time.Now().UTC().Add(-ttl)

	p.mu.Lock()
	defer p.mu.Unlock()

	for documentID, doc := range p.docs {
		for userID, cursor := range doc.Cursors {
			if cursor.Timestamp.Before(cutoff) {
				delete(doc.Cursors, userID)
				p.logger.Debug("dropped stale cursor",
					zap.String("document_id", documentID),
					zap.String("user_id", userID))
			}
		}
	}
}

// clear removes all presence state for a document. Called when its session
// ends.
func (p *Presence) clear(documentID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.docs, documentID)
}

// doc returns the mutable per-document record, creating it on first use.
// Caller must hold p.mu.
func (p *Presence) doc(documentID string) *DocumentPresence {
	doc, ok := p.docs[documentID]
	if !ok {
		doc = &DocumentPresence{Cursors: make(map[string]Cursor)}
		p.docs[documentID] = doc
	}
	return doc
}
