package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collaboration-client/internal/notify"
	"collaboration-client/internal/rest"
)

// Conflict is a server-detected collision between concurrently submitted
// operations. The payload describing the colliding operations stays opaque.
type Conflict struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Snapshot is a named, on-demand point-in-time capture of a document.
type Snapshot struct {
	ID          string          `json:"id"`
	DocumentID  string          `json:"document_id"`
	Description string          `json:"description"`
	Metadata    json.RawMessage `json:"metadata"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Conflicts surfaces edit collisions pushed by the server, drives their
// resolution, and manages document snapshots.
type Conflicts struct {
	api      *rest.Client
	notifier notify.Notifier
	errSink  func(error)
	logger   *zap.Logger

	mu        sync.RWMutex
	pending   map[string][]Conflict
	snapshots map[string][]Snapshot
}

// NewConflicts creates the conflict and snapshot manager.
func NewConflicts(api *rest.Client, n notify.Notifier, errSink func(error), logger *zap.Logger) *Conflicts {
	return &Conflicts{
		api:       api,
		notifier:  n,
		errSink:   errSink,
		logger:    logger,
		pending:   make(map[string][]Conflict),
		snapshots: make(map[string][]Snapshot),
	}
}

// handleConflict records a pushed conflict and warns the user. No automatic
// resolution is attempted.
func (c *Conflicts) handleConflict(documentID string, payload json.RawMessage) {
	conflict := Conflict{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}

	c.mu.Lock()
	c.pending[documentID] = append(c.pending[documentID], conflict)
	count := len(c.pending[documentID])
	c.mu.Unlock()

	c.logger.Warn("conflict detected",
		zap.String("document_id", documentID),
		zap.Int("pending", count))
	c.notifier.Notify(notify.Notification{
		Level:   notify.LevelWarning,
		Message: "Concurrent edit conflict detected on document " + documentID,
	})
}

// Resolve submits the colliding operations for server-side resolution. On
// success every pending conflict for the document is cleared, however many
// there were; on failure they all stay put.
func (c *Conflicts) Resolve(ctx context.Context, documentID string, conflictingOperations interface{}) (json.RawMessage, error) {
	resolution, err := c.api.ResolveConflicts(ctx, documentID, conflictingOperations)
	if err != nil {
		c.errSink(err)
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Failed to resolve conflicts: " + err.Error(),
		})
		return nil, err
	}

	c.mu.Lock()
	delete(c.pending, documentID)
	c.mu.Unlock()

	c.notifier.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Message: "Conflicts resolved for document " + documentID,
	})
	return resolution, nil
}

// CreateSnapshot captures the document's current state server-side and
// appends the returned metadata to the per-document snapshot list.
func (c *Conflicts) CreateSnapshot(ctx context.Context, documentID, description string) (*Snapshot, error) {
	metadata, err := c.api.CreateSnapshot(ctx, documentID, description)
	if err != nil {
		c.errSink(err)
		c.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Failed to create snapshot: " + err.Error(),
		})
		return nil, err
	}

	snapshot := Snapshot{
		ID:          uuid.New().String(),
		DocumentID:  documentID,
		Description: description,
		Metadata:    metadata,
		Timestamp:   time.Now().UTC(),
	}

	c.mu.Lock()
	c.snapshots[documentID] = append(c.snapshots[documentID], snapshot)
	c.mu.Unlock()

	c.notifier.Notify(notify.Notification{
		Level:   notify.LevelSuccess,
		Message: "Snapshot created for document " + documentID,
	})
	return &snapshot, nil
}

// Pending returns a copy of the unresolved conflicts for a document.
func (c *Conflicts) Pending(documentID string) []Conflict {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Conflict, len(c.pending[documentID]))
	copy(out, c.pending[documentID])
	return out
}

// Snapshots returns a copy of the snapshots taken for a document.
func (c *Conflicts) Snapshots(documentID string) []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, len(c.snapshots[documentID]))
	copy(out, c.snapshots[documentID])
	return out
}
