package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"collaboration-client/internal/journal"
	"collaboration-client/internal/notify"
	"collaboration-client/internal/rest"
	"collaboration-client/pkg/op"
)

// OperationRecord is one entry of the ever-growing per-document operation
// history. Records are appended when the durable REST path acknowledges an
// operation and when the server pushes an operation_result frame.
type OperationRecord struct {
	ID         string          `json:"id"`
	DocumentID string          `json:"document_id"`
	Operation  op.Operation    `json:"operation,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
}

// sender is the registry's send primitive, enough for the components that
// multiplex messages over an existing document connection.
type sender interface {
	Send(documentID string, message interface{}) error
}

// OpLog represents local edits as operations, propagates them over the dual
// WebSocket+REST path, and keeps the acknowledged history.
//
// The two paths carry no cross-ordering guarantee: the REST result is
// authoritative, the live broadcast is a soft heads-up that may arrive
// before or after it.
type OpLog struct {
	api       *rest.Client
	sender    sender
	journal   *journal.Journal
	notifier  notify.Notifier
	errSink   func(error)
	onApplied func(documentID string, operation op.Operation)
	logger    *zap.Logger

	mu       sync.RWMutex
	history  map[string][]OperationRecord
	versions map[string]int
}

// NewOpLog creates the operation log. journal may be nil for memory-only
// history; errSink receives REST failures for global error surfacing;
// onApplied, when set, observes every durably acknowledged operation.
func NewOpLog(api *rest.Client, s sender, j *journal.Journal, n notify.Notifier, errSink func(error), onApplied func(string, op.Operation), logger *zap.Logger) *OpLog {
	return &OpLog{
		api:       api,
		sender:    s,
		journal:   j,
		notifier:  n,
		errSink:   errSink,
		onApplied: onApplied,
		logger:    logger,
		history:   make(map[string][]OperationRecord),
		versions:  make(map[string]int),
	}
}

// SetVersion records the last known server version for a document. The
// registry calls this after every document fetch.
func (l *OpLog) SetVersion(documentID string, version int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.versions[documentID] = version
}

// Version returns the last known server version for a document.
func (l *OpLog) Version(documentID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.versions[documentID]
}

// InsertText creates an insert operation against the document's last known
// version, fans it out live over the WebSocket, and persists it via REST.
func (l *OpLog) InsertText(ctx context.Context, documentID string, position int, content string) (json.RawMessage, error) {
	operation := op.NewInsert(position, content, l.Version(documentID))
	l.broadcast(documentID, operation)
	return l.ApplyOperation(ctx, documentID, operation)
}

// DeleteText creates a delete operation against the document's last known
// version, fans it out live over the WebSocket, and persists it via REST.
func (l *OpLog) DeleteText(ctx context.Context, documentID string, position, length int) (json.RawMessage, error) {
	operation := op.NewDelete(position, length, l.Version(documentID))
	l.broadcast(documentID, operation)
	return l.ApplyOperation(ctx, documentID, operation)
}

// broadcast fires the live operation message. Best effort: a dead socket
// only downgrades the edit to REST-only delivery.
func (l *OpLog) broadcast(documentID string, operation op.Operation) {
	msg := operationMessage{Type: msgOperation, Operation: operation}
	if err := l.sender.Send(documentID, msg); err != nil {
		l.logger.Debug("live operation broadcast skipped",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}

// ApplyOperation durably persists an operation and appends the acknowledged
// record to the history. The server's result payload is authoritative.
func (l *OpLog) ApplyOperation(ctx context.Context, documentID string, operation op.Operation) (json.RawMessage, error) {
	result, err := l.api.ApplyOperation(ctx, documentID, operation)
	if err != nil {
		l.errSink(err)
		l.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Failed to apply operation: " + err.Error(),
		})
		return nil, err
	}

	l.append(OperationRecord{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Operation:  operation,
		Result:     result,
		Timestamp:  time.Now().UTC(),
	})
	if l.onApplied != nil {
		l.onApplied(documentID, operation)
	}
	return result, nil
}

// handleResult appends a history record for a pushed operation_result frame.
// It does not touch the cached document version; version refresh happens on
// demand through the registry's document fetch.
func (l *OpLog) handleResult(documentID string, msg operationResultMessage) {
	ts := time.Now().UTC()
	if msg.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, msg.Timestamp); err == nil {
			ts = parsed
		}
	}

	l.append(OperationRecord{
		ID:         uuid.New().String(),
		DocumentID: documentID,
		Result:     msg.Result,
		Timestamp:  ts,
	})
}

// append stores a record in memory and, when a journal is attached, on disk.
func (l *OpLog) append(record OperationRecord) {
	l.mu.Lock()
	l.history[record.DocumentID] = append(l.history[record.DocumentID], record)
	l.mu.Unlock()

	if l.journal != nil {
		data, err := json.Marshal(record)
		if err == nil {
			err = l.journal.Append(record.DocumentID, data)
		}
		if err != nil {
			l.logger.Warn("journal append failed",
				zap.String("document_id", record.DocumentID),
				zap.Error(err))
		}
	}
}

// History returns a copy of the acknowledged operation history for a
// document, oldest first.
func (l *OpLog) History(documentID string) []OperationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	records := make([]OperationRecord, len(l.history[documentID]))
	copy(records, l.history[documentID])
	return records
}
