// Package session implements the collaborative document session client: one
// WebSocket connection per open document, a dual WebSocket+REST operation
// path, presence/cursor broadcasting, and conflict/snapshot handling.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"collaboration-client/internal/journal"
	"collaboration-client/internal/notify"
	"collaboration-client/internal/rest"
	"collaboration-client/pkg/op"
)

// Status is the derived global connection status: connected iff at least
// one document has an open socket.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// ErrNoActiveConnection is returned when an operation needs an open
// WebSocket for a document and none exists. It is a result, not a fault:
// callers are expected to handle it without the session tearing down.
var ErrNoActiveConnection = errors.New("no active connection for document")

// Config tunes the session registry.
type Config struct {
	// WSBaseURL is the WebSocket origin, e.g. "wss://host". The per-document
	// path is appended to it.
	WSBaseURL string

	// Token is attached as a bearer Authorization header on the WebSocket
	// handshake. REST calls carry their own copy via the REST client.
	Token string

	MaxMessageSize int64
	WriteTimeout   time.Duration
	ReadTimeout    time.Duration
	PingInterval   time.Duration

	// CursorTTL drops cursor entries not refreshed within the window. Zero
	// disables the sweep and stale entries persist until the session ends.
	CursorTTL time.Duration

	// Reconnect enables supervised redialing with exponential backoff when
	// a socket closes without an explicit Disconnect.
	Reconnect bool

	// ReconnectMaxElapsed caps how long a reconnect supervisor keeps
	// trying. Zero means give up after the backoff default.
	ReconnectMaxElapsed time.Duration
}

// DefaultConfig returns the standard tuning for a registry talking to
// wsBaseURL.
func DefaultConfig(wsBaseURL string) Config {
	return Config{
		WSBaseURL:      wsBaseURL,
		MaxMessageSize: defaultMaxMessageSize,
		WriteTimeout:   defaultWriteWait,
		ReadTimeout:    defaultPongWait,
		PingInterval:   defaultPongWait * 9 / 10,
		CursorTTL:      30 * time.Second,
	}
}

// Registry owns the lifecycle of every document session: it connects and
// disconnects sockets, routes inbound frames to the operation log, presence
// state and conflict manager, and derives the global connection status.
//
// All state hangs off this object; construct independent registries freely
// (tests do) and tear them down with Shutdown.
type Registry struct {
	cfg      Config
	api      *rest.Client
	logger   *zap.Logger
	notifier notify.Notifier
	metrics  *Metrics

	ops       *OpLog
	presence  *Presence
	conflicts *Conflicts

	mu        sync.RWMutex
	conns     map[string]*conn
	documents map[string]rest.Document
	applied   map[string][]op.Operation // local edits since the last refresh
	lastErr   error

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown bool
}

// NewRegistry wires up a registry. j may be nil to keep the operation
// history memory-only; n may be nil to log notifications through logger.
func NewRegistry(cfg Config, api *rest.Client, j *journal.Journal, n notify.Notifier, logger *zap.Logger) *Registry {
	if n == nil {
		n = notify.NewLogger(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		cfg:       cfg,
		api:       api,
		logger:    logger,
		notifier:  n,
		metrics:   NewMetrics(),
		conns:     make(map[string]*conn),
		documents: make(map[string]rest.Document),
		applied:   make(map[string][]op.Operation),
		ctx:       ctx,
		cancel:    cancel,
	}

	r.ops = NewOpLog(api, r, j, n, r.setError, r.projectLocal, logger)
	r.presence = NewPresence(api, r, r.setError, logger)
	r.conflicts = NewConflicts(api, n, r.setError, logger)
	return r
}

// Start launches background maintenance. Safe to skip for registries that
// only exercise the REST paths.
func (r *Registry) Start() {
	if r.cfg.CursorTTL > 0 {
		r.wg.Add(1)
		go r.sweepCursors()
	}
}

// Shutdown disconnects every document session and stops background work.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	r.shutdown = true
	conns := make([]*conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[string]*conn)
	r.mu.Unlock()

	for _, c := range conns {
		c.close(true)
	}
	r.cancel()
	r.wg.Wait()
	r.logger.Info("session registry shut down")
}

// Connect opens the WebSocket session for a document. Connecting an already
// connected document reuses the existing session instead of leaking a
// second socket. On success the cached document and collaborator list are
// refreshed best-effort.
func (r *Registry) Connect(ctx context.Context, documentID string) error {
	r.mu.RLock()
	existing, ok := r.conns[documentID]
	closed := r.shutdown
	r.mu.RUnlock()

	if closed {
		return errors.New("registry is shut down")
	}
	if ok && existing != nil {
		r.logger.Debug("reusing existing connection",
			zap.String("document_id", documentID))
		return nil
	}

	c, err := dialConn(ctx, r.wsURL(documentID), documentID, r.cfg.Token, r.cfg, r.logger)
	if err != nil {
		r.setError(err)
		return err
	}

	r.mu.Lock()
	if winner, ok := r.conns[documentID]; ok && winner != nil {
		// Lost a connect race; keep the first socket.
		r.mu.Unlock()
		c.close(true)
		return nil
	}
	r.conns[documentID] = c
	r.mu.Unlock()

	r.startPumps(c)
	r.logger.Info("connected to document",
		zap.String("document_id", documentID))

	r.refreshAfterConnect(c.ctx, documentID)
	return nil
}

// Disconnect closes the document's session. Unknown documents yield
// ErrNoActiveConnection, never a panic.
func (r *Registry) Disconnect(documentID string) error {
	r.mu.Lock()
	c, ok := r.conns[documentID]
	if ok {
		delete(r.conns, documentID)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNoActiveConnection
	}

	c.close(true)
	r.presence.clear(documentID)
	r.logger.Info("disconnected from document",
		zap.String("document_id", documentID))
	return nil
}

// Status derives the global connection status from the connection map.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.conns) > 0 {
		return StatusConnected
	}
	return StatusDisconnected
}

// Send serializes a message onto the document's socket. Fails closed with
// ErrNoActiveConnection when no open socket exists; nothing is buffered for
// later delivery.
func (r *Registry) Send(documentID string, message interface{}) error {
	r.mu.RLock()
	c, ok := r.conns[documentID]
	r.mu.RUnlock()

	if !ok {
		return ErrNoActiveConnection
	}
	if err := c.send(message); err != nil {
		return err
	}
	r.metrics.MessageSent()
	return nil
}

// Operations exposes the operation log and apply engine.
func (r *Registry) Operations() *OpLog { return r.ops }

// Presence exposes the presence/cursor broadcaster.
func (r *Registry) Presence() *Presence { return r.presence }

// Conflicts exposes the conflict and snapshot manager.
func (r *Registry) Conflicts() *Conflicts { return r.conflicts }

// Metrics exposes the session metrics.
func (r *Registry) Metrics() *Metrics { return r.metrics }

// InsertText edits the document under its session context, so an in-flight
// durable call dies with the session instead of landing after teardown.
func (r *Registry) InsertText(documentID string, position int, content string) (json.RawMessage, error) {
	start := time.Now()
	result, err := r.ops.InsertText(r.sessionContext(documentID), documentID, position, content)
	if err == nil {
		r.metrics.OperationApplied(time.Since(start))
	}
	return result, err
}

// DeleteText edits the document under its session context.
func (r *Registry) DeleteText(documentID string, position, length int) (json.RawMessage, error) {
	start := time.Now()
	result, err := r.ops.DeleteText(r.sessionContext(documentID), documentID, position, length)
	if err == nil {
		r.metrics.OperationApplied(time.Since(start))
	}
	return result, err
}

// UpdateUserPresence publishes an activity payload over both paths.
func (r *Registry) UpdateUserPresence(documentID string, presenceData interface{}) error {
	return r.presence.UpdateUserPresence(r.sessionContext(documentID), documentID, presenceData)
}

// UpdateCursor broadcasts the local cursor position, WebSocket-only.
func (r *Registry) UpdateCursor(documentID string, position int) error {
	return r.presence.UpdateCursor(documentID, position)
}

// RefreshDocument fetches the document, caches it, and records its version
// as the base for subsequent operations.
func (r *Registry) RefreshDocument(ctx context.Context, documentID string) (*rest.Document, error) {
	doc, err := r.api.GetDocument(ctx, documentID)
	if err != nil {
		r.setError(err)
		return nil, err
	}

	r.mu.Lock()
	r.documents[documentID] = *doc
	delete(r.applied, documentID) // the fresh copy already contains them
	r.mu.Unlock()
	r.ops.SetVersion(documentID, doc.Version)
	return doc, nil
}

// Document returns the cached copy of a document, if any.
func (r *Registry) Document(documentID string) (rest.Document, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	doc, ok := r.documents[documentID]
	return doc, ok
}

// ActiveSessions lists sessions currently open on the server.
func (r *Registry) ActiveSessions(ctx context.Context) (json.RawMessage, error) {
	sessions, err := r.api.ActiveSessions(ctx)
	if err != nil {
		r.setError(err)
	}
	return sessions, err
}

// History fetches the server-side collaboration history feed.
func (r *Registry) History(ctx context.Context) (json.RawMessage, error) {
	history, err := r.api.History(ctx)
	if err != nil {
		r.setError(err)
	}
	return history, err
}

// LastError returns the most recent surfaced failure, if any.
func (r *Registry) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// setError records a failure for global surfacing. Failures are contained:
// nothing here is fatal to the process.
func (r *Registry) setError(err error) {
	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
}

// wsURL interpolates the document into the WebSocket path template.
func (r *Registry) wsURL(documentID string) string {
	return r.cfg.WSBaseURL + "/api/collaboration/documents/" + documentID + "/ws"
}

// sessionContext returns the document's connection-scoped context, or the
// registry lifecycle context when the document has no open session.
func (r *Registry) sessionContext(documentID string) context.Context {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.conns[documentID]; ok {
		return c.ctx
	}
	return r.ctx
}

// startPumps launches the read and ping goroutines for a connection and
// arranges close handling when the read loop exits.
func (r *Registry) startPumps(c *conn) {
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		c.pingLoop()
	}()
	go func() {
		defer r.wg.Done()
		c.readLoop(r.dispatch)
		r.handleClosed(c)
	}()
}

// handleClosed removes a dead connection from the map, recomputes status,
// and hands unexpected closures to the reconnect supervisor.
func (r *Registry) handleClosed(c *conn) {
	c.close(c.wasExplicit())

	r.mu.Lock()
	if current, ok := r.conns[c.documentID]; ok && current == c {
		delete(r.conns, c.documentID)
	}
	down := r.shutdown
	r.mu.Unlock()

	r.logger.Info("document session closed",
		zap.String("document_id", c.documentID),
		zap.String("status", string(r.Status())))

	if !down && !c.wasExplicit() && r.cfg.Reconnect {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.superviseReconnect(c.documentID)
		}()
	}
}

// dispatch routes one inbound frame to exactly one handler based on its
// type discriminator. Unrecognized types are logged and dropped.
func (r *Registry) dispatch(documentID string, frame []byte) {
	r.metrics.MessageReceived()

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		r.logger.Warn("dropping unparseable frame",
			zap.String("document_id", documentID),
			zap.Error(err))
		return
	}

	switch env.Type {
	case msgOperation:
		var msg operationMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.logger.Warn("bad operation frame", zap.Error(err))
			return
		}
		r.projectRemote(documentID, msg.Operation)

	case msgOperationResult:
		var msg operationResultMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.logger.Warn("bad operation_result frame", zap.Error(err))
			return
		}
		r.ops.handleResult(documentID, msg)

	case msgPresenceUpdate:
		var msg presenceUpdateMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.logger.Warn("bad presence_update frame", zap.Error(err))
			return
		}
		r.presence.handlePresenceUpdate(documentID, msg)

	case msgCursorUpdate:
		var msg cursorUpdateMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.logger.Warn("bad cursor_update frame", zap.Error(err))
			return
		}
		r.presence.handleCursorUpdate(documentID, msg)

	case msgConflict:
		// The conflict payload is spread across the frame itself.
		r.conflicts.handleConflict(documentID, json.RawMessage(frame))

	case msgError:
		var msg errorMessage
		if err := json.Unmarshal(frame, &msg); err != nil {
			r.logger.Warn("bad error frame", zap.Error(err))
			return
		}
		r.setError(errors.New(msg.Message))
		r.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: msg.Message,
		})

	default:
		r.logger.Debug("dropping unrecognized message type",
			zap.String("document_id", documentID),
			zap.String("type", env.Type))
	}
}

// projectLocal folds a durably acknowledged local operation into the cached
// document copy, so reads stay current between server refreshes.
func (r *Registry) projectLocal(documentID string, operation op.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return
	}

	content, err := operation.Apply(doc.Content)
	if err != nil {
		r.logger.Warn("cached document out of sync with local edit",
			zap.String("document_id", documentID),
			zap.Error(err))
		return
	}

	doc.Content = content
	r.documents[documentID] = doc
	r.applied[documentID] = append(r.applied[documentID], operation)
}

// projectRemote transforms a broadcast operation past the local edits made
// since the last refresh, then folds it into the cached document copy.
// Operations stamped with a newer base version were computed with our edits
// already visible and apply as-is.
func (r *Registry) projectRemote(documentID string, operation op.Operation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.documents[documentID]
	if !ok {
		return
	}

	for _, local := range r.applied[documentID] {
		if local.DocumentVersion >= operation.DocumentVersion {
			_, operation = op.Transform(local, operation)
		}
	}

	content, err := operation.Apply(doc.Content)
	if err != nil {
		r.logger.Warn("cached document out of sync with remote edit",
			zap.String("document_id", documentID),
			zap.Error(err))
		return
	}

	doc.Content = content
	r.documents[documentID] = doc
}

// refreshAfterConnect pulls the document and collaborator list on join.
// Best effort: a failed refresh leaves the session up with stale state the
// caller can re-request.
func (r *Registry) refreshAfterConnect(ctx context.Context, documentID string) {
	if _, err := r.RefreshDocument(ctx, documentID); err != nil {
		r.logger.Warn("initial document refresh failed",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
	if _, err := r.presence.FetchCollaborators(ctx, documentID); err != nil {
		r.logger.Warn("initial collaborator fetch failed",
			zap.String("document_id", documentID),
			zap.Error(err))
	}
}

// sweepCursors periodically drops stale cursor entries.
func (r *Registry) sweepCursors() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.CursorTTL)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.presence.SweepStaleCursors(r.cfg.CursorTTL)
		case <-r.ctx.Done():
			return
		}
	}
}
