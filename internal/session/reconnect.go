package session

import (
	"github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"collaboration-client/internal/notify"
)

// superviseReconnect redials a document session that closed without an
// explicit Disconnect. Waits grow exponentially between attempts; a
// successful reconnect re-syncs the cached document version before the
// caller sees the session as live again.
func (r *Registry) superviseReconnect(documentID string) {
	bo := backoff.NewExponentialBackOff()
	if r.cfg.ReconnectMaxElapsed > 0 {
		bo.MaxElapsedTime = r.cfg.ReconnectMaxElapsed
	}

	r.logger.Info("supervising reconnect",
		zap.String("document_id", documentID))

	attempt := func() error {
		return r.Connect(r.ctx, documentID)
	}

	if err := backoff.Retry(attempt, backoff.WithContext(bo, r.ctx)); err != nil {
		r.setError(err)
		r.logger.Warn("reconnect abandoned",
			zap.String("document_id", documentID),
			zap.Error(err))
		r.notifier.Notify(notify.Notification{
			Level:   notify.LevelError,
			Message: "Lost connection to document " + documentID,
		})
		return
	}

	r.metrics.Reconnected()
	r.logger.Info("reconnected to document",
		zap.String("document_id", documentID))
	r.notifier.Notify(notify.Notification{
		Level:   notify.LevelInfo,
		Message: "Reconnected to document " + documentID,
	})
}
