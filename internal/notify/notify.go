// Package notify abstracts the user-visible notification sink. The session
// layer reports transient successes, warnings and failures here; what the
// surrounding application renders is its own concern.
package notify

import (
	"sync"

	"go.uber.org/zap"
)

// Level classifies a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a single transient, user-visible message.
type Notification struct {
	Level   Level
	Message string
}

// Notifier receives user-visible notifications.
type Notifier interface {
	Notify(n Notification)
}

// Logger routes notifications to a zap logger. It is the default sink when
// no UI is attached.
type Logger struct {
	log *zap.Logger
}

// NewLogger creates a logging notifier.
func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log}
}

// Notify implements Notifier.
func (l *Logger) Notify(n Notification) {
	switch n.Level {
	case LevelWarning:
		l.log.Warn(n.Message, zap.String("notification", string(n.Level)))
	case LevelError:
		l.log.Error(n.Message, zap.String("notification", string(n.Level)))
	default:
		l.log.Info(n.Message, zap.String("notification", string(n.Level)))
	}
}

// Recorder collects notifications in memory. Useful in tests and for UIs
// that poll rather than subscribe.
type Recorder struct {
	mu            sync.Mutex
	notifications []Notification
}

// Notify implements Notifier.
func (r *Recorder) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

// All returns a copy of the notifications recorded so far.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.notifications))
	copy(out, r.notifications)
	return out
}
