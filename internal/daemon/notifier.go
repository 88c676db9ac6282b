package daemon

import (
	"github.com/AngkinV/Nexus-Chat/internal/bus"
	intsync "github.com/AngkinV/Nexus-Chat/internal/sync"
	"go.uber.org/zap"
)

// Notifier logs notifications and republishes them on the bus for any
// attached front end.
type Notifier struct {
	bus    *bus.Bus
	logger *zap.Logger
}

// NewNotifier creates a bus-backed notifier.
func NewNotifier(b *bus.Bus, logger *zap.Logger) *Notifier {
	return &Notifier{bus: b, logger: logger}
}

// Notify implements sync.Notifier.
func (n *Notifier) Notify(note intsync.Notification) {
	n.logger.Info("new message",
		zap.Int64("chat_id", note.ChatID),
		zap.String("title", note.Title),
		zap.String("body", note.Body),
	)
	n.bus.Publish(bus.NewEvent(bus.NotificationRaised, note))
}
