// Package logsink is a transport that writes messages to a logger instead of
// a chat platform. It backs local runs without a bot token.
package logsink

import (
	"context"
	"strings"

	"github.com/louisbranch/supplyflow/internal/services/notifications/domain"
)

// Sink logs every message it is asked to send.
type Sink struct {
	logf func(string, ...any)
}

var _ domain.Transport = (*Sink)(nil)

// New builds a sink over logf. A nil logf discards messages.
func New(logf func(string, ...any)) *Sink {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Sink{logf: logf}
}

// Send logs the message and always succeeds unless ctx is done.
func (s *Sink) Send(ctx context.Context, recipient string, message domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	actions := make([]string, 0, len(message.Actions))
	for _, action := range message.Actions {
		actions = append(actions, action.CallbackData())
	}
	s.logf("notify %s: %q actions=[%s]", recipient, message.Text, strings.Join(actions, " "))
	return nil
}
