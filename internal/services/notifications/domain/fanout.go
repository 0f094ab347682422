package domain

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/louisbranch/supplyflow/internal/platform/errors"
	"github.com/louisbranch/supplyflow/internal/platform/timeouts"
)

// ErrTransportNotConfigured indicates the fan-out has nothing to send with.
var ErrTransportNotConfigured = errors.New("notification transport is not configured")

// Transport delivers one message to one external recipient.
type Transport interface {
	Send(ctx context.Context, recipient string, message Message) error
}

// Failure records one recipient the message could not reach.
type Failure struct {
	Recipient string
	Err       error
}

// FanOut sends one message to many recipients, each independently.
type FanOut struct {
	transport Transport
	timeout   time.Duration
	logf      func(string, ...any)
}

// NewFanOut builds a fan-out over transport. A zero timeout uses
// timeouts.TransportSend; a nil logf discards logs.
func NewFanOut(transport Transport, timeout time.Duration, logf func(string, ...any)) *FanOut {
	if timeout <= 0 {
		timeout = timeouts.TransportSend
	}
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &FanOut{transport: transport, timeout: timeout, logf: logf}
}

// Send attempts every recipient once, in order, skipping blanks and
// duplicates. A failing recipient never stops the others. Failures are
// logged and returned, never raised; each Failure.Err carries the
// notification-delivery error code and wraps the transport error.
func (f *FanOut) Send(ctx context.Context, recipients []string, message Message) []Failure {
	var failures []Failure
	for _, recipient := range UniqueRecipients(recipients) {
		if err := f.sendOne(ctx, recipient, message); err != nil {
			f.logf("notify %s: %v", recipient, err)
			failures = append(failures, Failure{
				Recipient: recipient,
				Err:       deliveryError(recipient, err),
			})
		}
	}
	return failures
}

func (f *FanOut) sendOne(ctx context.Context, recipient string, message Message) error {
	if f == nil || f.transport == nil {
		return Permanent(ErrTransportNotConfigured)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.transport.Send(sendCtx, recipient, message)
}

func deliveryError(recipient string, cause error) error {
	err := apperrors.Wrap(apperrors.CodeNotificationDelivery, "notification delivery failed: "+cause.Error(), cause)
	err.Metadata = map[string]string{"Recipient": recipient}
	return err
}
